//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// tcgets is the ioctl request that reads terminal attributes on Linux.
const tcgets = 0x5401

// isTerminal checks if the file descriptor is a terminal on Linux
func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, errno := syscall.Syscall6(syscall.SYS_IOCTL, fd, tcgets, uintptr(unsafe.Pointer(&termios)), 0, 0, 0)
	return errno == 0
}
