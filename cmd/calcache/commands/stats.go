package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/internal/cli/output"
	"github.com/marmos91/calcache/pkg/apiclient"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL    string
	outputFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics of a running server",
	Long: `Fetch cache and dispatcher statistics from a running calcache server.

Examples:
  # Show statistics as a table
  calcache stats

  # Query another server as JSON
  calcache stats --server http://cal.internal:8080 -o json`,
	RunE: runStats,
}

func init() {
	for _, c := range []*cobra.Command{statsCmd, invalidateCmd} {
		c.Flags().StringVarP(&serverURL, "server", "s", defaultServerURL, "calcache API address")
		c.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	stats, err := apiclient.New(serverURL).Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	return printResult(cmd, format, stats, statsTable{stats: *stats})
}

// printResult prints table for the table format and data otherwise.
func printResult(cmd *cobra.Command, format output.Format, data any, table output.TableRenderer) error {
	p := output.NewPrinter(cmd.OutOrStdout(), format, false)
	if format == output.FormatTable {
		return p.Print(table)
	}
	return p.Print(data)
}

// statsTable renders engine statistics as a two-column table.
type statsTable struct {
	stats apiclient.Stats
}

func (t statsTable) Headers() []string { return []string{"Metric", "Value"} }

func (t statsTable) Rows() [][]string {
	s := t.stats
	rows := [][]string{
		{"Cached months", fmt.Sprintf("%d / %d", s.Cache.CurrentSize, s.Cache.MaxSize)},
		{"Hits", u64(s.Cache.Hits)},
		{"Misses", u64(s.Cache.Misses)},
		{"Hit rate", output.Percent(s.HitRate)},
		{"Evictions", u64(s.Cache.Evictions)},
		{"Coalesced", u64(s.Cache.InFlightCoalesced)},
		{"Computations", u64(s.Dispatcher.Started)},
		{"Succeeded", u64(s.Dispatcher.Succeeded)},
		{"Failed", u64(s.Dispatcher.Failed)},
		{"Timed out", u64(s.Dispatcher.TimedOut)},
		{"Cancelled", u64(s.Dispatcher.Cancelled)},
		{"Rejected", u64(s.Dispatcher.Rejected)},
		{"Pending", strconv.Itoa(s.Dispatcher.Pending)},
		{"Executing", strconv.Itoa(s.Dispatcher.Executing)},
		{"Abandoned", strconv.Itoa(s.Dispatcher.Abandoned)},
		{"Events dropped", u64(s.EventsDropped)},
	}
	if s.Dispatcher.LastError != "" {
		rows = append(rows, []string{"Last error", fmt.Sprintf("%s (%s)", s.Dispatcher.LastError, s.Dispatcher.LastErrorAt.Format(time.RFC3339))})
	}
	if s.Viewport != nil {
		rows = append(rows, []string{"Viewport", fmt.Sprintf("%s %s x%d", s.Viewport.Center, s.Viewport.Direction, s.Viewport.Velocity)})
	}
	return rows
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
