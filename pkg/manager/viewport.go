package manager

import (
	"context"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/internal/telemetry"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/prefetch"
)

// OnViewportChanged records the new viewport and schedules work around it.
// It never blocks on computation.
//
// Distance hints and queued priorities are recomputed from the new center,
// queued prefetches that fell out of range are cancelled, and the planned
// months are requested: the center as demand, the rest as prefetch. The
// returned Plan describes what was scheduled.
func (m *Manager) OnViewportChanged(ctx context.Context, vp calendar.ViewportState) prefetch.Plan {
	vp = vp.Normalized()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanViewportChanged)
	defer span.End()
	span.SetAttributes(telemetry.Viewport(vp.Center.String(), vp.Direction.String(), vp.Velocity)...)

	if m.closed.Load() {
		return prefetch.Plan{Center: vp.Center}
	}

	m.mu.Lock()
	m.viewport = vp
	m.hasViewport = true
	plan, issued, limited, cancelled := m.scheduleLocked(vp)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordViewportChange(vp.Direction.String())
		m.metrics.RecordPrefetch(issued, len(plan.Skipped), limited)
	}

	span.SetAttributes(telemetry.Targets(len(plan.Prefetch)))
	logger.DebugCtx(ctx, "Viewport changed",
		logger.KeyCenter, vp.Center.String(),
		logger.KeyDirection, vp.Direction.String(),
		logger.KeyVelocity, vp.Velocity,
		logger.KeyTargets, issued,
		"skipped", len(plan.Skipped),
		"rate_limited", limited,
		"cancelled", cancelled)
	return plan
}

// Refresh reschedules the last reported viewport, recomputing months that
// were invalidated. Before the first viewport it does nothing.
func (m *Manager) Refresh(ctx context.Context) (prefetch.Plan, bool) {
	vp, ok := m.Viewport()
	if !ok {
		return prefetch.Plan{}, false
	}
	return m.OnViewportChanged(ctx, vp), true
}

// scheduleLocked applies vp to the cache and the dispatcher. Caller must
// hold m.mu.
func (m *Manager) scheduleLocked(vp calendar.ViewportState) (plan prefetch.Plan, issued, limited, cancelled int) {
	center := vp.Center

	m.store.UpdateDistanceHints(center)
	m.dispatcher.Reprioritize(func(key calendar.MonthKey) int { return key.Distance(center) })

	dropped := m.dispatcher.CancelQueued(func(key calendar.MonthKey, kind compute.RequestKind) bool {
		return kind == compute.KindDemand || m.planner.InRange(vp, key)
	})
	for _, key := range dropped {
		m.publishState(key, m.store.Abandon(key))
	}

	plan = m.planner.Plan(vp, m.store.State)

	m.requestLocked(center, compute.KindDemand)
	for _, target := range plan.Prefetch {
		if m.store.State(target.Key) == calendar.StateLoading {
			continue
		}
		if m.limiter != nil && !m.limiter.Allow() {
			limited++
			continue
		}
		m.requestLocked(target.Key, compute.KindPrefetch)
		issued++
	}
	return plan, issued, limited, len(dropped)
}
