package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/events"
)

// StatusMonitor periodically publishes a system health snapshot on the event
// stream so dashboards update without polling.
type StatusMonitor struct {
	hub    *events.Hub
	system *SystemHandlers
	stop   chan struct{}
	log    zerolog.Logger
}

// NewStatusMonitor creates a stopped monitor.
func NewStatusMonitor(hub *events.Hub, system *SystemHandlers, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		hub:    hub,
		system: system,
		stop:   make(chan struct{}),
		log:    log.With().Str("component", "status_monitor").Logger(),
	}
}

// Start begins publishing snapshots at the given interval.
func (m *StatusMonitor) Start(interval time.Duration) {
	if m.hub == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.publish()
			}
		}
	}()
	m.log.Info().Dur("interval", interval).Msg("Status monitor started")
}

// Stop halts publishing. Safe to call once.
func (m *StatusMonitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *StatusMonitor) publish() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := m.system.Snapshot(ctx)
	m.hub.Publish(events.Event{
		Type: events.SystemStatus,
		Data: map[string]interface{}{
			"status":     snap.Status,
			"goroutines": snap.Goroutines,
			"cpu_pct":    snap.CPUPct,
			"memory_pct": snap.MemoryUsedPct,
			"databases":  snap.Databases,
		},
	})
}
