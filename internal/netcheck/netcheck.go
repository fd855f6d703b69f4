// Package netcheck tracks backend reachability from two signals: platform
// online/offline notifications, applied immediately, and a periodic bounded
// probe of the backend health endpoint.
package netcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dexsync/dexsync/internal/broadcast"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Status is a point-in-time connectivity snapshot.
type Status struct {
	Online          bool      `json:"online"`
	ServerReachable bool      `json:"server_reachable"`
	ErrorCount      int       `json:"error_count"`
	LastCheck       time.Time `json:"last_check"`
}

// Connected reports whether both signals agree the backend is usable.
func (s Status) Connected() bool {
	return s.Online && s.ServerReachable
}

// Monitor probes the backend on a fixed interval. Probes never overlap; a
// forced check while one is in flight returns the last snapshot instead of
// starting a second probe. Reachability transitions are published once per
// transition, not once per failed probe.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu         sync.Mutex
	status     Status
	isChecking bool

	// Updates publishes the status after every reachability or online
	// transition. Steady-state probe results are not re-published.
	Updates *broadcast.Broadcaster[Status]
}

// New creates a monitor probing backendURL's health endpoint. Zero values
// fall back to the 30s interval and 3s probe timeout.
func New(backendURL string, interval, probeTimeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	initial := Status{Online: true, ServerReachable: true}
	return &Monitor{
		probeURL: backendURL + "/api/v1/health",
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		status:   initial,
		Updates:  broadcast.NewWithValue(initial),
	}
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetOnline applies a platform online/offline signal immediately, without a
// network round-trip.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.status.Online != online
	m.status.Online = online
	status := m.status
	m.mu.Unlock()

	if changed {
		slog.Info("platform connectivity changed",
			"component", "netcheck",
			"action", "online_changed",
			"online", online,
		)
		m.Updates.Publish(status)
	}
}

// Run probes on the configured interval until ctx is cancelled. One probe
// runs immediately on start.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"component", "netcheck",
		"action", "started",
		"interval", m.interval.String(),
	)

	m.ForceCheck(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped",
				"component", "netcheck",
				"action", "stopped",
			)
			return
		case <-ticker.C:
			m.ForceCheck(ctx)
		}
	}
}

// ForceCheck probes the backend immediately. If a probe is already in
// flight the last snapshot is returned and no second probe starts.
func (m *Monitor) ForceCheck(ctx context.Context) Status {
	m.mu.Lock()
	if m.isChecking {
		status := m.status
		m.mu.Unlock()
		return status
	}
	m.isChecking = true
	m.mu.Unlock()

	reachable := m.probe(ctx)

	m.mu.Lock()
	wasReachable := m.status.ServerReachable
	m.status.ServerReachable = reachable
	m.status.LastCheck = time.Now().UTC()
	if reachable {
		m.status.ErrorCount = 0
	} else {
		m.status.ErrorCount++
	}
	status := m.status
	m.isChecking = false
	m.mu.Unlock()

	if wasReachable != reachable {
		if reachable {
			slog.Info("backend reachable again",
				"component", "netcheck",
				"action", "reachable",
			)
		} else {
			slog.Warn("backend became unreachable",
				"component", "netcheck",
				"action", "unreachable",
			)
		}
		m.Updates.Publish(status)
	}
	return status
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
