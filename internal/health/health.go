// Package health watches the captured set and connectivity for anomalies a
// user would otherwise only notice as silently missing data.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dexsync/dexsync/internal/broadcast"
)

const (
	// Rule names, stable identifiers used in reports.
	RuleDataLoss           = "data_loss"
	RuleDataReduction      = "significant_data_reduction"
	RuleStaleSync          = "stale_sync"
	RuleAuthenticatedEmpty = "authenticated_empty"

	DefaultTick = 30 * time.Second

	staleSyncThreshold = 10 * time.Minute
	emptyGracePeriod   = 60 * time.Second
	reportWindow       = time.Hour

	maxErrors   = 50
	maxWarnings = 100
)

// Severity of a recorded anomaly.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Anomaly is one recorded rule violation.
type Anomaly struct {
	Rule      string    `json:"rule"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is the numeric snapshot embedded in a report.
type Metrics struct {
	CapturedCount int     `json:"captured_count"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Connected     bool    `json:"connected"`
	TotalErrors   int     `json:"total_errors"`
	TotalWarnings int     `json:"total_warnings"`
}

// Report is the aggregate health view over the last hour.
type Report struct {
	Timestamp       time.Time `json:"timestamp"`
	Metrics         Metrics   `json:"metrics"`
	RecentErrors    []Anomaly `json:"recent_errors"`
	RecentWarnings  []Anomaly `json:"recent_warnings"`
	Status          string    `json:"status"`
	Recommendations []string  `json:"recommendations"`
}

// LastSyncFunc reports the time of the last acknowledged sync, nil when the
// log has never been acknowledged.
type LastSyncFunc func(ctx context.Context) (*time.Time, error)

// Monitor evaluates anomaly rules on every captured-count change and on a
// periodic tick. Recorded anomalies live in bounded ring buffers, newest
// first.
type Monitor struct {
	counts        *broadcast.Broadcaster[int]
	lastSync      LastSyncFunc
	connected     func() bool
	authenticated bool
	tick          time.Duration

	mu        sync.Mutex
	errors    []Anomaly
	warnings  []Anomaly
	prevCount int
	havePrev  bool
	lastCount int
	startedAt time.Time
}

// New creates a monitor over the given signals. counts must be the captured
// set's count broadcaster; connected may be nil when no connectivity monitor
// runs.
func New(counts *broadcast.Broadcaster[int], lastSync LastSyncFunc, connected func() bool, authenticated bool, tick time.Duration) *Monitor {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Monitor{
		counts:        counts,
		lastSync:      lastSync,
		connected:     connected,
		authenticated: authenticated,
		tick:          tick,
		startedAt:     time.Now().UTC(),
	}
}

// Run evaluates rules until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("health monitor started",
		"component", "health",
		"action", "started",
		"tick", m.tick.String(),
	)

	ch, cancel := m.counts.Subscribe()
	defer cancel()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("health monitor stopped",
				"component", "health",
				"action", "stopped",
			)
			return
		case count := <-ch:
			m.ObserveCount(count)
		case <-ticker.C:
			m.evaluateTick(ctx)
		}
	}
}

// ObserveCount applies the count-change rules to a new captured-set size.
func (m *Monitor) ObserveCount(count int) {
	m.mu.Lock()
	prev, have := m.prevCount, m.havePrev
	m.prevCount = count
	m.havePrev = true
	m.lastCount = count
	m.mu.Unlock()

	if !have || count == prev {
		return
	}

	switch {
	case prev > 0 && count == 0:
		m.record(RuleDataLoss, SeverityError,
			fmt.Sprintf("captured set dropped from %d to 0", prev))
	case prev > 5 && count*2 < prev:
		m.record(RuleDataReduction, SeverityWarning,
			fmt.Sprintf("captured set shrank from %d to %d", prev, count))
	}
}

// evaluateTick applies the time-based rules.
func (m *Monitor) evaluateTick(ctx context.Context) {
	if m.lastSync != nil {
		last, err := m.lastSync(ctx)
		if err != nil {
			slog.Warn("last sync read failed",
				"component", "health",
				"action", "tick_failed",
				"error", err,
			)
		} else if last != nil && time.Since(*last) > staleSyncThreshold {
			m.record(RuleStaleSync, SeverityWarning,
				fmt.Sprintf("last sync was %s ago", time.Since(*last).Round(time.Second)))
		}
	}

	m.mu.Lock()
	count := m.lastCount
	uptime := time.Since(m.startedAt)
	m.mu.Unlock()

	if m.authenticated && count == 0 && uptime > emptyGracePeriod {
		m.record(RuleAuthenticatedEmpty, SeverityWarning,
			"authenticated with an empty captured set well after startup")
	}
}

// record stores an anomaly newest first, bounded per severity.
func (m *Monitor) record(rule string, severity Severity, message string) {
	a := Anomaly{
		Rule:      rule,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	if severity == SeverityError {
		m.errors = prepend(m.errors, a, maxErrors)
	} else {
		m.warnings = prepend(m.warnings, a, maxWarnings)
	}
	m.mu.Unlock()

	slog.Warn("health anomaly recorded",
		"component", "health",
		"action", "anomaly",
		"rule", rule,
		"severity", string(severity),
		"message", message,
	)
}

func prepend(buf []Anomaly, a Anomaly, max int) []Anomaly {
	buf = append([]Anomaly{a}, buf...)
	if len(buf) > max {
		buf = buf[:max]
	}
	return buf
}

// Report summarizes the last hour. Any error in the window makes the status
// critical; more than three warnings make it a warning; otherwise healthy.
func (m *Monitor) Report() Report {
	now := time.Now().UTC()
	cutoff := now.Add(-reportWindow)

	m.mu.Lock()
	recentErrors := within(m.errors, cutoff)
	recentWarnings := within(m.warnings, cutoff)
	count := m.lastCount
	uptime := now.Sub(m.startedAt)
	totalErrors := len(m.errors)
	totalWarnings := len(m.warnings)
	m.mu.Unlock()

	status := "healthy"
	switch {
	case len(recentErrors) > 0:
		status = "critical"
	case len(recentWarnings) > 3:
		status = "warning"
	}

	connected := true
	if m.connected != nil {
		connected = m.connected()
	}

	return Report{
		Timestamp: now,
		Metrics: Metrics{
			CapturedCount: count,
			UptimeSeconds: uptime.Seconds(),
			Connected:     connected,
			TotalErrors:   totalErrors,
			TotalWarnings: totalWarnings,
		},
		RecentErrors:    recentErrors,
		RecentWarnings:  recentWarnings,
		Status:          status,
		Recommendations: recommendations(recentErrors, recentWarnings, connected),
	}
}

func within(buf []Anomaly, cutoff time.Time) []Anomaly {
	out := make([]Anomaly, 0, len(buf))
	for _, a := range buf {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func recommendations(errors, warnings []Anomaly, connected bool) []string {
	seen := make(map[string]struct{})
	var recs []string
	add := func(rule, text string) {
		if _, ok := seen[rule]; ok {
			return
		}
		seen[rule] = struct{}{}
		recs = append(recs, text)
	}

	for _, a := range errors {
		if a.Rule == RuleDataLoss {
			add(RuleDataLoss, "Captured data disappeared; restore from the latest retention backup and check the backend reconcile path.")
		}
	}
	for _, a := range warnings {
		switch a.Rule {
		case RuleDataReduction:
			add(RuleDataReduction, "The captured set shrank sharply; verify the last reconcile against the backend before trusting local state.")
		case RuleStaleSync:
			add(RuleStaleSync, "The backend has not acknowledged captures recently; check connectivity and backend scheduler status.")
		case RuleAuthenticatedEmpty:
			add(RuleAuthenticatedEmpty, "Authenticated but no captures loaded; a reconcile against the backend may be needed.")
		}
	}
	if !connected {
		add("connectivity", "Backend is unreachable; captures queue locally until connectivity returns.")
	}
	return recs
}
