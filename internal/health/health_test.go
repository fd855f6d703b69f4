package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dexsync/dexsync/internal/broadcast"
)

func newTestMonitor(authenticated bool) *Monitor {
	return New(broadcast.NewWithValue(0), nil, nil, authenticated, time.Hour)
}

func TestObserveCount_DataLossIsAnError(t *testing.T) {
	m := newTestMonitor(false)

	m.ObserveCount(10)
	m.ObserveCount(0)

	report := m.Report()
	if report.Status != "critical" {
		t.Errorf("status = %q, want critical", report.Status)
	}
	if len(report.RecentErrors) != 1 || report.RecentErrors[0].Rule != RuleDataLoss {
		t.Errorf("errors = %+v", report.RecentErrors)
	}
}

func TestObserveCount_SignificantReduction(t *testing.T) {
	m := newTestMonitor(false)

	m.ObserveCount(10)
	m.ObserveCount(4)

	report := m.Report()
	if len(report.RecentWarnings) != 1 || report.RecentWarnings[0].Rule != RuleDataReduction {
		t.Fatalf("warnings = %+v", report.RecentWarnings)
	}
	if report.Status != "warning" && report.Status != "healthy" {
		t.Errorf("status = %q", report.Status)
	}
}

func TestObserveCount_NoWarningBelowThresholds(t *testing.T) {
	cases := []struct {
		name string
		seq  []int
	}{
		{"small set halved", []int{4, 1}},
		{"exactly half", []int{10, 5}},
		{"growth", []int{2, 20}},
		{"zero to zero", []int{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMonitor(false)
			for _, n := range tc.seq {
				m.ObserveCount(n)
			}
			report := m.Report()
			if len(report.RecentErrors)+len(report.RecentWarnings) != 0 {
				t.Errorf("anomalies = %+v %+v", report.RecentErrors, report.RecentWarnings)
			}
		})
	}
}

func TestObserveCount_FirstObservationRecordsNothing(t *testing.T) {
	m := newTestMonitor(false)
	m.ObserveCount(0)

	report := m.Report()
	if len(report.RecentErrors) != 0 {
		t.Errorf("errors after first observation = %+v", report.RecentErrors)
	}
}

func TestTick_StaleSyncWarning(t *testing.T) {
	stale := time.Now().UTC().Add(-30 * time.Minute)
	m := New(broadcast.NewWithValue(0), func(ctx context.Context) (*time.Time, error) {
		return &stale, nil
	}, nil, false, time.Hour)

	m.evaluateTick(context.Background())

	report := m.Report()
	if len(report.RecentWarnings) != 1 || report.RecentWarnings[0].Rule != RuleStaleSync {
		t.Errorf("warnings = %+v", report.RecentWarnings)
	}
}

func TestTick_FreshSyncIsQuiet(t *testing.T) {
	fresh := time.Now().UTC().Add(-time.Minute)
	m := New(broadcast.NewWithValue(0), func(ctx context.Context) (*time.Time, error) {
		return &fresh, nil
	}, nil, false, time.Hour)

	m.evaluateTick(context.Background())

	if report := m.Report(); len(report.RecentWarnings) != 0 {
		t.Errorf("warnings = %+v", report.RecentWarnings)
	}
}

func TestTick_NeverSyncedIsQuiet(t *testing.T) {
	m := New(broadcast.NewWithValue(0), func(ctx context.Context) (*time.Time, error) {
		return nil, nil
	}, nil, false, time.Hour)

	m.evaluateTick(context.Background())

	if report := m.Report(); len(report.RecentWarnings) != 0 {
		t.Errorf("warnings = %+v", report.RecentWarnings)
	}
}

func TestTick_AuthenticatedEmptyAfterGracePeriod(t *testing.T) {
	m := newTestMonitor(true)
	m.ObserveCount(0)

	// Within the grace period nothing is recorded.
	m.evaluateTick(context.Background())
	if report := m.Report(); len(report.RecentWarnings) != 0 {
		t.Fatalf("warnings during grace period = %+v", report.RecentWarnings)
	}

	m.mu.Lock()
	m.startedAt = time.Now().UTC().Add(-2 * time.Minute)
	m.mu.Unlock()

	m.evaluateTick(context.Background())
	report := m.Report()
	if len(report.RecentWarnings) != 1 || report.RecentWarnings[0].Rule != RuleAuthenticatedEmpty {
		t.Errorf("warnings = %+v", report.RecentWarnings)
	}
}

func TestTick_UnauthenticatedEmptyIsQuiet(t *testing.T) {
	m := newTestMonitor(false)
	m.ObserveCount(0)
	m.mu.Lock()
	m.startedAt = time.Now().UTC().Add(-2 * time.Minute)
	m.mu.Unlock()

	m.evaluateTick(context.Background())
	if report := m.Report(); len(report.RecentWarnings) != 0 {
		t.Errorf("warnings = %+v", report.RecentWarnings)
	}
}

func TestReport_StatusThresholds(t *testing.T) {
	m := newTestMonitor(false)
	if got := m.Report().Status; got != "healthy" {
		t.Errorf("empty monitor status = %q", got)
	}

	// Three warnings stay below the warning threshold.
	for i := 0; i < 3; i++ {
		m.record(RuleStaleSync, SeverityWarning, "stale")
	}
	if got := m.Report().Status; got != "healthy" {
		t.Errorf("status with 3 warnings = %q, want healthy", got)
	}

	m.record(RuleStaleSync, SeverityWarning, "stale")
	if got := m.Report().Status; got != "warning" {
		t.Errorf("status with 4 warnings = %q, want warning", got)
	}

	m.record(RuleDataLoss, SeverityError, "gone")
	if got := m.Report().Status; got != "critical" {
		t.Errorf("status with an error = %q, want critical", got)
	}
}

func TestRingBuffers_BoundedNewestFirst(t *testing.T) {
	m := newTestMonitor(false)

	for i := 0; i < maxWarnings+20; i++ {
		m.record(RuleStaleSync, SeverityWarning, fmt.Sprintf("warning %d", i))
	}
	for i := 0; i < maxErrors+10; i++ {
		m.record(RuleDataLoss, SeverityError, fmt.Sprintf("error %d", i))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.warnings) != maxWarnings {
		t.Errorf("warnings len = %d, want %d", len(m.warnings), maxWarnings)
	}
	if len(m.errors) != maxErrors {
		t.Errorf("errors len = %d, want %d", len(m.errors), maxErrors)
	}
	if m.warnings[0].Message != fmt.Sprintf("warning %d", maxWarnings+19) {
		t.Errorf("newest warning = %q", m.warnings[0].Message)
	}
	if m.errors[0].Message != fmt.Sprintf("error %d", maxErrors+9) {
		t.Errorf("newest error = %q", m.errors[0].Message)
	}
}

func TestReport_IncludesRecommendations(t *testing.T) {
	m := New(broadcast.NewWithValue(0), nil, func() bool { return false }, false, time.Hour)
	m.record(RuleDataLoss, SeverityError, "gone")

	report := m.Report()
	if report.Metrics.Connected {
		t.Error("metrics report connected despite offline signal")
	}
	if len(report.Recommendations) < 2 {
		t.Errorf("recommendations = %v, want data-loss and connectivity entries", report.Recommendations)
	}
}

func TestRun_ConsumesCountBroadcast(t *testing.T) {
	counts := broadcast.NewWithValue(10)
	m := New(counts, nil, nil, false, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// The subscriber is seeded with the current count; wait until the
	// monitor has consumed it so the baseline is 10 before the drop.
	seeded := time.Now().Add(2 * time.Second)
	for time.Now().Before(seeded) {
		if m.Report().Metrics.CapturedCount == 10 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := m.Report().Metrics.CapturedCount; got != 10 {
		t.Fatalf("baseline count = %d, want 10", got)
	}

	counts.Publish(0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Report().RecentErrors) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	report := m.Report()
	if len(report.RecentErrors) != 1 || report.RecentErrors[0].Rule != RuleDataLoss {
		t.Errorf("errors = %+v", report.RecentErrors)
	}
}
