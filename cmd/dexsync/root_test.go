package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dexsync/dexsync/internal/pullsync"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	return buf.String(), err
}

func TestCommandTreeIsWired(t *testing.T) {
	groups := map[string][]string{
		"sync":      {"all", "recent", "background", "complete-state", "status"},
		"scheduler": {"start", "stop", "set-interval", "status"},
		"clients":   {"register", "unregister", "list", "cleanup-inactive"},
		"admin":     {"reset-database", "database-status", "clear-test-data"},
	}

	for name, subs := range groups {
		group, _, err := rootCmd.Find([]string{name})
		if err != nil || group.Name() != name {
			t.Fatalf("command group %q missing: %v", name, err)
		}
		for _, sub := range subs {
			if c, _, err := group.Find([]string{sub}); err != nil || c.Name() != sub {
				t.Errorf("subcommand %q %q missing: %v", name, sub, err)
			}
		}
	}

	if c, _, err := rootCmd.Find([]string{"diag"}); err != nil || c.Name() != "diag" {
		t.Errorf("diag command missing: %v", err)
	}
}

func TestSetInterval_RejectsOutOfBoundsLocally(t *testing.T) {
	_, err := execute(t, "scheduler", "set-interval", "2")
	if !errors.Is(err, pullsync.ErrInvalidInterval) {
		t.Errorf("err = %v, want ErrInvalidInterval", err)
	}

	_, err = execute(t, "scheduler", "set-interval", "oops")
	if err == nil {
		t.Error("non-numeric interval accepted")
	}
}

func TestSyncAll_RejectsBadSince(t *testing.T) {
	_, err := execute(t, "sync", "all", "--since", "yesterday")
	if err == nil {
		t.Error("invalid --since accepted")
	}
	syncSince = ""
}
