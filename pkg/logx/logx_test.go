package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type chanSender struct{ ch chan string }

func (c *chanSender) SendAlert(_ context.Context, userID, text string) error {
	c.ch <- userID + "|" + text
	return nil
}

func TestFormatAlertJSON(t *testing.T) {
	t.Parallel()
	got := formatAlertJSON([]byte(`{"level":"warn","time":"x","message":"send failed","status":400,"comp":"relay"}` + "\n"))
	want := "[WARN] send failed\n- comp=relay\n- status=400"
	if got != want {
		t.Fatalf("formatAlertJSON = %q, want %q", got, want)
	}

	raw := formatAlertJSON([]byte("  plain text line \n"))
	if raw != "plain text line" {
		t.Fatalf("non-JSON line = %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAlertSinkForwardsOnlyAboveMinLevel(t *testing.T) {
	sender := &chanSender{ch: make(chan string, 4)}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "relay.log")},
		Alert: AlertConfig{Enabled: true, UserID: "ops", MinLevel: "warn", RatePerSec: 100},
	}, sender)
	defer svc.Close()

	log.Info("routine")
	log.Warn("token exchange rejected", String("status", "401"))

	select {
	case got := <-sender.ch:
		if !strings.HasPrefix(got, "ops|[WARN] token exchange rejected") {
			t.Fatalf("alert = %q", got)
		}
		if !strings.Contains(got, "status=401") {
			t.Fatalf("alert missing field: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}

	select {
	case extra := <-sender.ch:
		t.Fatalf("unexpected alert %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAlertSinkWithoutSenderIsSilent(t *testing.T) {
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "relay.log")},
		Alert: AlertConfig{Enabled: true, UserID: "ops"},
	}, nil)
	defer svc.Close()

	log.Error("boom")
	if svc.AlertsDropped() != 0 {
		t.Fatalf("dropped = %d, want 0", svc.AlertsDropped())
	}
}

func TestLoggerZeroValueIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger must report IsZero")
	}
	l.With(String("k", "v")).Info("nothing")
	if Nop().IsZero() {
		t.Fatal("Nop must not be zero")
	}
}

func TestApplyRetargetsDerivedLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	svc, root := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	defer svc.Close()
	log := root.With(String("comp", "relay"))

	log.Debug("hidden")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("shown")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record written at info level: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) || !strings.Contains(out, `"comp":"relay"`) {
		t.Fatalf("missing record after Apply: %s", out)
	}
	if !strings.Contains(out, `"caller":"logx_test.go:`) {
		t.Fatalf("caller should point at the call site: %s", out)
	}
}
