package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready() = %v, %v; want false, nil", sent, err)
	}
	if WatchdogInterval() != 0 {
		t.Fatal("watchdog must be disabled without WATCHDOG_USEC")
	}
	if err := RunWatchdog(context.Background()); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
}

func TestReadyWritesToSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	if sent, err := Ready(); err != nil || !sent {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Fatalf("got %q", got)
	}
}
