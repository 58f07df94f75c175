package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertConfig forwards records at or above MinLevel to an operator.
type AlertConfig struct {
	Enabled    bool
	UserID     string
	MinLevel   string
	RatePerSec int
}

// AlertSender delivers one alert text to a messaging user.
type AlertSender interface {
	SendAlert(ctx context.Context, userID, text string) error
}

const (
	alertQueueSize   = 256
	alertSendTimeout = 10 * time.Second
	alertMaxLen      = 2000
	alertFieldMaxLen = 600
	alertStackMaxLen = 900
)

type alert struct{ userID, text string }

// alertSink is a zerolog.LevelWriter that hands records to a background
// sender. It never blocks the logging call.
type alertSink struct {
	queue   chan alert
	dropped atomic.Uint64

	mu       sync.Mutex
	sender   AlertSender
	userID   string
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{queue: make(chan alert, alertQueueSize), sender: sender}
}

func (a *alertSink) setSender(sender AlertSender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

func (a *alertSink) apply(cfg AlertConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userID = strings.TrimSpace(cfg.UserID)
	a.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if !cfg.Enabled {
		return
	}
	if a.userID == "" {
		fmt.Fprintln(os.Stderr, "logx: alerts enabled without logging.alert.user_id")
	}
	if a.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.wg.Add(1)
		go a.run(ctx)
	}
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}

func (a *alertSink) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			a.mu.Lock()
			sender := a.sender
			a.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			// not logged: a failure would feed the sink again
			_ = sender.SendAlert(sctx, it.userID, it.text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	userID, lim, ok := a.userID, a.limiter, a.sender != nil
	pass := level >= a.minLevel && level != zerolog.NoLevel
	a.mu.Unlock()

	if !ok || !pass || userID == "" || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	text := formatAlertJSON(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case a.queue <- alert{userID: userID, text: text}:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// formatAlertJSON turns a JSON record into chat text: "[LEVEL] message"
// then one "- key=value" line per field in key order.
func formatAlertJSON(p []byte) string {
	p = bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return truncate(string(p), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(rec[k])
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", truncate(v, alertStackMaxLen))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(v, alertFieldMaxLen))
	}
	return truncate(b.String(), alertMaxLen)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
