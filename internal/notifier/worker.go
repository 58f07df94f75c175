package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/works"
	logx "worksrelay/pkg/logx"
)

// work drains q until it is closed or ctx ends. A nil return tells the
// supervisor not to restart it.
func (s *Service) work(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.send(ctx, j)
		}
	}
}

func (s *Service) send(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !sleep(ctx, retryDelay(cfg, attempt-1)) {
			return
		}
		if lim.Wait(ctx) != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.deliver.Send(sctx, j.n.Source, j.n.UserID, j.n.Text)
		cancel()
		if err == nil {
			s.sent.add(HistoryItem{At: time.Now(), Source: j.n.Source, Text: j.n.Text})
			eventbus.Emit(s.bus, eventbus.TypeNotifierSent, newEvent(j.n, j.key, nil))
			return
		}
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if !retryable(err) {
			break
		}
	}
	eventbus.Emit(s.bus, eventbus.TypeNotifierFailed, newEvent(j.n, j.key, err))
}

// retryable is false for rejections that repeat identically: a bad request,
// an unknown user or bad credentials. 429 and everything else may pass later.
func retryable(err error) bool {
	status := 0
	var de *works.DeliveryError
	var ae *works.AuthError
	switch {
	case errors.As(err, &de):
		status = de.Status
	case errors.As(err, &ae):
		status = ae.Status
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status < 400 || status > 499
}

// retryDelay is the pause before retry n (1-based): base doubled per retry,
// capped, with ±30% jitter.
func retryDelay(cfg Config, n int) time.Duration {
	base, ceil := cfg.RetryBase, cfg.RetryMaxDelay
	if base <= 0 {
		base = defaultRetryBase
	}
	if ceil <= 0 {
		ceil = defaultRetryMaxDelay
	}
	if n > 20 {
		n = 20
	}
	d := base << (n - 1)
	if d <= 0 || d > ceil {
		d = ceil
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, ceil)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newEvent(n Notification, key string, err error) NotificationEvent {
	ev := NotificationEvent{Source: n.Source, UserID: n.UserID, Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

const historyCap = 300

type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) add(it HistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, it)
	if over := len(h.items) - historyCap; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
