package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	logx "worksrelay/pkg/logx"
)

// dedupKey hashes source|user|text. Without a source there is no dedup.
func dedupKey(n Notification) string {
	if n.Source == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Source + "|" + strings.TrimSpace(n.UserID) + "|" + n.Text))
	return fmt.Sprintf("%016x", h.Sum64())
}

// dedupSet maps a key to the end of its suppression window.
type dedupSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupSet() *dedupSet { return &dedupSet{until: map[string]time.Time{}} }

func (d *dedupSet) active(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.until[key]
	return ok && now.Before(u)
}

// remember adopts a window found in storage.
func (d *dedupSet) remember(key string, until time.Time) {
	d.mu.Lock()
	d.until[key] = until
	d.mu.Unlock()
}

// claim opens a window for key unless one is already open. Past max entries
// the windows closing soonest are dropped.
func (d *dedupSet) claim(key string, now time.Time, window time.Duration, max int) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.until[key]; ok && now.Before(u) {
		return u, false
	}
	until := now.Add(window)
	d.until[key] = until

	for k, u := range d.until {
		if !now.Before(u) {
			delete(d.until, k)
		}
	}
	if max > 0 && len(d.until) > max {
		keys := make([]string, 0, len(d.until))
		for k := range d.until {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return d.until[keys[i]].Before(d.until[keys[j]]) })
		for _, k := range keys[:len(keys)-max] {
			delete(d.until, k)
		}
	}
	return until, true
}

type dedupWrite struct {
	key   string
	until time.Time
}

// suppressed reports whether key is inside a window, opening one if not.
// With persistence the store is consulted on a memory miss and new windows
// are written behind.
func (s *Service) suppressed(ctx context.Context, key string, cfg Config, persist chan<- dedupWrite) bool {
	now := time.Now()
	if s.dedup.active(key, now) {
		return true
	}
	if persist != nil {
		lctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(lctx, key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.Err(err))
		} else if ok && now.Before(until) {
			s.dedup.remember(key, until)
			return true
		}
	}

	until, fresh := s.dedup.claim(key, now, cfg.DedupWindow, cfg.DedupMaxEntries)
	if !fresh {
		return true
	}
	if persist != nil {
		select {
		case persist <- dedupWrite{key: key, until: until}:
		default:
			s.log.Debug("dedup write dropped", logx.String("key", key))
		}
	}
	return false
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-ch:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.store.PutDedup(wctx, w.key, w.until); err != nil {
				s.log.Debug("dedup write failed", logx.Err(err))
			}
			cancel()
		}
	}
}
