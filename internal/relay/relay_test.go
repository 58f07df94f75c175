package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/storage"
	"worksrelay/internal/works"
	logx "worksrelay/pkg/logx"
)

type fakeSender struct {
	resp    works.Response
	err     error
	targets []string // handed out one per Send; "fallback" once exhausted

	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) Send(_ context.Context, userID, text string) (works.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID+"|"+text)
	target := "fallback"
	if len(f.targets) > 0 {
		target, f.targets = f.targets[0], f.targets[1:]
	}
	return works.Delivery{Target: target, Response: f.resp}, f.err
}

type memStore struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}
func (m *memStore) RecentAudit(context.Context, storage.AuditQuery) ([]storage.AuditEntry, error) {
	return nil, nil
}
func (m *memStore) PutDedup(context.Context, string, time.Time) error { return nil }
func (m *memStore) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (m *memStore) Close() error { return nil }

func TestSendRecordsSuccess(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{resp: works.Response{"ok": true}}
	store := &memStore{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(sender, store, bus, logx.Nop())
	res, err := svc.Send(context.Background(), storage.SourceAPI, "caller", "hello")
	require.NoError(t, err)
	require.Equal(t, "fallback", res.Target)
	require.Equal(t, works.Response{"ok": true}, res.Response)
	require.Equal(t, []string{"caller|hello"}, sender.calls)

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	require.Equal(t, res.ID, e.ID)
	require.Equal(t, "caller", e.RequestedID)
	require.Equal(t, "fallback", e.TargetID)
	require.Equal(t, 5, e.TextLen)
	require.True(t, e.OK)

	ev := <-events
	require.Equal(t, eventbus.TypeRelaySent, ev.Type)
}

func TestSendAuditsTargetTheSenderUsed(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sender := &fakeSender{targets: []string{"fallback", "after-reload"}}
	svc := New(sender, store, nil, logx.Nop())

	for _, text := range []string{"one", "two"} {
		_, err := svc.Send(context.Background(), storage.SourceAPI, "caller", text)
		require.NoError(t, err)
	}
	res, err := svc.Send(context.Background(), storage.SourceAPI, "caller", "three")
	require.NoError(t, err)
	require.Equal(t, "fallback", res.Target)

	require.Len(t, store.entries, 3)
	require.Equal(t, "fallback", store.entries[0].TargetID)
	require.Equal(t, "after-reload", store.entries[1].TargetID)
}

func TestSendRecordsFailureStatus(t *testing.T) {
	t.Parallel()
	sendErr := &works.DeliveryError{Status: 403, Body: "forbidden"}
	store := &memStore{}
	svc := New(&fakeSender{err: sendErr}, store, nil, logx.Nop())

	_, err := svc.Send(context.Background(), storage.SourceReminder, "", "x")
	require.True(t, errors.Is(err, error(sendErr)))
	require.Len(t, store.entries, 1)
	require.Equal(t, "fallback", store.entries[0].TargetID)
	require.False(t, store.entries[0].OK)
	require.Equal(t, 403, store.entries[0].Status)
	require.Contains(t, store.entries[0].Error, "works delivery failed")
}

func TestSendWithoutStore(t *testing.T) {
	t.Parallel()
	svc := New(&fakeSender{err: &works.AuthError{Status: 401}}, nil, nil, logx.Logger{})
	_, err := svc.Send(context.Background(), storage.SourceAPI, "", "x")
	var ae *works.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, 401, statusOf(err))
}
