package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"worksrelay/internal/notifier"
	"worksrelay/internal/reminder"
	"worksrelay/internal/relay"
	"worksrelay/internal/storage"
	"worksrelay/internal/works"
)

type fakeRelay struct {
	res   relay.Result
	err   error
	calls []string
}

func (f *fakeRelay) Send(_ context.Context, source, userID, text string) (relay.Result, error) {
	f.calls = append(f.calls, source+"|"+userID+"|"+text)
	return f.res, f.err
}

type fakeNotifier struct {
	err error
	got []notifier.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.got = append(f.got, n)
	return f.err
}

type fakeReminders struct{ err error }

func (f fakeReminders) RunNow(context.Context, string) error { return f.err }

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func init() { gin.SetMode(gin.TestMode) }

func TestHealth(t *testing.T) {
	t.Parallel()
	r := NewRouter(Deps{Relay: &fakeRelay{}}, nil)
	w, body := do(t, r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"status": "ok"}, body)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestNotifySuccess(t *testing.T) {
	t.Parallel()
	rl := &fakeRelay{res: relay.Result{Response: works.Response{"status": "no response"}}}
	r := NewRouter(Deps{Relay: rl}, nil)

	w, body := do(t, r, http.MethodPost, "/notify", `{"userId":"alice","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "success", body["status"])
	require.Equal(t, map[string]any{"status": "no response"}, body["response"])
	require.Equal(t, []string{"api|alice|hi"}, rl.calls)

	_, _ = do(t, r, http.MethodPost, "/notify", `{"user_id":"bob","message":"yo"}`)
	require.Equal(t, "api|bob|yo", rl.calls[1])
}

func TestNotifyValidation(t *testing.T) {
	t.Parallel()
	rl := &fakeRelay{}
	r := NewRouter(Deps{Relay: rl}, nil)
	for _, body := range []string{`{"userId":"alice"}`, `{"message":null}`, `not json`, ``} {
		w, out := do(t, r, http.MethodPost, "/notify", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		require.NotEmpty(t, out["detail"], body)
	}
	require.Empty(t, rl.calls, "the sender must not be called for invalid requests")
}

func TestNotifyRelaysEmptyMessage(t *testing.T) {
	t.Parallel()
	rl := &fakeRelay{}
	r := NewRouter(Deps{Relay: rl}, nil)
	for _, body := range []string{`{"userId":"alice","message":""}`, `{"userId":"alice","message":"   "}`} {
		w, out := do(t, r, http.MethodPost, "/notify", body)
		require.Equal(t, http.StatusOK, w.Code, body)
		require.Equal(t, "success", out["status"], body)
	}
	require.Equal(t, []string{"api|alice|", "api|alice|   "}, rl.calls)
}

func TestNotifyDeliveryFailureIs500WithDetail(t *testing.T) {
	t.Parallel()
	rl := &fakeRelay{err: &works.DeliveryError{Status: 403, Body: `{"code":"FORBIDDEN"}`}}
	r := NewRouter(Deps{Relay: rl}, nil)

	w, out := do(t, r, http.MethodPost, "/notify", `{"message":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	detail, _ := out["detail"].(string)
	require.Contains(t, detail, "403")
	require.Contains(t, detail, "FORBIDDEN")
}

func TestNotifyAuthFailureIs500(t *testing.T) {
	t.Parallel()
	rl := &fakeRelay{err: &works.AuthError{Status: 401, Body: "invalid_client"}}
	r := NewRouter(Deps{Relay: rl}, nil)
	w, out := do(t, r, http.MethodPost, "/notify", `{"message":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "works auth failed: status 401: invalid_client", out["detail"])
}

func TestTaskCreated(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	r := NewRouter(Deps{Relay: &fakeRelay{}, Notifier: n}, nil)

	w, out := do(t, r, http.MethodPost, "/notify/task-created", `{"title":"Ship it","description":"by friday","userId":"u"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "queued", out["status"])
	require.Equal(t, []notifier.Notification{{Source: "task_created", UserID: "u", Text: "New task created: Ship it\nby friday"}}, n.got)

	_, _ = do(t, r, http.MethodPost, "/notify/task-created", `{"title":"Plain"}`)
	require.Equal(t, "New task created: Plain", n.got[1].Text)

	w, _ = do(t, r, http.MethodPost, "/notify/task-created", `{"description":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskCreatedNotifierErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		code int
	}{
		{notifier.ErrQueueFull, http.StatusTooManyRequests},
		{notifier.ErrDisabled, http.StatusServiceUnavailable},
		{notifier.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		r := NewRouter(Deps{Relay: &fakeRelay{}, Notifier: &fakeNotifier{err: tt.err}}, nil)
		w, _ := do(t, r, http.MethodPost, "/notify/task-created", `{"title":"t"}`)
		require.Equal(t, tt.code, w.Code, tt.err.Error())
	}

	r := NewRouter(Deps{Relay: &fakeRelay{}}, nil)
	w, _ := do(t, r, http.MethodPost, "/notify/task-created", `{"title":"t"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeAudit struct {
	got  []storage.AuditQuery
	rows []storage.AuditEntry
	err  error
}

func (f *fakeAudit) RecentAudit(_ context.Context, q storage.AuditQuery) ([]storage.AuditEntry, error) {
	f.got = append(f.got, q)
	return f.rows, f.err
}

func TestDebugDeliveries(t *testing.T) {
	t.Parallel()
	open := func() DebugConfig { return DebugConfig{Enabled: true} }
	audit := &fakeAudit{rows: []storage.AuditEntry{{ID: "d1", Source: "api", TargetID: "fallback", OK: true}}}
	r := NewRouter(Deps{Relay: &fakeRelay{}, Audit: audit}, open)

	w, out := do(t, r, http.MethodGet, "/debug/deliveries?source=api&target=fallback&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows, ok := out["deliveries"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	require.Equal(t, "d1", rows[0].(map[string]any)["id"])
	require.Equal(t, []storage.AuditQuery{{Source: "api", TargetID: "fallback", Limit: 5}}, audit.got)

	w, _ = do(t, r, http.MethodGet, "/debug/deliveries?limit=lots", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	audit.err = errors.New("db gone")
	w, out = do(t, r, http.MethodGet, "/debug/deliveries", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "db gone", out["detail"])

	r = NewRouter(Deps{Relay: &fakeRelay{}}, open)
	w, _ = do(t, r, http.MethodGet, "/debug/deliveries", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	r = NewRouter(Deps{Relay: &fakeRelay{}, Audit: audit}, nil)
	w, _ = do(t, r, http.MethodGet, "/debug/deliveries", "")
	require.NotEqual(t, http.StatusOK, w.Code, "the debug gate still applies")
}

func TestDebugGate(t *testing.T) {
	t.Parallel()
	cfg := DebugConfig{}
	deps := Deps{
		Relay:     &fakeRelay{},
		Reminders: fakeReminders{err: reminder.ErrUnknown},
		Status:    func() any { return map[string]int{"reminders": 1} },
	}
	r := NewRouter(deps, func() DebugConfig { return cfg })

	w, _ := do(t, r, http.MethodGet, "/debug/status", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	cfg = DebugConfig{Enabled: true, Token: "s3cret"}
	w, _ = do(t, r, http.MethodGet, "/debug/status", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := do(t, r, http.MethodGet, "/debug/status", "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, body["reminders"])

	w, _ = do(t, r, http.MethodGet, "/debug/status?token=s3cret", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodPost, "/debug/reminders/nope?token=s3cret", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodGet, "/debug/pprof/cmdline?token=s3cret", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	r := NewRouter(Deps{Relay: &fakeRelay{}}, nil)
	w, _ := do(t, r, http.MethodGet, "/health", "", HeaderRequestID, "req-42")
	require.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
}
