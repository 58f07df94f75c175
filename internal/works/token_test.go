package works

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newTokenServer(t *testing.T, status int, body func(n int32) string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body(n)))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAccessTokenReusesCachedCredential(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, http.StatusOK, func(n int32) string {
		return fmt.Sprintf(`{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`, n)
	})
	clock := newClock()
	p := NewTokenProvider(testConfig(writeKey(t), srv.URL, ""), nil, WithClock(clock.Now), WithHTTPClient(srv.Client()))

	ctx := context.Background()
	first, err := p.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-1", first)

	clock.Advance(3500 * time.Second)
	second, err := p.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, srv.calls.Load())

	// 3540s is the margin-adjusted expiry
	clock.Advance(40 * time.Second)
	third, err := p.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-2", third)
	require.EqualValues(t, 2, srv.calls.Load())
}

func TestAccessTokenExpiryAppliesSafetyMargin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{"number", `{"access_token":"a","expires_in":3600}`, 3540 * time.Second},
		{"string", `{"access_token":"a","expires_in":"86400"}`, 86340 * time.Second},
		{"missing", `{"access_token":"a"}`, 3540 * time.Second},
		{"null", `{"access_token":"a","expires_in":null}`, 3540 * time.Second},
		{"one year", `{"access_token":"a","expires_in":31622400}`, 31622400*time.Second - SafetyMargin},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTokenServer(t, http.StatusOK, func(int32) string { return tt.body })
			clock := newClock()
			cache := NewMemoryCache()
			p := NewTokenProvider(testConfig(writeKey(t), srv.URL, ""), cache, WithClock(clock.Now), WithHTTPClient(srv.Client()))

			_, err := p.AccessToken(context.Background())
			require.NoError(t, err)
			cred, ok, err := cache.Get(context.Background())
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, clock.Now().Add(tt.want), cred.ExpiresAt)
		})
	}
}

func TestAccessTokenSendsJWTBearerGrant(t *testing.T) {
	t.Parallel()
	clock := newClock()
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		_, _ = w.Write([]byte(`{"access_token":"a","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := testConfig(writeKey(t), srv.URL+"/oauth2/v2.0/token", "")
	p := NewTokenProvider(cfg, nil, WithClock(clock.Now), WithHTTPClient(srv.Client()))
	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	require.Equal(t, GrantTypeJWTBearer, form["grant_type"])
	require.Equal(t, "client-1", form["client_id"])
	require.Equal(t, "secret-1", form["client_secret"])
	require.Equal(t, "bot user directory", form["scope"])

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(form["assertion"], claims, func(tok *jwt.Token) (any, error) {
		return &rsaKey(t).PublicKey, nil
	}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, tok.Valid)
	require.Equal(t, "client-1", claims["iss"])
	require.Equal(t, "svc@works", claims["sub"])
	require.Equal(t, cfg.TokenURL, claims["aud"])
	require.EqualValues(t, clock.Now().Unix(), claims["iat"])
	require.EqualValues(t, clock.Now().Add(time.Hour).Unix(), claims["exp"])
}

func TestAccessTokenRejectedLeavesCacheUntouched(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, http.StatusUnauthorized, func(int32) string { return `{"error":"invalid_client"}` })
	cache := NewMemoryCache()
	stale := Credential{Token: "stale", TokenType: "Bearer", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, cache.Set(context.Background(), stale))
	p := NewTokenProvider(testConfig(writeKey(t), srv.URL, ""), cache, WithHTTPClient(srv.Client()))

	_, err := p.AccessToken(context.Background())
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusUnauthorized, ae.Status)
	require.Contains(t, ae.Body, "invalid_client")
	require.Contains(t, err.Error(), "status 401")

	got, ok, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stale, got)
}

func TestAccessTokenKeyProblemsAreConfigErrors(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, http.StatusOK, func(int32) string { return `{"access_token":"a"}` })

	garbage := filepath.Join(t.TempDir(), "garbage.key")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	for _, path := range []string{filepath.Join(t.TempDir(), "missing.key"), garbage} {
		p := NewTokenProvider(testConfig(path, srv.URL, ""), nil, WithHTTPClient(srv.Client()))
		_, err := p.AccessToken(context.Background())
		var ce *ConfigError
		require.ErrorAs(t, err, &ce, path)
		require.Equal(t, "works.private_key_path", ce.Field)
	}
	require.EqualValues(t, 0, srv.calls.Load())
}

func TestAccessTokenMalformedSuccessBody(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`not json`, `{"token_type":"Bearer"}`, `{"access_token":"a","expires_in":"soon"}`} {
		srv := newTokenServer(t, http.StatusOK, func(int32) string { return body })
		p := NewTokenProvider(testConfig(writeKey(t), srv.URL, ""), nil, WithHTTPClient(srv.Client()))
		_, err := p.AccessToken(context.Background())
		var ae *AuthError
		require.ErrorAs(t, err, &ae, body)
		require.Equal(t, http.StatusOK, ae.Status)
	}
}

func TestAccessTokenRejectsOutOfRangeExpiry(t *testing.T) {
	t.Parallel()
	for _, exp := range []string{`1e19`, `"9300000000"`, `-5`, `"NaN"`, `"+Inf"`} {
		body := `{"access_token":"a","expires_in":` + exp + `}`
		srv := newTokenServer(t, http.StatusOK, func(int32) string { return body })
		cache := NewMemoryCache()
		p := NewTokenProvider(testConfig(writeKey(t), srv.URL, ""), cache, WithHTTPClient(srv.Client()))

		_, err := p.AccessToken(context.Background())
		var ae *AuthError
		require.ErrorAs(t, err, &ae, exp)
		require.Contains(t, err.Error(), "out of range", exp)
		_, ok, err := cache.Get(context.Background())
		require.NoError(t, err)
		require.False(t, ok, "nothing is cached for %s", exp)
	}
}

func TestAccessTokenTransportFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewTokenProvider(testConfig(writeKey(t), url, ""), nil)
	_, err := p.AccessToken(context.Background())
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	require.Zero(t, ae.Status)
	require.Error(t, errors.Unwrap(err))
}
