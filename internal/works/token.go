package works

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"worksrelay/internal/eventbus"
	logx "worksrelay/pkg/logx"
)

// TokenProvider obtains bearer tokens with the JWT-bearer grant and reuses
// the cached one until its (margin-adjusted) expiry.
type TokenProvider struct {
	cfg   Config
	cache CredentialCache
	deps
}

// NewTokenProvider builds a provider. A nil cache means a fresh MemoryCache.
func NewTokenProvider(cfg Config, cache CredentialCache, opts ...Option) *TokenProvider {
	cfg = cfg.withDefaults()
	if cache == nil {
		cache = NewMemoryCache()
	}
	d := buildDeps(cfg, opts)
	d.log = d.log.With(logx.String("comp", "works.token"))
	return &TokenProvider{cfg: cfg, cache: cache, deps: d}
}

// Cache exposes the credential slot (used for /debug/status and shutdown).
func (p *TokenProvider) Cache() CredentialCache { return p.cache }

// AccessToken returns a token that is valid now, fetching a new one on a miss.
// On failure the cache is left untouched.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	cred, ok, err := p.cache.Get(ctx)
	if err != nil {
		// a broken shared cache degrades to fetching every time
		p.log.Debug("credential cache read failed", logx.Err(err))
	}
	if ok && cred.ValidAt(p.now()) {
		return cred.Token, nil
	}

	cred, err = p.fetch(ctx)
	if err != nil {
		eventbus.Emit(p.bus, eventbus.TypeTokenFailed, err.Error())
		p.log.Debug("token exchange failed", logx.Err(err))
		return "", err
	}
	if err := p.cache.Set(ctx, cred); err != nil {
		p.log.Debug("credential cache write failed", logx.Err(err))
	}
	eventbus.Emit(p.bus, eventbus.TypeTokenRefreshed, cred.ExpiresAt)
	p.log.Info("access token refreshed", logx.Time("expires_at", cred.ExpiresAt))
	return cred.Token, nil
}

func (p *TokenProvider) fetch(ctx context.Context) (Credential, error) {
	key, err := loadPrivateKey(p.cfg.PrivateKeyPath)
	if err != nil {
		return Credential{}, err
	}
	assertion, err := signAssertion(key, p.cfg, p.now())
	if err != nil {
		return Credential{}, err
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeJWTBearer)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("scope", p.cfg.Scopes)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Credential{}, &AuthError{Status: resp.StatusCode, Err: err}
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &AuthError{Status: resp.StatusCode, Body: text}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, &AuthError{Status: resp.StatusCode, Body: text, Err: err}
	}
	if tr.AccessToken == "" {
		return Credential{}, &AuthError{Status: resp.StatusCode, Body: text, Err: fmt.Errorf("response has no access_token")}
	}
	expiresIn := defaultExpiresIn * time.Second
	if tr.ExpiresIn != nil {
		expiresIn = time.Duration(*tr.ExpiresIn) * time.Second
	}

	// Expiry counts from when the response arrived, not from when the request was sent.
	return Credential{
		Token:     tr.AccessToken,
		TokenType: tr.TokenType,
		ExpiresAt: p.now().Add(expiresIn - SafetyMargin),
	}, nil
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	RefreshToken string   `json:"refresh_token"`
	Scope        string   `json:"scope"`
	ExpiresIn    *seconds `json:"expires_in"`
}

// seconds accepts both 86400 and "86400". Values outside [0, maxExpiresIn]
// are rejected so the expiry can never wrap.
type seconds int64

func (s *seconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(str))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	if math.IsNaN(f) || f < 0 || f > maxExpiresIn {
		return fmt.Errorf("expires_in: %s out of range", b)
	}
	*s = seconds(f)
	return nil
}
