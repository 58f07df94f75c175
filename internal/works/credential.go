package works

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credential is one issued access token.
type Credential struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the token may still be presented at now.
// ExpiresAt already has SafetyMargin subtracted.
func (c Credential) ValidAt(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// OAuth2 converts the credential for use with golang.org/x/oauth2 helpers.
func (c Credential) OAuth2() *oauth2.Token {
	return &oauth2.Token{AccessToken: c.Token, TokenType: c.TokenType, Expiry: c.ExpiresAt}
}

// CredentialCache is a single-slot store for the current Credential.
//
// Implementations only guard their own memory: two callers that both miss
// may both fetch, and the last Set wins.
type CredentialCache interface {
	Get(ctx context.Context) (Credential, bool, error)
	Set(ctx context.Context, c Credential) error
	// Valid reports whether a credential valid at now is cached.
	Valid(ctx context.Context, now time.Time) bool
	Clear(ctx context.Context) error
}

// MemoryCache keeps the slot in process memory. Each instance owns its own slot.
type MemoryCache struct {
	mu   sync.RWMutex
	cred Credential
	set  bool
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (m *MemoryCache) Get(context.Context) (Credential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred, m.set, nil
}

func (m *MemoryCache) Set(_ context.Context, c Credential) error {
	m.mu.Lock()
	m.cred = c
	m.set = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Valid(ctx context.Context, now time.Time) bool {
	c, ok, _ := m.Get(ctx)
	return ok && c.ValidAt(now)
}

func (m *MemoryCache) Clear(context.Context) error {
	m.mu.Lock()
	m.cred = Credential{}
	m.set = false
	m.mu.Unlock()
	return nil
}
