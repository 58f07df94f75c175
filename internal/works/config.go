package works

import (
	"net/http"
	"strings"
	"time"

	"worksrelay/internal/config"
	"worksrelay/internal/eventbus"
	logx "worksrelay/pkg/logx"
)

const (
	DefaultTokenURL   = "https://auth.worksmobile.com/oauth2/v2.0/token"
	DefaultAPIBaseURL = "https://www.worksapis.com/v1.0"
	DefaultScopes     = "bot user directory"

	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionLifetime = time.Hour
	// SafetyMargin is subtracted from expires_in so a token is never presented at its true expiry.
	SafetyMargin          = 60 * time.Second
	defaultExpiresIn      = 3600
	maxExpiresIn          = 366 * 24 * 60 * 60
	defaultRequestTimeout = 10 * time.Second
	maxBodyBytes          = 1 << 20
)

// Config is the parsed NAVER WORKS section.
type Config struct {
	ClientID       string
	ClientSecret   string
	ServiceAccount string
	PrivateKeyPath string
	BotID          string
	FallbackUserID string
	TargetMode     string // config.TargetFallback (default) or config.TargetCaller

	TokenURL       string
	APIBaseURL     string
	Scopes         string
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = DefaultTokenURL
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if strings.TrimSpace(c.Scopes) == "" {
		c.Scopes = DefaultScopes
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	c.TargetMode = normalizeMode(c.TargetMode)
	return c
}

func normalizeMode(m string) string {
	if strings.EqualFold(strings.TrimSpace(m), config.TargetCaller) {
		return config.TargetCaller
	}
	return config.TargetFallback
}

// Option customizes TokenProvider and Sender.
type Option func(*deps)

type deps struct {
	client *http.Client
	now    func() time.Time
	log    logx.Logger
	bus    eventbus.Bus
}

// WithHTTPClient replaces the outbound client (tests point it at httptest servers).
func WithHTTPClient(c *http.Client) Option { return func(d *deps) { d.client = c } }

// WithClock injects the time source used for credential validity.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

func WithLogger(log logx.Logger) Option { return func(d *deps) { d.log = log } }

func WithBus(b eventbus.Bus) Option { return func(d *deps) { d.bus = b } }

func buildDeps(cfg Config, opts []Option) deps {
	d := deps{}
	for _, o := range opts {
		o(&d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}
