package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvClientID       = "NAVER_WORKS_CLIENT_ID"
	EnvClientSecret   = "NAVER_WORKS_CLIENT_SECRET"
	EnvServiceAccount = "NAVER_WORKS_SERVICE_ACCOUNT"
	EnvPrivateKeyPath = "NAVER_WORKS_PRIVATE_KEY_PATH"
	EnvBotID          = "NAVER_WORKS_BOT_ID"
	EnvUserID         = "NAVER_WORKS_USER_ID"

	EnvHTTPAddr = "RELAY_HTTP_ADDR"
	EnvLogLevel = "RELAY_LOG_LEVEL"
	EnvConfig   = "RELAY_CONFIG"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Field: "env_file", Err: err}
	}
	return nil
}

// ApplyEnv overlays environment values on cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Works.ClientID, EnvClientID)
	set(&cfg.Works.ClientSecret, EnvClientSecret)
	set(&cfg.Works.ServiceAccount, EnvServiceAccount)
	set(&cfg.Works.PrivateKeyPath, EnvPrivateKeyPath)
	set(&cfg.Works.BotID, EnvBotID)
	set(&cfg.Works.FallbackUserID, EnvUserID)
	set(&cfg.HTTP.Addr, EnvHTTPAddr)
	set(&cfg.Logging.Level, EnvLogLevel)
}
