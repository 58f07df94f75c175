package works

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "works.private_key_path", Err: err}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, &ConfigError{Field: "works.private_key_path", Err: fmt.Errorf("not a PEM RSA private key: %w", err)}
	}
	return key, nil
}

// signAssertion builds the RS256 JWT presented in the jwt-bearer grant.
// aud is serialized as a plain string.
func signAssertion(key *rsa.PrivateKey, cfg Config, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": cfg.ClientID,
		"sub": cfg.ServiceAccount,
		"iat": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
		"aud": cfg.TokenURL,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("sign assertion: %w", err)}
	}
	return s, nil
}
