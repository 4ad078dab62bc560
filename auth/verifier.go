package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Verifier parses and validates identity tokens.
type Verifier struct {
	cfg Config
}

// NewVerifier creates a new token verifier.
func NewVerifier(cfg *Config) (*Verifier, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return &Verifier{cfg: *cfg}, nil
}

// Verify validates a token string and returns its claims.
// It checks the signature, expiry, and (when configured) issuer and audience.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := gojwt.ParseWithClaims(tokenString, claims, v.keyFunc, v.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}

// Sign creates a signed token from the given claims. tickstream never issues
// tokens in production paths; this exists for local development and tests.
func (v *Verifier) Sign(claims *Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	if claims.IssuedAt == nil {
		claims.IssuedAt = gojwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = v.cfg.Issuer
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// keyFunc is the jwt.Keyfunc used during token parsing.
func (v *Verifier) keyFunc(token *gojwt.Token) (interface{}, error) {
	if token.Method.Alg() != gojwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("auth: unexpected signing method: %s", token.Method.Alg())
	}
	return []byte(v.cfg.Secret), nil
}

// parserOptions returns jwt.ParserOption based on config.
func (v *Verifier) parserOptions() []gojwt.ParserOption {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, gojwt.WithAudience(v.cfg.Audience))
	}
	return opts
}
