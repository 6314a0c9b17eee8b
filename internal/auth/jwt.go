// Package auth validates the bearer tokens presented when a websocket session
// is opened. Tokens are minted elsewhere; this service only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// ErrInvalidToken is returned for any token that does not yield an identity.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated username alongside the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	Username          string `json:"username,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// identity picks the first non-empty username-bearing claim.
func (c *Claims) identity() string {
	for _, v := range []string{c.Username, c.PreferredUsername, c.Subject} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Authenticator verifies HS256 tokens signed with a shared secret, or
// asymmetric tokens whose keys are published at a JWKS endpoint.
type Authenticator struct {
	keyFunc jwt.Keyfunc
	methods []string
	jwks    *keyfunc.JWKS
}

// NewAuthenticator builds an Authenticator. A JWKS URL takes precedence over
// the shared secret.
func NewAuthenticator(ctx context.Context, secret, jwksURL string) (*Authenticator, error) {
	if jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   5 * time.Minute,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logrus.WithError(err).Error("jwks refresh failed")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		return &Authenticator{
			keyFunc: jwks.Keyfunc,
			methods: []string{"RS256", "RS384", "RS512", "ES256", "ES384"},
			jwks:    jwks,
		}, nil
	}

	if secret == "" {
		return nil, errors.New("either a jwt secret or a jwks url is required")
	}
	key := []byte(secret)
	return &Authenticator{
		keyFunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{"HS256"},
	}, nil
}

// ValidateToken verifies the token and returns the username it was issued to.
func (a *Authenticator) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keyFunc, jwt.WithValidMethods(a.methods))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	username := claims.identity()
	if username == "" {
		return "", ErrInvalidToken
	}
	return username, nil
}

// Close stops the JWKS refresh goroutine, if any.
func (a *Authenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// GenerateToken signs an HS256 token for username. Used by tooling and tests;
// production tokens come from the auth service.
func GenerateToken(username string, secret []byte, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Username: username,
	})
	return token.SignedString(secret)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
