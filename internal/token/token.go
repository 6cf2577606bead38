// Package token signs and verifies the time-bounded credentials used by the
// auth subsystem. Access and refresh tokens are keyed by separate secrets so
// the two kinds cannot be substituted for each other.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "authgate"

// Class selects which signing secret a token is bound to.
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	// ErrTokenInvalid indicates a malformed token, a bad signature, or a
	// class mismatch.
	ErrTokenInvalid = errors.New("token: invalid")
	// ErrTokenExpired indicates the token was well formed but past its TTL.
	ErrTokenExpired = errors.New("token: expired")
)

// Config enumerates everything the issuer needs. No ambient environment is
// consulted after construction.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the payload carried by both token classes.
type Claims struct {
	UserID string `json:"uid"`
	Class  Class  `json:"cls"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 tokens.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source. Useful for tests.
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer validates the config and constructs an Issuer.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: both access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	iss := &Issuer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// IssueAccess signs a short-lived access token for the user.
func (i *Issuer) IssueAccess(userID string) (string, error) {
	return i.issue(userID, ClassAccess, i.cfg.AccessSecret, i.cfg.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for the user.
func (i *Issuer) IssueRefresh(userID string) (string, error) {
	return i.issue(userID, ClassRefresh, i.cfg.RefreshSecret, i.cfg.RefreshTTL)
}

func (i *Issuer) issue(userID string, class Class, secret []byte, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("token: userID is required")
	}

	now := i.now().UTC()
	claims := Claims{
		UserID: userID,
		Class:  class,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and TTL of a token against the secret selected
// by class. Failure is always one of ErrTokenInvalid or ErrTokenExpired; the
// embedded claims are returned only on success.
func (i *Issuer) Verify(raw string, class Class) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	secret := i.cfg.AccessSecret
	if class == ClassRefresh {
		secret = i.cfg.RefreshSecret
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(issuerName))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	// A token signed with the right secret but carrying the wrong class is
	// still rejected, so a refresh token never passes as an access token.
	if claims.Class != class {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
