// Package verify issues and checks the short-lived codes used for email
// verification and password reset. Codes are stored hashed; plaintext leaves
// the process only through the Mailer.
package verify

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate.org/internal/ids"
	"authgate.org/internal/obs"
)

// CodeType scopes a code to the channel it was delivered on.
type CodeType string

// CodeTypeEmail is the only channel currently delivered.
const CodeTypeEmail CodeType = "EMAIL"

const (
	codeLength     = 6
	defaultCodeTTL = 15 * time.Minute
)

var (
	// ErrNotFound is returned by CodeStore implementations when no code
	// matches.
	ErrNotFound = errors.New("verify: not found")
	// ErrDispatchFailed indicates the mailer rejected the message.
	ErrDispatchFailed = errors.New("verify: dispatch failed")
)

// Code is a stored verification code. Hash is hex(sha256(plaintext)).
type Code struct {
	ID        string
	Type      CodeType
	Origin    string
	Hash      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CodeStore persists verification codes.
type CodeStore interface {
	CreateCode(ctx context.Context, c *Code) error
	// ConsumeCode deletes and returns the newest code matching
	// (type, origin, hash), or ErrNotFound.
	ConsumeCode(ctx context.Context, typ CodeType, origin, hash string) (*Code, error)
}

// Mailer delivers a verification code to its origin address.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogMailer writes codes to the service log instead of sending email.
// Development use only.
type LogMailer struct{}

func (LogMailer) SendCode(_ context.Context, email, code string) error {
	obs.LogRequest(map[string]any{
		"level": "info",
		"msg":   "verification code issued",
		"email": email,
		"code":  code,
	})
	return nil
}

// Service issues codes and validates submissions.
type Service struct {
	store  CodeStore
	mailer Mailer
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the code lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Useful for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store CodeStore, mailer Mailer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("verify: code store is required")
	}
	if mailer == nil {
		return nil, errors.New("verify: mailer is required")
	}
	s := &Service{store: store, mailer: mailer, ttl: defaultCodeTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SendEmailCode mints a code for the address, stores its hash, and dispatches
// it. The code is persisted before dispatch so a duplicate send is the worst
// outcome of a crash between the two steps.
func (s *Service) SendEmailCode(ctx context.Context, email string) error {
	email = normalizeOrigin(email)
	if email == "" {
		return errors.New("verify: email is required")
	}

	plain, err := ids.NumericCode(codeLength)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	code := &Code{
		ID:        ids.New(),
		Type:      CodeTypeEmail,
		Origin:    email,
		Hash:      hashCode(plain),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateCode(ctx, code); err != nil {
		return fmt.Errorf("verify: store code: %w", err)
	}

	if err := s.mailer.SendCode(ctx, email, plain); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return nil
}

// IsCodeValid consumes the submitted code. A valid code is single-use.
func (s *Service) IsCodeValid(ctx context.Context, typ CodeType, code, origin string) (bool, error) {
	origin = normalizeOrigin(origin)
	code = strings.TrimSpace(code)
	if origin == "" || code == "" {
		return false, nil
	}

	stored, err := s.store.ConsumeCode(ctx, typ, origin, hashCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("verify: consume code: %w", err)
	}
	if s.now().After(stored.ExpiresAt) {
		return false, nil
	}
	// ConsumeCode already matched on hash; compare again to keep the check
	// independent of the store implementation.
	if subtle.ConstantTimeCompare([]byte(stored.Hash), []byte(hashCode(code))) != 1 {
		return false, nil
	}
	return true, nil
}

func hashCode(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func normalizeOrigin(origin string) string {
	return strings.TrimSpace(strings.ToLower(origin))
}
