// Package registry is the authoritative map from share code to metadata,
// together with the fingerprint index used for deduplication.
package registry

import (
	"context"
	"encoding/base32"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgdrive/qdrop/internal/clock"
	"github.com/tgdrive/qdrop/pkg/models"
)

var (
	ErrNotFound         = errors.New("share not found")
	ErrCodeTaken        = errors.New("code already in use")
	ErrExhaustedRetries = errors.New("no free code after bounded retries")
)

// DuplicateError is returned by Put when the fingerprint already belongs to
// a live share. Code is the share that won.
type DuplicateError struct {
	Code string
}

func (e *DuplicateError) Error() string {
	return "duplicate content, live share " + e.Code
}

const (
	// MaxCodeAttempts bounds code generation retries.
	MaxCodeAttempts = 8
	// CodeLength is the number of characters in a generated code.
	CodeLength = 8
)

// Backend persists shares and the fingerprint index. Every mutation must be
// atomic over both maps.
type Backend interface {
	Get(ctx context.Context, code string) (*models.Share, error)
	CodeFor(ctx context.Context, fingerprint string) (string, error)
	// Insert stores s and, when it carries a fingerprint, points the index
	// at it. It fails with ErrCodeTaken if any share holds the code, and
	// with *DuplicateError if the fingerprint maps to a share created after
	// liveAfter.
	Insert(ctx context.Context, s *models.Share, liveAfter time.Time) error
	// Delete removes the share stored under code and its index row, leaving
	// the row alone if it has since been taken over by another share. With
	// a non-empty location only a share living there is removed, so a
	// stale caller cannot delete a newer share that reused the code.
	// Missing codes are not an error.
	Delete(ctx context.Context, code, location string) error
	List(ctx context.Context) ([]*models.Share, error)
	Close() error
}

// ExpireFunc runs the shared deletion routine for a share found expired on
// access.
type ExpireFunc func(ctx context.Context, s *models.Share)

type Registry struct {
	backend Backend
	clock   clock.Clock
	ttl     time.Duration
	newCode func() string
	logger  *zap.Logger

	mu       sync.Mutex
	reserved map[string]struct{}
	expire   ExpireFunc
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithCodeGenerator(fn func() string) Option {
	return func(r *Registry) { r.newCode = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(backend Backend, ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		backend:  backend,
		clock:    clock.Real(),
		ttl:      ttl,
		newCode:  NewCode,
		logger:   zap.NewNop(),
		reserved: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var codeEncoding = base32.NewEncoding("abcdefghijkmnpqrstuvwxyz23456789").WithPadding(base32.NoPadding)

// NewCode returns a random lowercase code drawn from a uuid's random bits.
func NewCode() string {
	id := uuid.New()
	return codeEncoding.EncodeToString(id[:])[:CodeLength]
}

// ValidCode reports whether code has the shape of a generated code. Lookups
// reject anything else before touching a backend.
func ValidCode(code string) bool {
	if len(code) == 0 || len(code) > 64 {
		return false
	}
	for _, r := range code {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// OnExpired installs the deletion routine run by lazy expiry.
func (r *Registry) OnExpired(fn ExpireFunc) {
	r.mu.Lock()
	r.expire = fn
	r.mu.Unlock()
}

func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) Now() time.Time { return r.clock.Now() }

func (r *Registry) Expired(s *models.Share) bool {
	return s.Expired(r.clock.Now(), r.ttl)
}

func (r *Registry) liveAfter() time.Time {
	return r.clock.Now().Add(-r.ttl)
}

// ReserveCode returns a code that no share holds and no concurrent caller
// has reserved. The reservation lasts until Put or Release.
func (r *Registry) ReserveCode(ctx context.Context) (string, error) {
	for range MaxCodeAttempts {
		code := r.newCode()

		r.mu.Lock()
		_, busy := r.reserved[code]
		if !busy {
			r.reserved[code] = struct{}{}
		}
		r.mu.Unlock()
		if busy {
			continue
		}

		_, err := r.backend.Get(ctx, code)
		switch {
		case errors.Is(err, ErrNotFound):
			return code, nil
		case err != nil:
			r.Release(code)
			return "", err
		}
		r.Release(code)
	}
	return "", ErrExhaustedRetries
}

func (r *Registry) Release(code string) {
	r.mu.Lock()
	delete(r.reserved, code)
	r.mu.Unlock()
}

// Reserved reports whether an upload currently holds code.
func (r *Registry) Reserved(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reserved[code]
	return ok
}

// Put inserts a new live share. See Backend.Insert for the failure modes.
func (r *Registry) Put(ctx context.Context, s *models.Share) error {
	if err := s.Validate(); err != nil {
		return err
	}
	err := r.backend.Insert(ctx, s, r.liveAfter())
	if err == nil {
		r.Release(s.Code)
	}
	return err
}

// LookupByCode returns the share if it is live. An expired share is deleted
// on the spot and reported as ErrNotFound.
func (r *Registry) LookupByCode(ctx context.Context, code string) (*models.Share, error) {
	if !ValidCode(code) {
		return nil, ErrNotFound
	}
	s, err := r.backend.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.Expired(s) {
		r.logger.Debug("registry.lazy_expiry", zap.String("code", code))
		r.mu.Lock()
		expire := r.expire
		r.mu.Unlock()
		if expire != nil {
			expire(ctx, s)
		} else if err := r.Remove(ctx, s); err != nil {
			r.logger.Warn("registry.lazy_remove_failed", zap.String("code", code), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	return s, nil
}

// LookupByFingerprint returns the code of the live share holding the
// fingerprint. Rows pointing at expired shares count as misses.
func (r *Registry) LookupByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	if fingerprint == "" {
		return "", ErrNotFound
	}
	code, err := r.backend.CodeFor(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	s, err := r.backend.Get(ctx, code)
	if err != nil {
		return "", err
	}
	if r.Expired(s) {
		return "", ErrNotFound
	}
	return code, nil
}

// Remove deletes s and its index row unless the code now belongs to a
// different share. It is idempotent.
func (r *Registry) Remove(ctx context.Context, s *models.Share) error {
	return r.backend.Delete(ctx, s.Code, s.StorageLocation)
}

// List returns a snapshot of every stored share, expired or not.
func (r *Registry) List(ctx context.Context) ([]*models.Share, error) {
	return r.backend.List(ctx)
}

func (r *Registry) Close() error {
	return r.backend.Close()
}

func normalizePrefix(p string) string {
	if p != "" && !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}
