// Package nonce implements the anti-replay token economy (RFC 8555 §6.5):
// unpredictable single-use tokens with expiry and bounded-memory eviction.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/acmeforge/internal/model"
	"github.com/blockadesystems/acmeforge/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "nonce"))
}

// Service issues and consumes nonces against a backing store. The store is a
// bounded best-effort cache: under sustained load it evicts the oldest tokens
// rather than grow without limit, so a still-valid-but-old nonce may be
// rejected.
type Service struct {
	store    storage.Storage
	maxAge   time.Duration
	maxCount int
}

// NewService creates a nonce service with the given max age and capacity.
func NewService(store storage.Storage, maxAge time.Duration, maxCount int) *Service {
	return &Service{store: store, maxAge: maxAge, maxCount: maxCount}
}

// Issue generates 16 cryptographically random bytes, encodes them as unpadded
// base64url and stores the token with the current timestamp. When the store is
// at capacity, expired entries are evicted first, then the oldest-issued one.
func (s *Service) Issue(ctx context.Context) (string, error) {
	count, err := s.store.CountNonces(ctx)
	if err != nil {
		return "", err
	}
	if count >= s.maxCount {
		if err := s.EvictExpired(ctx); err != nil {
			return "", err
		}
		count, err = s.store.CountNonces(ctx)
		if err != nil {
			return "", err
		}
		if count >= s.maxCount {
			if err := s.store.DeleteOldestNonce(ctx); err != nil {
				return "", err
			}
		}
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("nonce: failed to read random bytes: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	if err := s.store.SaveNonce(ctx, &model.Nonce{Value: value, IssuedAt: time.Now()}); err != nil {
		return "", err
	}
	return value, nil
}

// Consume removes the token and reports whether it was valid. A token that
// was never issued, already consumed, or older than the max age yields false;
// an expired token is still removed, so it can never be revalidated.
func (s *Service) Consume(ctx context.Context, value string) bool {
	if value == "" {
		return false
	}
	n, err := s.store.TakeNonce(ctx, value)
	if err != nil {
		logger.Error("Failed to consume nonce", zap.Error(err))
		return false
	}
	if n == nil {
		return false
	}
	if n.IssuedAt.Add(s.maxAge).Before(time.Now()) {
		return false
	}
	return true
}

// Peek reports whether the token is currently valid without consuming it.
func (s *Service) Peek(ctx context.Context, value string) bool {
	if value == "" {
		return false
	}
	n, err := s.store.GetNonce(ctx, value)
	if err != nil {
		logger.Error("Failed to peek nonce", zap.Error(err))
		return false
	}
	if n == nil {
		return false
	}
	return !n.IssuedAt.Add(s.maxAge).Before(time.Now())
}

// EvictExpired removes every token older than the max age.
func (s *Service) EvictExpired(ctx context.Context) error {
	_, err := s.store.DeleteNoncesIssuedBefore(ctx, time.Now().Add(-s.maxAge))
	return err
}

// Count returns the number of stored tokens.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.CountNonces(ctx)
}

// StartJanitor launches the periodic cleanup loop. It is housekeeping, not a
// correctness dependency: expiry is enforced at consumption time regardless.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.EvictExpired(ctx); err != nil {
					logger.Warn("Nonce cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}
