package tokenstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Ramsey-B/clover/pkg/redis"
)

// TokenKind selects which half of the OAuth grant a key addresses.
type TokenKind string

const (
	AccessToken  TokenKind = "access_token"
	RefreshToken TokenKind = "refresh_token"
)

const (
	// DefaultAccessTTL matches the portal's access token lifetime
	DefaultAccessTTL = 30 * time.Minute
	// DefaultRefreshTTL matches the portal's refresh token lifetime
	DefaultRefreshTTL = 180 * 24 * time.Hour

	selfTestSentinel = "clover-tokenstore-selftest"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrBadKey is returned when the encryption key is not 32 bytes
	ErrBadKey = errors.New("token encryption key must be 32 bytes")
)

// Store keeps OAuth tokens encrypted at rest in Redis. Values are
// chacha20poly1305 ciphertext with the nonce prepended.
type Store struct {
	client   *redis.Client
	logger   ectologger.Logger
	key      []byte
	userID   int
	provider string
}

// NewStore creates a token store and round-trips a sentinel through the
// cipher so a misconfigured key fails startup instead of first use.
func NewStore(client *redis.Client, logger ectologger.Logger, key []byte, userID int, provider string) (*Store, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrBadKey
	}

	s := &Store{
		client:   client,
		logger:   logger,
		key:      key,
		userID:   userID,
		provider: provider,
	}

	sealed, err := s.seal([]byte(selfTestSentinel))
	if err != nil {
		return nil, fmt.Errorf("token cipher self-test failed: %w", err)
	}
	opened, err := s.open(sealed)
	if err != nil || string(opened) != selfTestSentinel {
		return nil, fmt.Errorf("token cipher self-test mismatch")
	}

	return s, nil
}

func (s *Store) redisKey(kind TokenKind) string {
	return fmt.Sprintf("token:%s:user:%d:provider:%s", kind, s.userID, s.provider)
}

// Save stores a token with the default TTL for its kind when ttl is zero.
func (s *Store) Save(ctx context.Context, token string, kind TokenKind, ttl time.Duration) error {
	if ttl <= 0 {
		if kind == RefreshToken {
			ttl = DefaultRefreshTTL
		} else {
			ttl = DefaultAccessTTL
		}
	}

	sealed, err := s.seal([]byte(token))
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.redisKey(kind), sealed, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the stored token, or "" when the key is absent or the
// ciphertext cannot be opened. Decrypt failures are logged, not propagated:
// an unreadable token is indistinguishable from an expired one to callers.
func (s *Store) Get(ctx context.Context, kind TokenKind) (string, error) {
	raw, err := s.client.Get(ctx, s.redisKey(kind))
	if err != nil {
		if redis.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	opened, err := s.open([]byte(raw))
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("Failed to decrypt stored %s", kind)
		return "", nil
	}
	return string(opened), nil
}

// Delete removes a token and reports whether it existed.
func (s *Store) Delete(ctx context.Context, kind TokenKind) (bool, error) {
	n, err := s.client.Del(ctx, s.redisKey(kind))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of a token key.
func (s *Store) TTL(ctx context.Context, kind TokenKind) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.redisKey(kind))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Exists reports whether a token of the given kind is stored.
func (s *Store) Exists(ctx context.Context, kind TokenKind) (bool, error) {
	ok, err := s.client.Exists(ctx, s.redisKey(kind))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
