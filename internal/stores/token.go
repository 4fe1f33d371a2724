package stores

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

// VerificationToken proves that a subject recently completed an
// authentication ceremony. It is redeemable exactly once.
type VerificationToken struct {
	Subject   string    `json:"subject"`
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore holds single-use verification tokens keyed by subject.
// Issuing a new token replaces any outstanding one for the subject.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// NewTokenStore wraps a Redis client with the verification token keyspace.
func NewTokenStore(client redis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "vt"
	}
	return &TokenStore{
		redis:  client,
		prefix: prefix,
		clock:  time.Now,
	}
}

func (s *TokenStore) key(subject string) string {
	return s.prefix + ":" + subject
}

// Issue stores a token for the subject, replacing any outstanding one.
func (s *TokenStore) Issue(ctx context.Context, subject, secret string, ttl time.Duration) error {
	if subject == "" || secret == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "subject and secret are required")
	}
	if ttl <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "token ttl must be positive")
	}

	record := VerificationToken{
		Subject:   subject,
		Secret:    secret,
		ExpiresAt: s.clock().UTC().Add(ttl),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Redeem atomically removes the subject's token and compares its secret
// against the presented one in constant time. The token is gone after the
// call regardless of whether the comparison succeeded, so a failed redeem
// cannot be retried against the same token.
func (s *TokenStore) Redeem(ctx context.Context, subject, presented string) error {
	data, err := s.redis.GetDel(ctx, s.key(subject)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	var record VerificationToken
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("decode verification token: %w", err)
	}
	if s.clock().UTC().After(record.ExpiresAt) {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(record.Secret), []byte(presented)) != 1 {
		return apperrors.New(apperrors.CodeSecretIncorrect, "verification token mismatch")
	}
	return nil
}
