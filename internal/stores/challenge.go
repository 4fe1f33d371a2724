package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

// Purpose scopes a challenge to one protocol flow. A correlation key may
// hold at most one live challenge per purpose.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
	PurposeStepUp         Purpose = "step-up"
)

// Challenge is a one-time nonce plus context, scoped to a purpose.
type Challenge struct {
	Key         string          `json:"key"`
	Purpose     Purpose         `json:"purpose"`
	Payload     json.RawMessage `json:"payload"`
	SubjectHint string          `json:"subject_hint,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ChallengeStore holds outstanding challenges keyed by correlation key and
// purpose. It carries no protocol logic; callers own challenge semantics.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// NewChallengeStore wraps a Redis client with the challenge keyspace.
func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "chal"
	}
	return &ChallengeStore{
		redis:  client,
		prefix: prefix,
		clock:  time.Now,
	}
}

func (s *ChallengeStore) key(correlationKey string, purpose Purpose) string {
	return s.prefix + ":" + string(purpose) + ":" + correlationKey
}

// Put stores a challenge, replacing any live challenge for the same
// (correlation key, purpose) pair.
func (s *ChallengeStore) Put(ctx context.Context, correlationKey string, purpose Purpose, payload json.RawMessage, subjectHint string, ttl time.Duration) error {
	if correlationKey == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "correlation key is required")
	}
	if ttl <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "challenge ttl must be positive")
	}

	record := Challenge{
		Key:         correlationKey,
		Purpose:     purpose,
		Payload:     payload,
		SubjectHint: subjectHint,
		ExpiresAt:   s.clock().UTC().Add(ttl),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(correlationKey, purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get returns the live challenge without consuming it. Expired challenges
// report ErrExpired and are lazily deleted.
func (s *ChallengeStore) Get(ctx context.Context, correlationKey string, purpose Purpose) (Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(correlationKey, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(ctx, correlationKey, purpose, data, false)
}

// Consume atomically removes and returns the live challenge. Exactly one of
// two racing callers observes the record; the other gets ErrNotFound.
func (s *ChallengeStore) Consume(ctx context.Context, correlationKey string, purpose Purpose) (Challenge, error) {
	data, err := s.redis.GetDel(ctx, s.key(correlationKey, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(ctx, correlationKey, purpose, data, true)
}

// Delete removes a challenge if present.
func (s *ChallengeStore) Delete(ctx context.Context, correlationKey string, purpose Purpose) error {
	if err := s.redis.Del(ctx, s.key(correlationKey, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *ChallengeStore) decode(ctx context.Context, correlationKey string, purpose Purpose, data []byte, consumed bool) (Challenge, error) {
	var record Challenge
	if err := json.Unmarshal(data, &record); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if s.clock().UTC().After(record.ExpiresAt) {
		if !consumed {
			_ = s.redis.Del(ctx, s.key(correlationKey, purpose)).Err()
		}
		return Challenge{}, ErrExpired
	}
	return record, nil
}
