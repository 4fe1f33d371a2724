package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

// OTPChallenge records an outstanding one-time code: the hash of the code,
// how many wrong guesses have been made, and when the code lapses.
type OTPChallenge struct {
	Subject   string    `json:"subject"`
	Purpose   string    `json:"purpose"`
	CodeHash  []byte    `json:"code_hash"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OTPStore holds one-time codes keyed by subject and purpose. Verification
// runs inside an optimistic transaction so concurrent guesses against the
// same code cannot exceed the attempt budget.
type OTPStore struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	clock       func() time.Time
}

// NewOTPStore wraps a Redis client with the one-time code keyspace.
// maxAttempts bounds wrong guesses per code; zero or negative selects 5.
func NewOTPStore(client redis.UniversalClient, prefix string, maxAttempts int) *OTPStore {
	if prefix == "" {
		prefix = "otp"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OTPStore{
		redis:       client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		clock:       time.Now,
	}
}

func (s *OTPStore) key(subject, purpose string) string {
	return s.prefix + ":" + purpose + ":" + subject
}

// HashCode derives the stored digest for a one-time code. The cleartext
// code never reaches Redis.
func HashCode(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

// Put stores a fresh code challenge, replacing any outstanding one for the
// same subject and purpose. The attempt counter starts at zero.
func (s *OTPStore) Put(ctx context.Context, subject, purpose string, codeHash []byte, ttl time.Duration) error {
	if subject == "" || purpose == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "subject and purpose are required")
	}
	if ttl <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "code ttl must be positive")
	}

	record := OTPChallenge{
		Subject:   subject,
		Purpose:   purpose,
		CodeHash:  codeHash,
		ExpiresAt: s.clock().UTC().Add(ttl),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(subject, purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Verify checks a presented code against the stored challenge. A correct
// code deletes the challenge and returns nil. A wrong code increments the
// attempt counter and returns ErrCodeIncorrect, or deletes the challenge
// and returns ErrAttemptsExhausted once the budget is spent. The whole
// check runs under WATCH so racing guesses serialize on the counter.
func (s *OTPStore) Verify(ctx context.Context, subject, purpose, code string) error {
	const maxRetries = 4
	key := s.key(subject, purpose)
	presented := HashCode(code)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var record OTPChallenge
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("decode code challenge: %w", err)
			}

			now := s.clock().UTC()
			if now.After(record.ExpiresAt) {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrExpired
			}

			if subtle.ConstantTimeCompare(record.CodeHash, presented) != 1 {
				record.Attempts++
				if record.Attempts >= s.maxAttempts {
					if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					}); err != nil {
						return err
					}
					return ErrAttemptsExhausted
				}

				ttl := record.ExpiresAt.Sub(now)
				updated, err := json.Marshal(record)
				if err != nil {
					return err
				}
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				}); err != nil {
					return err
				}
				return ErrCodeIncorrect
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrNotFound
			case errors.Is(err, ErrExpired), errors.Is(err, ErrCodeIncorrect), errors.Is(err, ErrAttemptsExhausted):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}
		}
		return nil
	}

	return fmt.Errorf("%w: verify transaction kept failing", ErrBackend)
}

// Cancel discards any outstanding code for the subject and purpose.
func (s *OTPStore) Cancel(ctx context.Context, subject, purpose string) error {
	if err := s.redis.Del(ctx, s.key(subject, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
