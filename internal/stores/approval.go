package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

// Approval marks that a subject recently passed a step-up check for a
// given purpose. Sensitive operations take the marker before proceeding.
type Approval struct {
	Subject   string    `json:"subject"`
	Purpose   string    `json:"purpose"`
	Method    string    `json:"method"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ApprovalStore holds short-lived step-up approval markers in Redis.
type ApprovalStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// NewApprovalStore wraps a Redis client with the approval keyspace.
func NewApprovalStore(client redis.UniversalClient, prefix string) *ApprovalStore {
	if prefix == "" {
		prefix = "sua"
	}
	return &ApprovalStore{
		redis:  client,
		prefix: prefix,
		clock:  time.Now,
	}
}

func (s *ApprovalStore) key(subject, purpose string) string {
	return s.prefix + ":" + purpose + ":" + subject
}

// Grant records an approval for the subject and purpose.
func (s *ApprovalStore) Grant(ctx context.Context, subject, purpose, method string, ttl time.Duration) error {
	if subject == "" || purpose == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "subject and purpose are required")
	}
	if ttl <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "approval ttl must be positive")
	}

	now := s.clock().UTC()
	record := Approval{
		Subject:   subject,
		Purpose:   purpose,
		Method:    method,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
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

// Peek reports the live approval without consuming it.
func (s *ApprovalStore) Peek(ctx context.Context, subject, purpose string) (Approval, error) {
	data, err := s.redis.Get(ctx, s.key(subject, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Approval{}, ErrNotFound
		}
		return Approval{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(ctx, subject, purpose, data, false)
}

// Take atomically consumes the approval, so one granted step-up authorizes
// exactly one sensitive operation.
func (s *ApprovalStore) Take(ctx context.Context, subject, purpose string) (Approval, error) {
	data, err := s.redis.GetDel(ctx, s.key(subject, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Approval{}, ErrNotFound
		}
		return Approval{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s.decode(ctx, subject, purpose, data, true)
}

func (s *ApprovalStore) decode(ctx context.Context, subject, purpose string, data []byte, consumed bool) (Approval, error) {
	var record Approval
	if err := json.Unmarshal(data, &record); err != nil {
		return Approval{}, fmt.Errorf("decode approval: %w", err)
	}
	if s.clock().UTC().After(record.ExpiresAt) {
		if !consumed {
			_ = s.redis.Del(ctx, s.key(subject, purpose)).Err()
		}
		return Approval{}, ErrExpired
	}
	return record, nil
}
