// Package storage defines the durable entities and store capabilities of the
// auth subsystem. Ephemeral protocol state (challenges, verification tokens,
// one-time codes) lives in the stores package instead; keeping the two apart
// avoids cross-purpose key collisions between short-lived and durable records.
package storage

import (
	"context"
	"time"

	"github.com/keystep-id/keystep/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDeviceRegistered indicates an insert would give a device a second
// credential. The unique index raises it when two registration ceremonies
// for the same device race past the registry's pre-check.
var ErrDeviceRegistered = errors.New(errors.CodeDeviceAlreadyRegistered, "device already has a credential")

// ErrAddressTaken indicates the contact address is already bound to
// another account.
var ErrAddressTaken = errors.New(errors.CodeAddressTaken, "address already in use")

// Credential stores one device-bound public-key credential for a user.
//
// CredentialJSON holds the verifier's opaque credential blob (public key,
// attachment metadata and authenticator state). SignCount mirrors the replay
// counter inside the blob so counter checks do not need to decode it.
type Credential struct {
	CredentialID   string
	UserID         string
	DeviceID       string
	Label          string
	CredentialJSON string
	SignCount      uint32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// Account stores the minimal durable identity consumed by re-authentication
// and the denormalized has-credential hint read by the surrounding app.
type Account struct {
	ID            string
	Address       string
	SecretHash    string
	TOTPSecret    string
	HasCredential bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CredentialStore persists device-bound credentials.
//
// A device holds at most one live credential: PutCredential must reject an
// insert for a DeviceID that already has a row under a different
// CredentialID (counter/usage updates for the same credential are upserts).
type CredentialStore interface {
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	GetCredentialByDevice(ctx context.Context, deviceID string) (Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	DeleteCredential(ctx context.Context, userID, credentialID string) error
	DeleteCredentialsByUser(ctx context.Context, userID string) error
}

// AccountStore persists accounts and the has-credential flag.
type AccountStore interface {
	PutAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetAccountByAddress(ctx context.Context, address string) (Account, error)
	SetHasCredential(ctx context.Context, accountID string, has bool, now time.Time) error
	UpdateAccountAddress(ctx context.Context, accountID, address string, now time.Time) error
	DeleteAccount(ctx context.Context, accountID string) error
}
