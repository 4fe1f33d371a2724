package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/storage"
	"github.com/keystep-id/keystep/internal/stores"
)

// RegistrationChallenge is handed to the client authenticator to produce
// a new credential.
type RegistrationChallenge struct {
	OptionsJSON json.RawMessage
	Address     string
}

type registrationSession struct {
	Session webauthn.SessionData `json:"session"`
	Label   string               `json:"label"`
}

// BeginRegistration opens a registration ceremony for the user's device.
// A device carries at most one live credential; the caller must delete the
// existing one before registering again.
func (r *Registry) BeginRegistration(ctx context.Context, userID, deviceID, label string) (RegistrationChallenge, error) {
	if userID == "" || deviceID == "" {
		return RegistrationChallenge{}, apperrors.New(apperrors.CodeInvalidArgument, "user id and device id are required")
	}

	_, err := r.credentials.GetCredentialByDevice(ctx, deviceID)
	switch {
	case err == nil:
		return RegistrationChallenge{}, apperrors.WithMetadata(apperrors.CodeDeviceAlreadyRegistered,
			"device already has a registered credential", map[string]string{"device_id": deviceID})
	case errors.Is(err, storage.ErrNotFound):
	default:
		return RegistrationChallenge{}, fmt.Errorf("look up device credential: %w", err)
	}

	account, err := r.accounts.GetAccount(ctx, userID)
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("load account: %w", err)
	}
	waUser, err := r.loadWebAuthnUser(ctx, account)
	if err != nil {
		return RegistrationChallenge{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := r.webAuthn.BeginRegistration(waUser, options...)
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("begin registration ceremony: %w", err)
	}

	payload, err := json.Marshal(registrationSession{Session: *session, Label: label})
	if err != nil {
		return RegistrationChallenge{}, err
	}
	if err := r.challenges.Put(ctx, registrationKey(userID, deviceID), stores.PurposeRegistration, payload, account.Address, r.config.ChallengeTTL); err != nil {
		return RegistrationChallenge{}, fmt.Errorf("store registration challenge: %w", err)
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return RegistrationChallenge{}, err
	}
	return RegistrationChallenge{OptionsJSON: optionsJSON, Address: account.Address}, nil
}

// CompleteRegistration closes the ceremony opened by BeginRegistration.
// The challenge is consumed whether or not the attestation verifies, so a
// failed completion requires a fresh begin call.
func (r *Registry) CompleteRegistration(ctx context.Context, userID, deviceID string, responseJSON []byte) (storage.Credential, error) {
	if userID == "" || deviceID == "" {
		return storage.Credential{}, apperrors.New(apperrors.CodeInvalidArgument, "user id and device id are required")
	}
	if len(responseJSON) == 0 {
		return storage.Credential{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
	}

	challenge, err := r.challenges.Consume(ctx, registrationKey(userID, deviceID), stores.PurposeRegistration)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) || errors.Is(err, stores.ErrExpired) {
			return storage.Credential{}, apperrors.Wrap(apperrors.CodeChallengeNotFound, "no registration in progress for device", err)
		}
		return storage.Credential{}, fmt.Errorf("consume registration challenge: %w", err)
	}

	var session registrationSession
	if err := json.Unmarshal(challenge.Payload, &session); err != nil {
		return storage.Credential{}, fmt.Errorf("decode registration session: %w", err)
	}

	account, err := r.accounts.GetAccount(ctx, userID)
	if err != nil {
		return storage.Credential{}, fmt.Errorf("load account: %w", err)
	}
	waUser, err := r.loadWebAuthnUser(ctx, account)
	if err != nil {
		return storage.Credential{}, err
	}

	parsed, err := r.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "credential response is malformed", err)
	}
	created, err := r.webAuthn.CreateCredential(waUser, session.Session, parsed)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeAssertionInvalid, "attestation did not verify", err)
	}

	credentialJSON, err := json.Marshal(created)
	if err != nil {
		return storage.Credential{}, err
	}

	now := r.clock().UTC()
	record := storage.Credential{
		CredentialID:   encodeCredentialID(created.ID),
		UserID:         userID,
		DeviceID:       deviceID,
		Label:          session.Label,
		CredentialJSON: string(credentialJSON),
		SignCount:      created.Authenticator.SignCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.credentials.PutCredential(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDeviceRegistered) {
			return storage.Credential{}, apperrors.WithMetadata(apperrors.CodeDeviceAlreadyRegistered,
				"device already has a registered credential", map[string]string{"device_id": deviceID})
		}
		return storage.Credential{}, fmt.Errorf("store credential: %w", err)
	}
	if err := r.accounts.SetHasCredential(ctx, userID, true, now); err != nil {
		return storage.Credential{}, fmt.Errorf("mark account credential flag: %w", err)
	}

	r.log.WithFields(map[string]interface{}{
		"user_id":       userID,
		"device_id":     deviceID,
		"credential_id": record.CredentialID,
	}).Info("credential registered")
	return record, nil
}

func (r *Registry) loadWebAuthnUser(ctx context.Context, account storage.Account) (*webAuthnUser, error) {
	records, err := r.credentials.ListCredentials(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webAuthnUser{account: account, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}
