package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/platform/random"
	"github.com/keystep-id/keystep/internal/storage"
	"github.com/keystep-id/keystep/internal/stores"
)

// AuthenticationChallenge is handed to the client authenticator to sign.
// The correlation key links the eventual completion back to this begin call.
type AuthenticationChallenge struct {
	CorrelationKey string
	OptionsJSON    json.RawMessage
}

// VerificationToken proves a completed assertion to the login state
// machine. The secret is single use.
type VerificationToken struct {
	Subject string
	Secret  string
}

// BeginAuthentication opens an authentication ceremony. The subject hint is
// not resolved here: the response shape is identical whether or not the
// hinted address exists, so the endpoint does not leak account presence.
func (r *Registry) BeginAuthentication(ctx context.Context, subjectHint string) (AuthenticationChallenge, error) {
	assertion, session, err := r.webAuthn.BeginDiscoverableLogin()
	if err != nil {
		return AuthenticationChallenge{}, fmt.Errorf("begin authentication ceremony: %w", err)
	}

	correlationKey, err := r.idGenerator()
	if err != nil {
		return AuthenticationChallenge{}, fmt.Errorf("create correlation key: %w", err)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return AuthenticationChallenge{}, err
	}
	if err := r.challenges.Put(ctx, correlationKey, stores.PurposeAuthentication, payload, subjectHint, r.config.ChallengeTTL); err != nil {
		return AuthenticationChallenge{}, fmt.Errorf("store authentication challenge: %w", err)
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return AuthenticationChallenge{}, err
	}
	return AuthenticationChallenge{CorrelationKey: correlationKey, OptionsJSON: optionsJSON}, nil
}

// CompleteAuthentication verifies a signed assertion against the challenge
// opened under the correlation key. The challenge is consumed up front, so
// the same correlation key can complete at most once regardless of outcome.
// A verified assertion advances the stored replay counter and mints a
// verification token for the subject.
func (r *Registry) CompleteAuthentication(ctx context.Context, correlationKey string, responseJSON []byte) (VerificationToken, error) {
	if correlationKey == "" {
		return VerificationToken{}, apperrors.New(apperrors.CodeInvalidArgument, "correlation key is required")
	}
	if len(responseJSON) == 0 {
		return VerificationToken{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
	}

	challenge, err := r.challenges.Consume(ctx, correlationKey, stores.PurposeAuthentication)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) || errors.Is(err, stores.ErrExpired) {
			return VerificationToken{}, apperrors.Wrap(apperrors.CodeChallengeNotFound, "no authentication in progress for key", err)
		}
		return VerificationToken{}, fmt.Errorf("consume authentication challenge: %w", err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(challenge.Payload, &session); err != nil {
		return VerificationToken{}, fmt.Errorf("decode authentication session: %w", err)
	}

	parsed, err := r.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return VerificationToken{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "credential response is malformed", err)
	}

	validatedUser, validated, err := r.webAuthn.ValidatePasskeyLogin(r.discoverableUserHandler(ctx), session, parsed)
	if err != nil {
		return VerificationToken{}, apperrors.Wrap(apperrors.CodeAssertionInvalid, "assertion did not verify", err)
	}
	owner, ok := validatedUser.(*webAuthnUser)
	if !ok {
		return VerificationToken{}, fmt.Errorf("unexpected user type %T from assertion validation", validatedUser)
	}

	credentialID := encodeCredentialID(validated.ID)
	stored, err := r.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return VerificationToken{}, apperrors.New(apperrors.CodeCredentialNotFound, "credential is not registered")
		}
		return VerificationToken{}, fmt.Errorf("load credential: %w", err)
	}
	if stored.UserID != owner.account.ID {
		return VerificationToken{}, apperrors.New(apperrors.CodeCredentialNotFound, "credential is not registered")
	}

	newCount := validated.Authenticator.SignCount
	if validated.Authenticator.CloneWarning || newCount <= stored.SignCount {
		r.log.WithFields(map[string]interface{}{
			"user_id":       stored.UserID,
			"credential_id": credentialID,
			"stored_count":  stored.SignCount,
			"claimed_count": newCount,
			"clone_warning": validated.Authenticator.CloneWarning,
		}).Warn("replay counter regression on assertion")
		return VerificationToken{}, apperrors.New(apperrors.CodeReplayDetected, "assertion replay detected")
	}

	credentialJSON, err := json.Marshal(validated)
	if err != nil {
		return VerificationToken{}, err
	}
	now := r.clock().UTC()
	stored.CredentialJSON = string(credentialJSON)
	stored.SignCount = newCount
	stored.UpdatedAt = now
	stored.LastUsedAt = &now
	if err := r.credentials.PutCredential(ctx, stored); err != nil {
		return VerificationToken{}, fmt.Errorf("update credential: %w", err)
	}

	secret, err := random.Token(32)
	if err != nil {
		return VerificationToken{}, fmt.Errorf("create verification token: %w", err)
	}
	if err := r.tokens.Issue(ctx, stored.UserID, secret, r.config.TokenTTL); err != nil {
		return VerificationToken{}, fmt.Errorf("store verification token: %w", err)
	}

	return VerificationToken{Subject: stored.UserID, Secret: secret}, nil
}

func (r *Registry) discoverableUserHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := string(userHandle)
		if userID == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		account, err := r.accounts.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		return r.loadWebAuthnUser(ctx, account)
	}
}
