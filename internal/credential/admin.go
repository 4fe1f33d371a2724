package credential

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/storage"
)

// ListCredentials returns the user's registered credentials, oldest first.
func (r *Registry) ListCredentials(ctx context.Context, userID string) ([]storage.Credential, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	records, err := r.credentials.ListCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return records, nil
}

// DeleteCredential removes one of the user's credentials. When the last
// credential goes, the account's has-credential flag is cleared so the
// login state machine stops offering the passwordless path.
func (r *Registry) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	if userID == "" || credentialID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id and credential id are required")
	}

	if err := r.credentials.DeleteCredential(ctx, userID, credentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeCredentialNotFound, "credential is not registered")
		}
		return fmt.Errorf("delete credential: %w", err)
	}

	remaining, err := r.credentials.ListCredentials(ctx, userID)
	if err != nil {
		return fmt.Errorf("list remaining credentials: %w", err)
	}
	if len(remaining) == 0 {
		if err := r.accounts.SetHasCredential(ctx, userID, false, r.clock().UTC()); err != nil {
			return fmt.Errorf("clear account credential flag: %w", err)
		}
	}

	r.log.WithFields(map[string]interface{}{
		"user_id":       userID,
		"credential_id": credentialID,
	}).Info("credential deleted")
	return nil
}

// DeleteAllCredentials removes every credential the user owns and clears
// the account flag. Used when the account itself is deleted.
func (r *Registry) DeleteAllCredentials(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if err := r.credentials.DeleteCredentialsByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	if err := r.accounts.SetHasCredential(ctx, userID, false, r.clock().UTC()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear account credential flag: %w", err)
	}
	return nil
}
