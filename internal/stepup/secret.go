package stepup

import (
	"context"
	"errors"
	"fmt"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/storage"
)

// SecretResult is the outcome of a re-authentication check.
type SecretResult string

const (
	SecretVerified          SecretResult = "verified"
	SecretNeedsSecondFactor SecretResult = "needs-second-factor"
)

// VerifySecret re-authenticates a subject by address and stored secret. An
// enrolled second factor that was not supplied yields NeedsSecondFactor
// without counting as a failure; when supplied, secret and factor must
// both check out. With a purpose set, success grants the approval marker
// just like a verified code; without one it is a pure check.
//
// Failures are uniform: a missing account, a wrong secret, and a wrong
// second factor all report the same error kind.
func (v *Verifier) VerifySecret(ctx context.Context, address, secret, secondFactor string, purpose Purpose) (SecretResult, error) {
	if address == "" || secret == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "address and secret are required")
	}
	if purpose != "" && !KnownPurpose(purpose) {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "unknown step-up purpose")
	}

	account, err := v.accounts.GetAccountByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", apperrors.New(apperrors.CodeSecretIncorrect, "could not verify")
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if account.SecretHash == "" {
		return "", apperrors.New(apperrors.CodeSecretIncorrect, "could not verify")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(secret)); err != nil {
		return "", apperrors.New(apperrors.CodeSecretIncorrect, "could not verify")
	}

	if account.TOTPSecret != "" {
		if secondFactor == "" {
			return SecretNeedsSecondFactor, nil
		}
		if !totp.Validate(secondFactor, account.TOTPSecret) {
			return "", apperrors.New(apperrors.CodeSecretIncorrect, "could not verify")
		}
	}

	if purpose != "" {
		if err := v.approvals.Grant(ctx, account.ID, string(purpose), "reauth", v.config.ApprovalTTL); err != nil {
			return "", fmt.Errorf("grant approval: %w", err)
		}
	}
	return SecretVerified, nil
}
