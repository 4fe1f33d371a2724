// Package stepup gates sensitive account mutations behind a secondary
// proof of identity: an out-of-band numeric code or a re-authentication
// check. A successful proof grants a short-lived approval marker that the
// gated operation consumes.
package stepup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keystep-id/keystep/internal/notify"
	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/platform/random"
	"github.com/keystep-id/keystep/internal/storage"
	"github.com/keystep-id/keystep/internal/stores"
)

// Purpose names the gated mutation a step-up proof authorizes.
type Purpose string

const (
	PurposeContactChangeOld   Purpose = "contact-change-old"
	PurposeContactChangeNew   Purpose = "contact-change-new"
	PurposeAccountDeletion    Purpose = "account-deletion"
	PurposeCredentialDeletion Purpose = "credential-deletion"
)

// KnownPurpose reports whether the purpose tag is one the verifier gates.
func KnownPurpose(p Purpose) bool {
	switch p {
	case PurposeContactChangeOld, PurposeContactChangeNew, PurposeAccountDeletion, PurposeCredentialDeletion:
		return true
	}
	return false
}

// Config bounds the codes and the approval window.
type Config struct {
	CodeDigits  int
	CodeTTL     time.Duration
	ApprovalTTL time.Duration
	ServiceName string
}

func (c Config) withDefaults() Config {
	if c.CodeDigits <= 0 {
		c.CodeDigits = 6
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 5 * time.Minute
	}
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = 5 * time.Minute
	}
	if c.ServiceName == "" {
		c.ServiceName = "keystep"
	}
	return c
}

// Verifier runs both step-up methods and owns the approval markers.
type Verifier struct {
	otps      *stores.OTPStore
	approvals *stores.ApprovalStore
	accounts  storage.AccountStore
	sender    notify.Sender

	config Config
	log    *logrus.Entry
}

// NewVerifier wires a verifier from its stores and the delivery channel.
func NewVerifier(otps *stores.OTPStore, approvals *stores.ApprovalStore, accounts storage.AccountStore, sender notify.Sender, cfg Config) *Verifier {
	return &Verifier{
		otps:      otps,
		approvals: approvals,
		accounts:  accounts,
		sender:    sender,
		config:    cfg.withDefaults(),
		log:       logrus.WithField("component", "stepup"),
	}
}

// SendCode opens (or restarts) a code flow for the purpose. The code goes
// to the account's address except for the new-contact stage, which targets
// the caller-supplied address and requires the old stage to have passed.
func (v *Verifier) SendCode(ctx context.Context, userID string, purpose Purpose, address string) error {
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if !KnownPurpose(purpose) {
		return apperrors.New(apperrors.CodeInvalidArgument, "unknown step-up purpose")
	}

	account, err := v.accounts.GetAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	target := account.Address
	if purpose == PurposeContactChangeNew {
		if address == "" {
			return apperrors.New(apperrors.CodeInvalidArgument, "new address is required")
		}
		if _, err := v.approvals.Peek(ctx, userID, string(PurposeContactChangeOld)); err != nil {
			if errors.Is(err, stores.ErrNotFound) || errors.Is(err, stores.ErrExpired) {
				return apperrors.New(apperrors.CodeStepUpRequired, "current address must be verified first")
			}
			return fmt.Errorf("check contact-change chain: %w", err)
		}
		target = address
	}

	code, err := random.NumericCode(v.config.CodeDigits)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := v.otps.Put(ctx, userID, string(purpose), stores.HashCode(code), v.config.CodeTTL); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	msg := notify.Message{
		Address: target,
		Subject: v.config.ServiceName + " verification code",
		Body:    fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.", v.config.ServiceName, code, int(v.config.CodeTTL.Minutes())),
	}
	if err := v.sender.Send(ctx, msg); err != nil {
		// the stored code is unreachable without delivery; drop it so a
		// retry starts clean
		_ = v.otps.Cancel(ctx, userID, string(purpose))
		return fmt.Errorf("deliver code: %w", err)
	}

	v.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"purpose": purpose,
	}).Info("step-up code sent")
	return nil
}

// VerifyCode checks a presented code. Success grants the approval marker
// for the purpose; exhausting the attempt budget invalidates the code and
// the flow must restart with SendCode.
func (v *Verifier) VerifyCode(ctx context.Context, userID string, purpose Purpose, code string) error {
	if userID == "" || code == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id and code are required")
	}
	if !KnownPurpose(purpose) {
		return apperrors.New(apperrors.CodeInvalidArgument, "unknown step-up purpose")
	}

	err := v.otps.Verify(ctx, userID, string(purpose), code)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrCodeIncorrect):
		return apperrors.New(apperrors.CodeStepUpCodeIncorrect, "code is incorrect")
	case errors.Is(err, stores.ErrAttemptsExhausted):
		v.log.WithFields(map[string]interface{}{
			"user_id": userID,
			"purpose": purpose,
		}).Warn("step-up attempts exhausted")
		return apperrors.New(apperrors.CodeStepUpAttemptsExhausted, "too many attempts, request a new code")
	case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrExpired):
		return apperrors.New(apperrors.CodeNotFound, "no code outstanding")
	default:
		return fmt.Errorf("verify code: %w", err)
	}

	if err := v.approvals.Grant(ctx, userID, string(purpose), "otp", v.config.ApprovalTTL); err != nil {
		return fmt.Errorf("grant approval: %w", err)
	}
	return nil
}

// Authorize consumes the approval marker for a gated operation. One
// successful step-up authorizes exactly one operation.
func (v *Verifier) Authorize(ctx context.Context, userID string, purpose Purpose) error {
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if _, err := v.approvals.Take(ctx, userID, string(purpose)); err != nil {
		if errors.Is(err, stores.ErrNotFound) || errors.Is(err, stores.ErrExpired) {
			return apperrors.New(apperrors.CodeStepUpRequired, "step-up verification required")
		}
		return fmt.Errorf("take approval: %w", err)
	}
	return nil
}

// RestoreApproval re-grants an approval that a gated operation consumed
// and then failed to use, so the caller does not redo the step-up flow.
func (v *Verifier) RestoreApproval(ctx context.Context, userID string, purpose Purpose) {
	if err := v.approvals.Grant(ctx, userID, string(purpose), "restored", v.config.ApprovalTTL); err != nil {
		v.log.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"purpose": purpose,
		}).Warn("restore approval failed")
	}
}

// ReleaseApproval drops an outstanding approval marker. Used to tear down
// the first stage of a contact change after the commit.
func (v *Verifier) ReleaseApproval(ctx context.Context, userID string, purpose Purpose) {
	if _, err := v.approvals.Take(ctx, userID, string(purpose)); err != nil &&
		!errors.Is(err, stores.ErrNotFound) && !errors.Is(err, stores.ErrExpired) {
		v.log.WithError(err).Warn("release approval failed")
	}
}
