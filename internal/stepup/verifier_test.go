package stepup

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/keystep-id/keystep/internal/notify"
	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/storage"
	"github.com/keystep-id/keystep/internal/stores"
)

type fakeSender struct {
	messages []notify.Message
	sendErr  error
}

func (s *fakeSender) Send(_ context.Context, msg notify.Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

type fakeAccountStore struct {
	accounts map[string]storage.Account
}

func (s *fakeAccountStore) PutAccount(_ context.Context, account storage.Account) error {
	s.accounts[account.ID] = account
	return nil
}

func (s *fakeAccountStore) GetAccount(_ context.Context, id string) (storage.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return storage.Account{}, storage.ErrNotFound
	}
	return account, nil
}

func (s *fakeAccountStore) GetAccountByAddress(_ context.Context, address string) (storage.Account, error) {
	for _, account := range s.accounts {
		if account.Address == address {
			return account, nil
		}
	}
	return storage.Account{}, storage.ErrNotFound
}

func (s *fakeAccountStore) SetHasCredential(_ context.Context, id string, has bool, now time.Time) error {
	account, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	account.HasCredential = has
	account.UpdatedAt = now
	s.accounts[id] = account
	return nil
}

func (s *fakeAccountStore) UpdateAccountAddress(_ context.Context, id, address string, now time.Time) error {
	account, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	account.Address = address
	account.UpdatedAt = now
	s.accounts[id] = account
	return nil
}

func (s *fakeAccountStore) DeleteAccount(_ context.Context, id string) error {
	if _, ok := s.accounts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}

var codePattern = regexp.MustCompile(`\d{6}`)

type verifierFixture struct {
	verifier *Verifier
	sender   *fakeSender
	accounts *fakeAccountStore
}

func newTestVerifier(t *testing.T) *verifierFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sender := &fakeSender{}
	accounts := &fakeAccountStore{accounts: map[string]storage.Account{
		"user-1": {ID: "user-1", Address: "alice@example.com"},
	}}
	verifier := NewVerifier(
		stores.NewOTPStore(client, "", 3),
		stores.NewApprovalStore(client, ""),
		accounts,
		sender,
		Config{},
	)
	return &verifierFixture{verifier: verifier, sender: sender, accounts: accounts}
}

func (fx *verifierFixture) lastCode(t *testing.T) string {
	t.Helper()
	if len(fx.sender.messages) == 0 {
		t.Fatal("no message delivered")
	}
	code := codePattern.FindString(fx.sender.messages[len(fx.sender.messages)-1].Body)
	if code == "" {
		t.Fatal("no code in message body")
	}
	return code
}

func TestSendCodeDeliversToAccountAddress(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	if err := fx.verifier.SendCode(ctx, "user-1", PurposeCredentialDeletion, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if got := fx.sender.messages[0].Address; got != "alice@example.com" {
		t.Errorf("delivery address = %q, want %q", got, "alice@example.com")
	}

	code := fx.lastCode(t)
	if err := fx.verifier.VerifyCode(ctx, "user-1", PurposeCredentialDeletion, code); err != nil {
		t.Fatalf("VerifyCode failed: %v", err)
	}
}

func TestVerifyCodeGrantsApprovalOnce(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	if err := fx.verifier.SendCode(ctx, "user-1", PurposeAccountDeletion, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if err := fx.verifier.VerifyCode(ctx, "user-1", PurposeAccountDeletion, fx.lastCode(t)); err != nil {
		t.Fatalf("VerifyCode failed: %v", err)
	}

	if err := fx.verifier.Authorize(ctx, "user-1", PurposeAccountDeletion); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	err := fx.verifier.Authorize(ctx, "user-1", PurposeAccountDeletion)
	if apperrors.GetCode(err) != apperrors.CodeStepUpRequired {
		t.Fatalf("second Authorize error code = %v, want CodeStepUpRequired", apperrors.GetCode(err))
	}
}

func TestRestoreApprovalAfterFailedOperation(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	if err := fx.verifier.SendCode(ctx, "user-1", PurposeContactChangeOld, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if err := fx.verifier.VerifyCode(ctx, "user-1", PurposeContactChangeOld, fx.lastCode(t)); err != nil {
		t.Fatalf("VerifyCode failed: %v", err)
	}

	if err := fx.verifier.Authorize(ctx, "user-1", PurposeContactChangeOld); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	fx.verifier.RestoreApproval(ctx, "user-1", PurposeContactChangeOld)

	if err := fx.verifier.Authorize(ctx, "user-1", PurposeContactChangeOld); err != nil {
		t.Fatalf("Authorize after restore failed: %v", err)
	}
}

func TestVerifyCodeIncorrectThenExhausted(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	if err := fx.verifier.SendCode(ctx, "user-1", PurposeCredentialDeletion, ""); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	code := fx.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 2; i++ {
		err := fx.verifier.VerifyCode(ctx, "user-1", PurposeCredentialDeletion, wrong)
		if apperrors.GetCode(err) != apperrors.CodeStepUpCodeIncorrect {
			t.Fatalf("guess %d error code = %v, want CodeStepUpCodeIncorrect", i+1, apperrors.GetCode(err))
		}
	}
	err := fx.verifier.VerifyCode(ctx, "user-1", PurposeCredentialDeletion, wrong)
	if apperrors.GetCode(err) != apperrors.CodeStepUpAttemptsExhausted {
		t.Fatalf("third guess error code = %v, want CodeStepUpAttemptsExhausted", apperrors.GetCode(err))
	}

	// the record is gone; even the correct code fails until a new send
	err = fx.verifier.VerifyCode(ctx, "user-1", PurposeCredentialDeletion, code)
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		t.Fatalf("post-exhaustion error code = %v, want CodeNotFound", apperrors.GetCode(err))
	}
}

func TestVerifyCodeWithoutSend(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	err := fx.verifier.VerifyCode(ctx, "user-1", PurposeAccountDeletion, "123456")
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		t.Fatalf("error code = %v, want CodeNotFound", apperrors.GetCode(err))
	}
}

func TestContactChangeChainRequiresOldStage(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	err := fx.verifier.SendCode(ctx, "user-1", PurposeContactChangeNew, "new@example.com")
	if apperrors.GetCode(err) != apperrors.CodeStepUpRequired {
		t.Fatalf("error code = %v, want CodeStepUpRequired", apperrors.GetCode(err))
	}

	// stage one: prove the old address
	if err := fx.verifier.SendCode(ctx, "user-1", PurposeContactChangeOld, ""); err != nil {
		t.Fatalf("SendCode old failed: %v", err)
	}
	if err := fx.verifier.VerifyCode(ctx, "user-1", PurposeContactChangeOld, fx.lastCode(t)); err != nil {
		t.Fatalf("VerifyCode old failed: %v", err)
	}

	// stage two now opens and targets the new address
	if err := fx.verifier.SendCode(ctx, "user-1", PurposeContactChangeNew, "new@example.com"); err != nil {
		t.Fatalf("SendCode new failed: %v", err)
	}
	last := fx.sender.messages[len(fx.sender.messages)-1]
	if last.Address != "new@example.com" {
		t.Errorf("delivery address = %q, want %q", last.Address, "new@example.com")
	}
}

func TestSendCodeDeliveryFailureDropsCode(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	fx.sender.sendErr = errors.New("provider down")
	if err := fx.verifier.SendCode(ctx, "user-1", PurposeAccountDeletion, ""); err == nil {
		t.Fatal("SendCode succeeded, want delivery error")
	}

	fx.sender.sendErr = nil
	err := fx.verifier.VerifyCode(ctx, "user-1", PurposeAccountDeletion, "123456")
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		t.Fatalf("error code = %v, want CodeNotFound", apperrors.GetCode(err))
	}
}

func TestSendCodeUnknownPurpose(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	err := fx.verifier.SendCode(ctx, "user-1", Purpose("password-reset"), "")
	if apperrors.GetCode(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("error code = %v, want CodeInvalidArgument", apperrors.GetCode(err))
	}
}

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash: %v", err)
	}
	return string(hash)
}

func TestVerifySecret(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)
	account := fx.accounts.accounts["user-1"]
	account.SecretHash = hashSecret(t, "hunter2")
	fx.accounts.accounts["user-1"] = account

	result, err := fx.verifier.VerifySecret(ctx, "alice@example.com", "hunter2", "", "")
	if err != nil {
		t.Fatalf("VerifySecret failed: %v", err)
	}
	if result != SecretVerified {
		t.Fatalf("result = %q, want verified", result)
	}

	_, err = fx.verifier.VerifySecret(ctx, "alice@example.com", "wrong", "", "")
	if apperrors.GetCode(err) != apperrors.CodeSecretIncorrect {
		t.Fatalf("wrong secret error code = %v, want CodeSecretIncorrect", apperrors.GetCode(err))
	}

	_, err = fx.verifier.VerifySecret(ctx, "nobody@example.com", "hunter2", "", "")
	if apperrors.GetCode(err) != apperrors.CodeSecretIncorrect {
		t.Fatalf("unknown address error code = %v, want CodeSecretIncorrect", apperrors.GetCode(err))
	}
}

func TestVerifySecretSecondFactor(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "keystep", AccountName: "alice@example.com"})
	if err != nil {
		t.Fatalf("generate totp secret: %v", err)
	}
	account := fx.accounts.accounts["user-1"]
	account.SecretHash = hashSecret(t, "hunter2")
	account.TOTPSecret = key.Secret()
	fx.accounts.accounts["user-1"] = account

	result, err := fx.verifier.VerifySecret(ctx, "alice@example.com", "hunter2", "", "")
	if err != nil {
		t.Fatalf("VerifySecret failed: %v", err)
	}
	if result != SecretNeedsSecondFactor {
		t.Fatalf("result = %q, want needs-second-factor", result)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	result, err = fx.verifier.VerifySecret(ctx, "alice@example.com", "hunter2", code, "")
	if err != nil {
		t.Fatalf("VerifySecret with factor failed: %v", err)
	}
	if result != SecretVerified {
		t.Fatalf("result = %q, want verified", result)
	}

	_, err = fx.verifier.VerifySecret(ctx, "alice@example.com", "hunter2", "000000", "")
	if apperrors.GetCode(err) != apperrors.CodeSecretIncorrect {
		t.Fatalf("wrong factor error code = %v, want CodeSecretIncorrect", apperrors.GetCode(err))
	}
}

func TestVerifySecretGrantsApproval(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)
	account := fx.accounts.accounts["user-1"]
	account.SecretHash = hashSecret(t, "hunter2")
	fx.accounts.accounts["user-1"] = account

	result, err := fx.verifier.VerifySecret(ctx, "alice@example.com", "hunter2", "", PurposeCredentialDeletion)
	if err != nil || result != SecretVerified {
		t.Fatalf("VerifySecret = %q, %v, want verified", result, err)
	}
	if err := fx.verifier.Authorize(ctx, "user-1", PurposeCredentialDeletion); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
}

func TestVerifySecretSendsNothing(t *testing.T) {
	ctx := context.Background()
	fx := newTestVerifier(t)

	account := fx.accounts.accounts["user-1"]
	account.SecretHash = hashSecret(t, "hunter2")
	fx.accounts.accounts["user-1"] = account
	if _, err := fx.verifier.VerifySecret(ctx, "alice@example.com", "hunter2", "", ""); err != nil {
		t.Fatalf("VerifySecret failed: %v", err)
	}
	if len(fx.sender.messages) != 0 {
		t.Fatalf("messages sent = %d, want 0", len(fx.sender.messages))
	}
}
