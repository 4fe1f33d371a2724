package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/storage"
	"github.com/keystep-id/keystep/internal/stores"
)

// Handshake is the per-attempt state the issuer threads through its three
// calls. The machine itself keeps nothing between requests.
type Handshake struct {
	State   State  `json:"state"`
	Subject string `json:"subject,omitempty"`
	Rounds  int    `json:"rounds"`
}

// NewHandshake starts a fresh login attempt.
func NewHandshake() Handshake {
	return Handshake{State: StateAwaitingProof}
}

// Decision is the outcome the issuer acts on.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionApprove  Decision = "approve"
	DecisionDeny     Decision = "deny"
)

// Prompt is the nominal challenge payload handed back during the create
// phase. The real proof already happened out of band, so it only names the
// mechanism the answer must come from.
type Prompt struct {
	Mechanism string `json:"mechanism"`
}

const promptMechanism = "verification-token"

// DecideInput carries the attempt metadata the issuer saw.
type DecideInput struct {
	ClaimsPasskey  bool
	SubjectAddress string
}

// Machine adapts the issuer's three-call contract onto the pure Step
// function, resolving subjects and redeeming verification tokens.
type Machine struct {
	tokens   *stores.TokenStore
	accounts storage.AccountStore
	log      *logrus.Entry
}

// NewMachine wires the handshake adapter.
func NewMachine(tokens *stores.TokenStore, accounts storage.AccountStore) *Machine {
	return &Machine{
		tokens:   tokens,
		accounts: accounts,
		log:      logrus.WithField("component", "flow"),
	}
}

// Decide runs the decide phase. On the first call it resolves the claimed
// subject and either opens the passwordless path or denies; on the second
// it arms the verify phase.
func (m *Machine) Decide(ctx context.Context, hs Handshake, in DecideInput) (Handshake, Decision, error) {
	event := Event{Kind: EventDecide, ClaimsPasskey: in.ClaimsPasskey}

	if hs.State == StateAwaitingProof && in.ClaimsPasskey {
		account, err := m.accounts.GetAccountByAddress(ctx, in.SubjectAddress)
		switch {
		case err == nil:
			event.SubjectEnabled = account.HasCredential
			hs.Subject = account.ID
		case errors.Is(err, storage.ErrNotFound):
			// unknown subject denies through the same path as a known
			// subject without a credential
		default:
			return hs, DecisionDeny, fmt.Errorf("resolve subject: %w", err)
		}
	}

	next, action := Step(hs.State, event)
	hs.State = next
	return hs, decisionFor(action), nil
}

// Create runs the create phase, emitting the nominal challenge prompt.
func (m *Machine) Create(hs Handshake) (Handshake, Prompt, error) {
	next, action := Step(hs.State, Event{Kind: EventCreate})
	hs.State = next
	if action != ActionEmitChallenge {
		return hs, Prompt{}, apperrors.New(apperrors.CodeUnauthenticated, "could not verify")
	}
	return hs, Prompt{Mechanism: promptMechanism}, nil
}

// Verify runs the final phase: the answer is redeemed as a verification
// token for the claimed subject. The token is consumed whether or not it
// matches, so a repeated verify with the same answer denies.
func (m *Machine) Verify(ctx context.Context, hs Handshake, answer string) (Handshake, Decision, error) {
	event := Event{Kind: EventVerify}

	if hs.State == StatePendingVerify && hs.Subject != "" && answer != "" {
		err := m.tokens.Redeem(ctx, hs.Subject, answer)
		switch {
		case err == nil:
			event.TokenVerified = true
		case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrExpired),
			apperrors.GetCode(err) == apperrors.CodeSecretIncorrect:
			m.log.WithFields(map[string]interface{}{
				"subject": hs.Subject,
				"reason":  apperrors.GetCode(err),
			}).Info("verification token rejected")
		default:
			return hs, DecisionDeny, fmt.Errorf("redeem verification token: %w", err)
		}
	}

	next, action := Step(hs.State, event)
	hs.State = next
	return hs, decisionFor(action), nil
}

// Restart begins the retry round the issuer is allowed. One retry per
// attempt: a second restart fails and the issuer must abandon the attempt.
func (m *Machine) Restart(hs Handshake) (Handshake, error) {
	if hs.Rounds >= 1 {
		return hs, apperrors.New(apperrors.CodeUnauthenticated, "could not verify")
	}
	return Handshake{State: StateAwaitingProof, Rounds: hs.Rounds + 1}, nil
}

func decisionFor(action Action) Decision {
	switch action {
	case ActionApprove:
		return DecisionApprove
	case ActionDeny:
		return DecisionDeny
	default:
		return DecisionContinue
	}
}
