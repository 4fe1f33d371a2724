// Package flow implements the three-phase login handshake the external
// session issuer drives: decide whether the passwordless path applies,
// emit a nominal challenge, then verify the answer against a verification
// token. Transitions live in a pure function; side effects stay in the
// adapter.
package flow

// State is a phase of one login attempt.
type State string

const (
	StateAwaitingProof   State = "awaiting-proof"
	StateChallengeIssued State = "challenge-issued"
	StatePendingVerify   State = "pending-verify"
	StateApproved        State = "approved"
	StateDenied          State = "denied"
)

// Terminal reports whether the attempt can no longer move.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateDenied
}

// EventKind discriminates the issuer's three call shapes.
type EventKind string

const (
	EventDecide EventKind = "decide"
	EventCreate EventKind = "create"
	EventVerify EventKind = "verify"
)

// Event is one issuer call, with its inputs already resolved by the
// adapter. SubjectEnabled means the claimed subject has a live credential;
// TokenVerified means the supplied answer redeemed a verification token.
type Event struct {
	Kind           EventKind
	ClaimsPasskey  bool
	SubjectEnabled bool
	TokenVerified  bool
}

// Action tells the adapter what to do after a transition.
type Action string

const (
	ActionNone           Action = "none"
	ActionIssueChallenge Action = "issue-challenge"
	ActionEmitChallenge  Action = "emit-challenge"
	ActionAwaitAnswer    Action = "await-answer"
	ActionApprove        Action = "approve"
	ActionDeny           Action = "deny"
)

// Step applies one event to the current state. Unknown shapes deny: the
// passwordless path never degrades into accepting something else. Terminal
// states absorb every further event.
func Step(state State, event Event) (State, Action) {
	if state.Terminal() {
		if state == StateApproved {
			return StateApproved, ActionNone
		}
		return StateDenied, ActionDeny
	}

	switch state {
	case StateAwaitingProof:
		if event.Kind == EventDecide && event.ClaimsPasskey && event.SubjectEnabled {
			return StateChallengeIssued, ActionIssueChallenge
		}
		return StateDenied, ActionDeny

	case StateChallengeIssued:
		switch event.Kind {
		case EventCreate:
			return StateChallengeIssued, ActionEmitChallenge
		case EventDecide:
			return StatePendingVerify, ActionAwaitAnswer
		}
		return StateDenied, ActionDeny

	case StatePendingVerify:
		if event.Kind == EventVerify && event.TokenVerified {
			return StateApproved, ActionApprove
		}
		return StateDenied, ActionDeny
	}

	return StateDenied, ActionDeny
}
