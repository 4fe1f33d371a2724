package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeReplayDetected, "counter regression")
	if !stderrors.Is(err, New(CodeReplayDetected, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeNotFound, "counter regression")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestGetCodeUnwrapsChains(t *testing.T) {
	domain := New(CodeChallengeNotFound, "challenge missing")
	wrapped := fmt.Errorf("complete authentication: %w", domain)
	if got := GetCode(wrapped); got != CodeChallengeNotFound {
		t.Fatalf("GetCode = %q, want %q", got, CodeChallengeNotFound)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("GetCode = %q, want %q", got, CodeUnknown)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("GetCode(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk failure")
	err := Wrap(CodeStoreUnavailable, "put credential", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument:         http.StatusBadRequest,
		CodeUnauthenticated:         http.StatusUnauthorized,
		CodeAssertionInvalid:        http.StatusUnauthorized,
		CodeReplayDetected:          http.StatusUnauthorized,
		CodeNotFound:                http.StatusNotFound,
		CodeExpired:                 http.StatusNotFound,
		CodeChallengeNotFound:       http.StatusNotFound,
		CodeDeviceAlreadyRegistered: http.StatusConflict,
		CodeStepUpRequired:          http.StatusForbidden,
		CodeStepUpCodeIncorrect:     http.StatusUnprocessableEntity,
		CodeStepUpAttemptsExhausted: http.StatusTooManyRequests,
		CodeStoreUnavailable:        http.StatusInternalServerError,
		CodeUnknown:                 http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Fatalf("HTTPStatus(%q) = %d, want %d", code, got, want)
		}
	}
}
