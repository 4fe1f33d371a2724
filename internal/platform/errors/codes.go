// Package errors provides structured error handling for the auth subsystem.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Storage errors
	CodeNotFound     Code = "NOT_FOUND"
	CodeExpired      Code = "EXPIRED"
	CodeAddressTaken Code = "ADDRESS_TAKEN"

	// Credential errors
	CodeDeviceAlreadyRegistered Code = "DEVICE_ALREADY_REGISTERED"
	CodeCredentialNotFound      Code = "CREDENTIAL_NOT_FOUND"
	CodeChallengeNotFound       Code = "CHALLENGE_NOT_FOUND"
	CodeAssertionInvalid        Code = "ASSERTION_INVALID"
	CodeReplayDetected          Code = "REPLAY_DETECTED"

	// Step-up errors
	CodeStepUpCodeIncorrect     Code = "STEP_UP_CODE_INCORRECT"
	CodeStepUpAttemptsExhausted Code = "STEP_UP_ATTEMPTS_EXHAUSTED"
	CodeStepUpRequired          Code = "STEP_UP_REQUIRED"
	CodeSecondFactorRequired    Code = "SECOND_FACTOR_REQUIRED"
	CodeSecretIncorrect         Code = "SECRET_INCORRECT"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Infrastructure errors
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest

	case CodeUnauthenticated,
		CodeAssertionInvalid,
		CodeSecretIncorrect,
		CodeReplayDetected:
		return http.StatusUnauthorized

	case CodeStepUpRequired,
		CodeSecondFactorRequired:
		return http.StatusForbidden

	case CodeNotFound,
		CodeExpired,
		CodeCredentialNotFound,
		CodeChallengeNotFound:
		return http.StatusNotFound

	case CodeDeviceAlreadyRegistered,
		CodeAddressTaken:
		return http.StatusConflict

	case CodeStepUpCodeIncorrect:
		return http.StatusUnprocessableEntity

	case CodeStepUpAttemptsExhausted:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
