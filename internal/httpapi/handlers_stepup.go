package httpapi

import (
	"net/http"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
	"github.com/keystep-id/keystep/internal/stepup"
)

type sendCodeRequest struct {
	Purpose string `json:"purpose" validate:"required"`
	Address string `json:"address" validate:"omitempty,max=320"`
}

func (a *API) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	err := a.verifier.SendCode(r.Context(), userID(r.Context()), stepup.Purpose(req.Purpose), req.Address)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type verifyCodeRequest struct {
	Purpose string `json:"purpose" validate:"required"`
	Code    string `json:"code" validate:"required,max=16"`
}

func (a *API) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	err := a.verifier.VerifyCode(r.Context(), userID(r.Context()), stepup.Purpose(req.Purpose), req.Code)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

type verifySecretRequest struct {
	Address      string `json:"address" validate:"required,max=320"`
	Secret       string `json:"secret" validate:"required"`
	SecondFactor string `json:"second_factor" validate:"omitempty,max=16"`
	Purpose      string `json:"purpose" validate:"omitempty"`
}

// handleVerifySecret re-authenticates with the account secret. Failures
// are indistinguishable to the caller whatever their internal reason.
func (a *API) handleVerifySecret(w http.ResponseWriter, r *http.Request) {
	var req verifySecretRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	result, err := a.verifier.VerifySecret(r.Context(), req.Address, req.Secret, req.SecondFactor, stepup.Purpose(req.Purpose))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeInvalidArgument {
			a.respondError(w, err)
			return
		}
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(result)})
}
