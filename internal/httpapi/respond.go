package httpapi

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError surfaces the error code to callers. Used for
// authenticated administrative endpoints where specific reasons
// are safe to return.
func (a *API) respondError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).Error("request failed")
		respondJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

// respondVerifyFailure collapses every verification failure into the
// same response body. The distinct reason is kept in the logs only.
func (a *API) respondVerifyFailure(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).Error("verification failed")
		respondJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	a.log.WithError(err).WithField("code", code).Info("verification rejected")
	respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "could not verify"})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "malformed request body")
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}
