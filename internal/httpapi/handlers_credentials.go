package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/keystep-id/keystep/internal/stepup"
	"github.com/keystep-id/keystep/internal/storage"
)

type beginRegistrationRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	Label    string `json:"label" validate:"max=128"`
}

type beginRegistrationResponse struct {
	Options json.RawMessage `json:"options"`
	Address string          `json:"address"`
}

func (a *API) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	var req beginRegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	challenge, err := a.registry.BeginRegistration(r.Context(), userID(r.Context()), req.DeviceID, req.Label)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, beginRegistrationResponse{
		Options: challenge.OptionsJSON,
		Address: challenge.Address,
	})
}

type completeRegistrationRequest struct {
	DeviceID string          `json:"device_id" validate:"required"`
	Response json.RawMessage `json:"response" validate:"required"`
}

type credentialResponse struct {
	CredentialID string     `json:"credential_id"`
	DeviceID     string     `json:"device_id"`
	Label        string     `json:"label,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

func toCredentialResponse(c storage.Credential) credentialResponse {
	return credentialResponse{
		CredentialID: c.CredentialID,
		DeviceID:     c.DeviceID,
		Label:        c.Label,
		CreatedAt:    c.CreatedAt,
		LastUsedAt:   c.LastUsedAt,
	}
}

func (a *API) handleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var req completeRegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	cred, err := a.registry.CompleteRegistration(r.Context(), userID(r.Context()), req.DeviceID, req.Response)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

func (a *API) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := a.registry.ListCredentials(r.Context(), userID(r.Context()))
	if err != nil {
		a.respondError(w, err)
		return
	}
	out := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredentialResponse(c))
	}
	respondJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

// handleDeleteCredential removes one credential. The operation is gated
// on a fresh step-up approval.
func (a *API) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	if err := a.verifier.Authorize(r.Context(), uid, stepup.PurposeCredentialDeletion); err != nil {
		a.respondError(w, err)
		return
	}

	credentialID := mux.Vars(r)["credentialID"]
	if err := a.registry.DeleteCredential(r.Context(), uid, credentialID); err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
