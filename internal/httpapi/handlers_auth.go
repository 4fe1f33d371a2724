package httpapi

import (
	"encoding/json"
	"net/http"
)

type beginAuthenticationRequest struct {
	Address string `json:"address" validate:"omitempty,max=320"`
}

type beginAuthenticationResponse struct {
	CorrelationKey string          `json:"correlation_key"`
	Options        json.RawMessage `json:"options"`
}

// handleBeginAuthentication opens an assertion ceremony. The response
// shape is the same whether or not the hinted address is known.
func (a *API) handleBeginAuthentication(w http.ResponseWriter, r *http.Request) {
	var req beginAuthenticationRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	challenge, err := a.registry.BeginAuthentication(r.Context(), req.Address)
	if err != nil {
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, beginAuthenticationResponse{
		CorrelationKey: challenge.CorrelationKey,
		Options:        challenge.OptionsJSON,
	})
}

type completeAuthenticationRequest struct {
	CorrelationKey string          `json:"correlation_key" validate:"required"`
	Response       json.RawMessage `json:"response" validate:"required"`
}

type completeAuthenticationResponse struct {
	Subject string `json:"subject"`
	Token   string `json:"token"`
}

func (a *API) handleCompleteAuthentication(w http.ResponseWriter, r *http.Request) {
	var req completeAuthenticationRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	token, err := a.registry.CompleteAuthentication(r.Context(), req.CorrelationKey, req.Response)
	if err != nil {
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, completeAuthenticationResponse{
		Subject: token.Subject,
		Token:   token.Secret,
	})
}
