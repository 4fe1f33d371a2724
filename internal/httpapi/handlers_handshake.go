package httpapi

import (
	"net/http"

	"github.com/keystep-id/keystep/internal/flow"
)

// The handshake endpoints adapt the session issuer's three-phase driving
// contract. The issuer threads the handshake blob through each call; the
// service keeps no per-attempt state of its own.

type handshakeDecideRequest struct {
	Handshake      flow.Handshake `json:"handshake"`
	ClaimsPasskey  bool           `json:"claims_passkey"`
	SubjectAddress string         `json:"subject_address" validate:"omitempty,max=320"`
}

type handshakeDecideResponse struct {
	Handshake flow.Handshake `json:"handshake"`
	Decision  flow.Decision  `json:"decision"`
}

func (a *API) handleHandshakeDecide(w http.ResponseWriter, r *http.Request) {
	var req handshakeDecideRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	hs, decision, err := a.machine.Decide(r.Context(), req.Handshake, flow.DecideInput{
		ClaimsPasskey:  req.ClaimsPasskey,
		SubjectAddress: req.SubjectAddress,
	})
	if err != nil {
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, handshakeDecideResponse{Handshake: hs, Decision: decision})
}

type handshakeCreateRequest struct {
	Handshake flow.Handshake `json:"handshake"`
}

type handshakeCreateResponse struct {
	Handshake flow.Handshake `json:"handshake"`
	Prompt    flow.Prompt    `json:"prompt"`
}

func (a *API) handleHandshakeCreate(w http.ResponseWriter, r *http.Request) {
	var req handshakeCreateRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	hs, prompt, err := a.machine.Create(req.Handshake)
	if err != nil {
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, handshakeCreateResponse{Handshake: hs, Prompt: prompt})
}

type handshakeRestartRequest struct {
	Handshake flow.Handshake `json:"handshake"`
}

type handshakeRestartResponse struct {
	Handshake flow.Handshake `json:"handshake"`
}

func (a *API) handleHandshakeRestart(w http.ResponseWriter, r *http.Request) {
	var req handshakeRestartRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	hs, err := a.machine.Restart(req.Handshake)
	if err != nil {
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, handshakeRestartResponse{Handshake: hs})
}

type handshakeVerifyRequest struct {
	Handshake flow.Handshake `json:"handshake"`
	Answer    string         `json:"answer"`
}

type handshakeVerifyResponse struct {
	Handshake flow.Handshake `json:"handshake"`
	Decision  flow.Decision  `json:"decision"`
}

func (a *API) handleHandshakeVerify(w http.ResponseWriter, r *http.Request) {
	var req handshakeVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	hs, decision, err := a.machine.Verify(r.Context(), req.Handshake, req.Answer)
	if err != nil {
		a.respondVerifyFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, handshakeVerifyResponse{Handshake: hs, Decision: decision})
}
