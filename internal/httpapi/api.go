// Package httpapi exposes the service over an HTTP JSON API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/keystep-id/keystep/internal/credential"
	"github.com/keystep-id/keystep/internal/flow"
	"github.com/keystep-id/keystep/internal/stepup"
	"github.com/keystep-id/keystep/internal/storage"
)

var validate = validator.New()

// API holds the handlers and their collaborators.
type API struct {
	registry *credential.Registry
	machine  *flow.Machine
	verifier *stepup.Verifier
	accounts storage.AccountStore

	jwtSecret []byte
	clock     func() time.Time
	log       *logrus.Entry
}

// New wires the API surface.
func New(registry *credential.Registry, machine *flow.Machine, verifier *stepup.Verifier, accounts storage.AccountStore, jwtSecret []byte) *API {
	return &API{
		registry:  registry,
		machine:   machine,
		verifier:  verifier,
		accounts:  accounts,
		jwtSecret: jwtSecret,
		clock:     time.Now,
		log:       logrus.WithField("component", "httpapi"),
	}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.requestLogging)
	r.Use(a.tracing)

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	// public ceremony endpoints
	r.HandleFunc("/v1/auth/begin", a.handleBeginAuthentication).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/complete", a.handleCompleteAuthentication).Methods(http.MethodPost)
	r.HandleFunc("/v1/stepup/reauth", a.handleVerifySecret).Methods(http.MethodPost)

	// handshake endpoints driven by the session issuer
	r.HandleFunc("/v1/handshake/decide", a.handleHandshakeDecide).Methods(http.MethodPost)
	r.HandleFunc("/v1/handshake/create", a.handleHandshakeCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/handshake/verify", a.handleHandshakeVerify).Methods(http.MethodPost)
	r.HandleFunc("/v1/handshake/restart", a.handleHandshakeRestart).Methods(http.MethodPost)

	// authenticated endpoints
	r.HandleFunc("/v1/credentials/registrations/begin", a.requireAuth(a.handleBeginRegistration)).Methods(http.MethodPost)
	r.HandleFunc("/v1/credentials/registrations/complete", a.requireAuth(a.handleCompleteRegistration)).Methods(http.MethodPost)
	r.HandleFunc("/v1/credentials", a.requireAuth(a.handleListCredentials)).Methods(http.MethodGet)
	r.HandleFunc("/v1/credentials/{credentialID}", a.requireAuth(a.handleDeleteCredential)).Methods(http.MethodDelete)
	r.HandleFunc("/v1/stepup/codes", a.requireAuth(a.handleSendCode)).Methods(http.MethodPost)
	r.HandleFunc("/v1/stepup/codes/verify", a.requireAuth(a.handleVerifyCode)).Methods(http.MethodPost)
	r.HandleFunc("/v1/account/contact", a.requireAuth(a.handleChangeContact)).Methods(http.MethodPost)
	r.HandleFunc("/v1/account", a.requireAuth(a.handleDeleteAccount)).Methods(http.MethodDelete)

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
