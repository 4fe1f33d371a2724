package credential

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/sirupsen/logrus"

	"github.com/keystep-id/keystep/internal/platform/id"
	"github.com/keystep-id/keystep/internal/storage"
	"github.com/keystep-id/keystep/internal/stores"
)

// relyingParty is the subset of the WebAuthn engine the registry drives.
type relyingParty interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultResponseParser struct{}

func (defaultResponseParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultResponseParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Config bounds the ephemeral artifacts the registry issues.
type Config struct {
	ChallengeTTL time.Duration
	TokenTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 2 * time.Minute
	}
	return c
}

// Registry owns credential ceremonies end to end. It persists credentials
// durably, keeps ceremony state in the challenge store, and mints a
// verification token when an assertion checks out.
type Registry struct {
	credentials storage.CredentialStore
	accounts    storage.AccountStore
	challenges  *stores.ChallengeStore
	tokens      *stores.TokenStore

	webAuthn relyingParty
	parser   responseParser

	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
	log         *logrus.Entry
}

// NewRegistry wires a registry from its stores and the WebAuthn engine.
func NewRegistry(credentials storage.CredentialStore, accounts storage.AccountStore, challenges *stores.ChallengeStore, tokens *stores.TokenStore, webAuthn relyingParty, cfg Config) *Registry {
	return &Registry{
		credentials: credentials,
		accounts:    accounts,
		challenges:  challenges,
		tokens:      tokens,
		webAuthn:    webAuthn,
		parser:      defaultResponseParser{},
		config:      cfg.withDefaults(),
		clock:       time.Now,
		idGenerator: id.NewID,
		log:         logrus.WithField("component", "credential"),
	}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// registrationKey correlates a begin call with its matching complete call.
// Registration ceremonies are scoped to the (user, device) pair.
func registrationKey(userID, deviceID string) string {
	return userID + ":" + deviceID
}

type webAuthnUser struct {
	account     storage.Account
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.account.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.account.Address
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.account.Address
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
