// Package app assembles the service from its parts and runs it.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/keystep-id/keystep/internal/config"
	"github.com/keystep-id/keystep/internal/credential"
	"github.com/keystep-id/keystep/internal/flow"
	"github.com/keystep-id/keystep/internal/httpapi"
	"github.com/keystep-id/keystep/internal/notify"
	"github.com/keystep-id/keystep/internal/stepup"
	"github.com/keystep-id/keystep/internal/storage/sqlite"
	"github.com/keystep-id/keystep/internal/stores"
)

// Server owns the assembled service and its listener.
type Server struct {
	cfg   config.Config
	http  *http.Server
	store *sqlite.Store
	redis *redis.Client
	log   *logrus.Entry
}

// New builds the server from configuration.
func New(cfg config.Config) (*Server, error) {
	log := logrus.WithField("component", "app")

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		redisClient.Close()
		store.Close()
		return nil, fmt.Errorf("configure relying party: %w", err)
	}

	challenges := stores.NewChallengeStore(redisClient, "")
	tokens := stores.NewTokenStore(redisClient, "")
	otps := stores.NewOTPStore(redisClient, "", cfg.CodeMaxAttempts)
	approvals := stores.NewApprovalStore(redisClient, "")

	registry := credential.NewRegistry(store, store, challenges, tokens, wa, credential.Config{
		ChallengeTTL: cfg.ChallengeTTL,
		TokenTTL:     cfg.TokenTTL,
	})
	verifier := stepup.NewVerifier(otps, approvals, store, newSender(cfg, log), stepup.Config{
		CodeDigits:  cfg.CodeDigits,
		CodeTTL:     cfg.CodeTTL,
		ApprovalTTL: cfg.ApprovalTTL,
		ServiceName: cfg.RPDisplayName,
	})
	machine := flow.NewMachine(tokens, store)

	api := httpapi.New(registry, machine, verifier, store, []byte(cfg.JWTSecret))

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      api.Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store: store,
		redis: redisClient,
		log:   log,
	}, nil
}

// newSender picks the delivery channel from what is configured. With no
// provider credentials, codes land in the service log.
func newSender(cfg config.Config, log *logrus.Entry) notify.Sender {
	switch {
	case cfg.SendGridAPIKey != "":
		return notify.NewEmailSender(cfg.SendGridAPIKey, cfg.RPDisplayName, cfg.SendGridFrom, cfg.SendGridSandbox)
	case cfg.TwilioAccountSID != "":
		return notify.NewSMSSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromPhone)
	default:
		log.Warn("no delivery provider configured, codes go to the log")
		return notify.NewLogSender()
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	s.log.WithField("addr", listener.Addr().String()).Info("listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.closeStores()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("shutdown did not finish cleanly")
	}
	s.closeStores()
	s.log.Info("stopped")
	return nil
}

func (s *Server) closeStores() {
	if err := s.redis.Close(); err != nil {
		s.log.WithError(err).Warn("close redis")
	}
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("close store")
	}
}
