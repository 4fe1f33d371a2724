package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/keystep-id/keystep/internal/platform/errors"
)

type contextKey string

const contextKeyUserID contextKey = "userID"

// userID returns the authenticated subject stored by requireAuth.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyUserID).(string)
	return id
}

// requireAuth validates the bearer token and stashes the subject in the
// request context. Every failure is the same 401 to the caller.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			a.respondVerifyFailure(w, apperrors.New(apperrors.CodeUnauthenticated, "missing bearer token"))
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apperrors.New(apperrors.CodeUnauthenticated, "unexpected signing method")
			}
			return a.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			a.respondVerifyFailure(w, apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid bearer token", err))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			a.respondVerifyFailure(w, apperrors.New(apperrors.CodeUnauthenticated, "invalid token claims"))
			return
		}
		subject, _ := claims["sub"].(string)
		if subject == "" {
			a.respondVerifyFailure(w, apperrors.New(apperrors.CodeUnauthenticated, "token missing subject"))
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyUserID, subject)
		next(w, r.WithContext(ctx))
	}
}

func (a *API) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		a.log.WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   recorder.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func (a *API) tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("keystep/httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
