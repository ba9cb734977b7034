package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"parking/internal/types"
)

// Identity headers set by the upstream gateway after it authenticated the
// caller. The engine trusts them as-is.
const (
	HeaderDriverID     = "X-Driver-ID"
	HeaderOwnerID      = "X-Owner-ID"
	HeaderClientSource = "X-Client-Source"
)

// IdentityMiddleware turns the gateway identity headers into a types.Actor
// on the request context. Requests without identity headers pass through
// unchanged; handlers that need an identity reject them. When both headers
// are present the driver identity wins, since every driver-facing operation
// acts on the driver's own reservations.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor types.Actor
		switch {
		case strings.TrimSpace(r.Header.Get(HeaderDriverID)) != "":
			actor = types.Actor{ID: strings.TrimSpace(r.Header.Get(HeaderDriverID)), Type: types.ActorTypeDriver}
		case strings.TrimSpace(r.Header.Get(HeaderOwnerID)) != "":
			actor = types.Actor{ID: strings.TrimSpace(r.Header.Get(HeaderOwnerID)), Type: types.ActorTypeOwner}
		default:
			next.ServeHTTP(w, r)
			return
		}
		actor.Source = r.Header.Get(HeaderClientSource)
		if actor.Source == "" {
			actor.Source = "default"
		}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// RequireOps guards maintenance endpoints. It extracts the bearer token,
// verifies it with s.OpsAuth and injects the resulting system Actor,
// replacing any gateway identity.
func (s *Server) RequireOps(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.OpsAuth == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "maintenance endpoints are disabled")
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.OpsAuth.Verify(r.Context(), token)
		if err != nil || actor == nil {
			s.Logger.WarnContext(r.Context(), "ops authentication failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(types.CodeOf(err))),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header value,
// matching the scheme case-insensitively. Anything else yields "".
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// writeAuthError writes a 401 envelope with the given code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// OpsAuthenticator accepts a single shared operator token, stored only as a
// bcrypt hash.
type OpsAuthenticator struct {
	hash []byte
}

// NewOpsAuthenticator returns nil when hash is unset so that the Server's
// OpsAuth stays nil and maintenance endpoints are disabled.
func NewOpsAuthenticator(hash types.SecretString) *OpsAuthenticator {
	if !hash.IsSet() {
		return nil
	}
	return &OpsAuthenticator{hash: []byte(hash.Unmask())}
}

// Verify implements Authenticator.
func (a *OpsAuthenticator) Verify(_ context.Context, token string) (*types.Actor, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid ops token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "ops token hash is unusable", err)
	}
	return &types.Actor{ID: "ops", Type: types.ActorTypeSystem, Source: "ops"}, nil
}
