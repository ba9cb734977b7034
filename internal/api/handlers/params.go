// Package handlers maps the engine's HTTP surface onto the domain services.
// Each handler depends on a narrow local interface of the service it calls
// and mounts its own routes under /v1.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"parking/internal/types"
)

// Middleware wraps a handler. Ops-only routes are wrapped with
// core.Server.RequireOps through this type.
type Middleware func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

func orPassthrough(m Middleware) Middleware {
	if m == nil {
		return passthrough
	}
	return m
}

// pathInt64 parses a positive integer URL parameter.
func pathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			name+" must be a positive integer", nil, map[string]any{"param": name, "value": raw})
	}
	return v, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := pathInt64(r, name)
	return int(v), err
}

// pathCode reads the reservation code parameter. Codes are stored upper case.
func pathCode(r *http.Request) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	if code == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "reservation code is required", nil)
	}
	return code, nil
}

// driverActor returns the calling driver, or auth_identity_missing.
func driverActor(r *http.Request) (types.Actor, error) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.Type != types.ActorTypeDriver {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthIdentityMissing, "driver identity is required", nil)
	}
	return actor, nil
}
