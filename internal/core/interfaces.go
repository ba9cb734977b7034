package core

import (
	"context"

	"parking/internal/types"
)

// Authenticator resolves a bearer token to the Actor it belongs to. It is
// only consulted on maintenance endpoints; drivers and owners are identified
// by the upstream gateway.
type Authenticator interface {
	// Verify returns ErrCodeAuthTokenInvalid for any token it does not accept.
	Verify(ctx context.Context, token string) (*types.Actor, error)
}
