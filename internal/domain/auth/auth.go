// Package auth identifies the caller of an operation.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnauthenticated is returned when a request carries no valid credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Role is the authorization class of an actor.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller. For sellers ID is the seller id.
type Actor struct {
	ID   string
	Role Role
}

// System acts on behalf of the service itself, e.g. for verified gateway
// callbacks.
var System = Actor{ID: "system", Role: RoleAdmin}

func (a Actor) IsAdmin() bool    { return a.Role == RoleAdmin }
func (a Actor) IsSeller() bool   { return a.Role == RoleSeller }
func (a Actor) IsCustomer() bool { return a.Role == RoleCustomer }

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
