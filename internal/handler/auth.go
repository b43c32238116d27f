package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/pkg/httpmiddleware"
)

// APIKeyHeader carries seller and admin integration keys.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves the caller from a bearer token or an API key.
type Authenticator struct {
	tokens *auth.Tokens
	keys   *auth.Keys
}

// NewAuthenticator creates an Authenticator. Either source may be nil.
func NewAuthenticator(tokens *auth.Tokens, keys *auth.Keys) *Authenticator {
	return &Authenticator{tokens: tokens, keys: keys}
}

// Middleware rejects unauthenticated requests with 401 and stores the actor
// in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := auth.WithActor(r.Context(), actor)
		ctx = zctx.With(ctx, zap.String("actor_id", actor.ID), zap.String("role", string(actor.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (auth.Actor, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || a.tokens == nil {
			return auth.Actor{}, auth.ErrUnauthenticated
		}
		return a.tokens.Verify(strings.TrimSpace(token))
	}
	if key := r.Header.Get(APIKeyHeader); key != "" && a.keys != nil {
		return a.keys.Authenticate(r.Context(), key)
	}
	return auth.Actor{}, auth.ErrUnauthenticated
}

// ActorKey keys rate limiting by the authenticated actor and falls back to
// the client IP.
func ActorKey(r *http.Request) string {
	if a, ok := auth.FromContext(r.Context()); ok {
		return string(a.Role) + ":" + a.ID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

func actorOf(r *http.Request) auth.Actor {
	a, _ := auth.FromContext(r.Context())
	return a
}
