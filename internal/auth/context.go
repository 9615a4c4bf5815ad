package auth

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

type contextKey string

const (
	actorIDKey    contextKey = "actorID"
	remoteAddrKey contextKey = "remoteAddr"
	projectIDKey  contextKey = "projectID"
)

// ContextWithActorID returns a new context that carries the authenticated
// actor identity.
func ContextWithActorID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey, id)
}

// ActorIDFromContext retrieves the authenticated actor identity, if any.
func ActorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(actorIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// ContextWithRemoteAddr returns a new context carrying the caller's network
// origin address.
func ContextWithRemoteAddr(ctx context.Context, addr string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// RemoteAddrFromContext retrieves the caller's origin address, if captured.
func RemoteAddrFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(remoteAddrKey).(string)
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}

// ContextWithProjectID returns a new context scoped to one project.
func ContextWithProjectID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, projectIDKey, id)
}

// ProjectIDFromContext retrieves the project scope from the context, if any.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(projectIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ClientAddr extracts the bare client address from a request, preferring the
// first X-Forwarded-For hop when present.
func ClientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TransactionArgs is the ledger contributor resolving the actor and origin
// address from the request context. The origin address may later be
// stripped by the tracking policy.
func TransactionArgs(ctx context.Context) (versioning.TransactionArgs, error) {
	args := versioning.TransactionArgs{}
	if addr, ok := RemoteAddrFromContext(ctx); ok {
		args.RemoteAddr = null.StringFrom(addr)
	}
	if id, ok := ActorIDFromContext(ctx); ok {
		args.ActorID = uuid.NullUUID{UUID: id, Valid: true}
	}
	return args, nil
}
