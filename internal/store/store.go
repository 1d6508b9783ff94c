// Package store defines the storage contract for live scripts.
//
// Adapters (the local sqlite repo, the remote HTTP client) implement Store; the
// export/import engine only ever talks to this interface.
package store

import (
	"context"
	"errors"

	"scriptline/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAmbiguousName = errors.New("ambiguous name")
	// ErrNameConflict reports a write that would give two live scripts the same name.
	ErrNameConflict = errors.New("name conflict")
)

// Store is the live script store.
type Store interface {
	// GetByID returns ErrNotFound when no script has the id.
	GetByID(ctx context.Context, id string) (domain.Script, error)
	// GetByName returns ErrNotFound when no live script has the name and
	// ErrAmbiguousName when more than one does.
	GetByName(ctx context.Context, name string) (domain.Script, error)
	List(ctx context.Context) ([]domain.Script, error)
	// Put creates or wholesale replaces the script stored under id.
	Put(ctx context.Context, id string, s domain.Script) (domain.Script, error)
	// Delete returns ErrNotFound when no script has the id.
	Delete(ctx context.Context, id string) error
}

type actorKey struct{}

// DefaultActor is recorded when no actor travels with the context.
const DefaultActor = "local-user"

// WithActor attaches the acting principal used for audit records.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor set by WithActor or DefaultActor.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultActor
}
