// Package store declares the resource store contract the engine consumes.
// The engine never implements persistence; an application-layer store
// (local database, sync cache) satisfies this interface.
package store

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/caremesh/synccore/model"
)

// ResourceStore provides versioned access to local and remote resource
// copies plus conflict persistence. Implementations return
// errs.ErrNotFound for missing entities.
type ResourceStore interface {
	// GetResource returns the current local version of a resource.
	GetResource(ctx context.Context, resourceType, id string) (*model.Resource, error)

	// GetRemoteResource returns the last known server version of a resource.
	GetRemoteResource(ctx context.Context, resourceType, id string) (*model.Resource, error)

	// GetResourceVersions returns the append-only history for a resource,
	// ordered by ascending version id.
	GetResourceVersions(ctx context.Context, resourceType, id string) ([]model.ResourceVersion, error)

	// GetConflict returns a conflict by id.
	GetConflict(ctx context.Context, id uuid.UUID) (*model.Conflict, error)

	// UpdateConflict persists a conflict record, replacing any previous state.
	UpdateConflict(ctx context.Context, c *model.Conflict) error

	// GetActiveConflicts returns all conflicts still pending resolution.
	GetActiveConflicts(ctx context.Context) ([]*model.Conflict, error)
}
