package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/caremesh/synccore/audit"
	"github.com/caremesh/synccore/errs"
	"github.com/caremesh/synccore/model"
)

// ManuallyResolve applies a clinician-supplied resolution to a queued
// conflict. It is a single logical transaction: the conflict leaves
// pending status only if the final store update succeeds.
//
// Errors: errs.ErrNotFound when the conflict id is unknown,
// errs.ErrAlreadyResolved for a conflict that already left pending,
// errs.ErrPrecondition when the local or remote resource referenced by
// the conflict can no longer be located, errs.ErrInvalidResolution for
// an arity-violating resolution.
func (r *Resolver) ManuallyResolve(ctx context.Context, conflictID uuid.UUID, res *model.Resolution) error {
	if res == nil {
		return fmt.Errorf("nil resolution: %w", errs.ErrInvalidResolution)
	}
	if err := res.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, errs.ErrInvalidResolution)
	}

	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("load conflict %s: %w", conflictID, err)
	}

	mu := r.lockFor(c.ResourceType, c.ResourceID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a concurrent resolution may have landed
	// between the first load and lock acquisition.
	c, err = r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("load conflict %s: %w", conflictID, err)
	}
	if c.Status != model.ConflictPending {
		return fmt.Errorf("conflict %s: %w", conflictID, errs.ErrAlreadyResolved)
	}

	// Both sides must still be locatable before the resolution applies.
	if _, err := r.store.GetResource(ctx, c.ResourceType, c.ResourceID); err != nil {
		return referencedResourceErr("local", c, err)
	}
	if _, err := r.store.GetRemoteResource(ctx, c.ResourceType, c.ResourceID); err != nil {
		return referencedResourceErr("remote", c, err)
	}

	applied := *res
	if applied.ResolvedAt.IsZero() {
		applied.ResolvedAt = r.now()
	}

	updated := *c
	updated.Status = model.ConflictResolved
	updated.Resolution = &applied
	if err := r.store.UpdateConflict(ctx, &updated); err != nil {
		// Conflict remains pending in the store; nothing was half-applied.
		return fmt.Errorf("persist resolution for %s: %w", conflictID, err)
	}

	manualResolvedTotal.WithLabelValues(c.ResourceType, string(applied.Action)).Inc()
	return r.sink.Record(ctx, audit.Event{
		Type:        audit.EventManualResolution,
		Actor:       applied.ResolvedBy,
		Severity:    audit.SeverityInfo,
		Description: "conflict resolved manually",
		Metadata: map[string]string{
			"conflictId":   conflictID.String(),
			"resourceType": c.ResourceType,
			"resourceId":   c.ResourceID,
			"action":       string(applied.Action),
			"diff":         DiffSummary(c.Local, c.Remote),
		},
		At: applied.ResolvedAt,
	})
}

// referencedResourceErr maps a missing referenced resource onto the
// precondition error while passing other store failures through.
func referencedResourceErr(side string, c *model.Conflict, err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("%s resource %s/%s no longer in store: %w",
			side, c.ResourceType, c.ResourceID, errs.ErrPrecondition)
	}
	return fmt.Errorf("load %s resource %s/%s: %w", side, c.ResourceType, c.ResourceID, err)
}
