package conflict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/caremesh/synccore/model"
)

// fieldChange is one side's edit to a single field since the ancestor.
type fieldChange struct {
	value   any
	deleted bool
}

// threeWayMerge reconciles local and remote against their common
// ancestor from resource history. It returns (nil, nil) when the merge
// is impossible: no ancestor, or both sides changed the same field to
// different values. The engine never guesses which clinical value is
// correct.
func (r *Resolver) threeWayMerge(ctx context.Context, local, remote *model.Resource) (*model.Resource, error) {
	ancestor, err := r.findAncestor(ctx, local, remote)
	if err != nil {
		return nil, err
	}
	if ancestor == nil {
		return nil, nil
	}

	localChanges := changeSet(ancestor.Body, local.Body)
	remoteChanges := changeSet(ancestor.Body, remote.Body)

	for field, lc := range localChanges {
		rc, overlap := remoteChanges[field]
		if overlap && !sameChange(lc, rc) {
			// Conflict within the conflict; a human decides.
			return nil, nil
		}
	}

	merged := remote.Clone()
	if merged.Body == nil {
		merged.Body = make(map[string]any)
	}
	for field, lc := range localChanges {
		if _, overlap := remoteChanges[field]; overlap {
			continue // identical change, already present in remote
		}
		if lc.deleted {
			delete(merged.Body, field)
		} else {
			merged.Body[field] = lc.value
		}
	}

	ver := local.Meta.VersionID
	if remote.Meta.VersionID > ver {
		ver = remote.Meta.VersionID
	}
	merged.Meta.VersionID = ver + 1
	merged.Meta.LastUpdated = r.now()
	merged.Meta.Tags = appendTag(merged.Meta.Tags, "auto-merged")
	return merged, nil
}

// findAncestor walks the append-only history newest-first and picks the
// latest snapshot both sides descend from: version id not above either
// side's. Snapshots whose recorded hash no longer matches their content
// are skipped.
func (r *Resolver) findAncestor(ctx context.Context, local, remote *model.Resource) (*model.Resource, error) {
	versions, err := r.store.GetResourceVersions(ctx, local.Type, local.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	maxVer := local.Meta.VersionID
	if remote.Meta.VersionID < maxVer {
		maxVer = remote.Meta.VersionID
	}
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.VersionID > maxVer || v.Resource == nil {
			continue
		}
		if v.Hash != "" && v.Hash != v.Resource.BodyHash() {
			continue
		}
		return v.Resource, nil
	}
	return nil, nil
}

// changeSet computes the ancestor→side field-level edits. Body maps
// already exclude id and meta by construction.
func changeSet(ancestor, side map[string]any) map[string]fieldChange {
	changes := make(map[string]fieldChange)
	for field, v := range side {
		old, existed := ancestor[field]
		if !existed || !jsonEqual(old, v) {
			changes[field] = fieldChange{value: v}
		}
	}
	for field := range ancestor {
		if _, ok := side[field]; !ok {
			changes[field] = fieldChange{deleted: true}
		}
	}
	return changes
}

func sameChange(a, b fieldChange) bool {
	if a.deleted || b.deleted {
		return a.deleted == b.deleted
	}
	return jsonEqual(a.value, b.value)
}

// jsonEqual compares values through their canonical JSON encoding,
// which normalizes numeric types and map ordering.
func jsonEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func appendTag(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
