package conflict

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/caremesh/synccore/errs"
	"github.com/caremesh/synccore/model"
	"github.com/caremesh/synccore/store"
)

// fakeStore is an in-memory ResourceStore for tests. It is safe for
// concurrent use so resolver serialization can be exercised.
type fakeStore struct {
	mu        sync.Mutex
	resources map[string]*model.Resource
	remotes   map[string]*model.Resource
	versions  map[string][]model.ResourceVersion
	conflicts map[uuid.UUID]*model.Conflict

	updated     []*model.Conflict
	updateErr   error
	versionsErr error
}

var _ store.ResourceStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		resources: make(map[string]*model.Resource),
		remotes:   make(map[string]*model.Resource),
		versions:  make(map[string][]model.ResourceVersion),
		conflicts: make(map[uuid.UUID]*model.Conflict),
	}
}

func key(resourceType, id string) string { return resourceType + "/" + id }

func (f *fakeStore) GetResource(_ context.Context, resourceType, id string) (*model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[key(resourceType, id)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetRemoteResource(_ context.Context, resourceType, id string) (*model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.remotes[key(resourceType, id)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetResourceVersions(_ context.Context, resourceType, id string) ([]model.ResourceVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versionsErr != nil {
		return nil, f.versionsErr
	}
	return append([]model.ResourceVersion(nil), f.versions[key(resourceType, id)]...), nil
}

func (f *fakeStore) GetConflict(_ context.Context, id uuid.UUID) (*model.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) UpdateConflict(_ context.Context, c *model.Conflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.conflicts[c.ID] = c
	f.updated = append(f.updated, c)
	return nil
}

func (f *fakeStore) GetActiveConflicts(_ context.Context) ([]*model.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Conflict
	for _, c := range f.conflicts {
		if c.Status == model.ConflictPending {
			out = append(out, c)
		}
	}
	return out, nil
}
