// Package conflict implements the conflict resolution engine: automatic
// domain rules, strategy-based policies and three-way merge over an
// abstract resource store, with manual queuing as the fallback.
package conflict

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/caremesh/synccore/audit"
	"github.com/caremesh/synccore/model"
	"github.com/caremesh/synccore/store"
)

// DefaultVitalSignTolerance is the effective-time window within which
// two diverging vital-sign observations are both kept.
const DefaultVitalSignTolerance = 5 * time.Minute

// Options tune a Resolver. Zero values select defaults.
type Options struct {
	VitalSignTolerance time.Duration    // default DefaultVitalSignTolerance
	Clock              func() time.Time // default time.Now, injectable for tests
}

// Resolver decides how diverging resource versions are reconciled.
// Resolution for one (type, id) is serialized through a per-resource
// lock; different resources proceed fully in parallel. The rule tables
// are read-mostly after construction; RegisterRule must not race with
// in-flight Resolve calls.
type Resolver struct {
	store     store.ResourceStore
	sink      audit.Sink
	log       *zap.Logger
	rules     map[string][]Rule
	tolerance time.Duration
	now       func() time.Time

	locks sync.Map // "type/id" -> *sync.Mutex
}

// New constructs a Resolver with the built-in clinical rule set. A nil
// sink or logger selects no-op implementations.
func New(st store.ResourceStore, sink audit.Sink, log *zap.Logger, opts Options) *Resolver {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.VitalSignTolerance <= 0 {
		opts.VitalSignTolerance = DefaultVitalSignTolerance
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	r := &Resolver{
		store:     st,
		sink:      sink,
		log:       log,
		rules:     make(map[string][]Rule),
		tolerance: opts.VitalSignTolerance,
		now:       opts.Clock,
	}
	r.registerBuiltinRules()
	return r
}

// lockFor returns the mutex serializing work on one resource.
func (r *Resolver) lockFor(resourceType, id string) *sync.Mutex {
	key := resourceType + "/" + id
	mu, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Detect compares an incoming remote version against the local one and
// returns a pending Conflict when their content diverges, nil otherwise.
func Detect(local, remote *model.Resource, now time.Time) (*model.Conflict, error) {
	if local == nil || remote == nil {
		return nil, nil
	}
	if local.BodyHash() == remote.BodyHash() {
		return nil, nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &model.Conflict{
		ID:           id,
		ResourceType: local.Type,
		ResourceID:   local.ID,
		Local:        local,
		Remote:       remote,
		DetectedAt:   now,
		Status:       model.ConflictPending,
	}, nil
}

// Resolve reconciles one diverging local/remote pair. Resource-type
// rules are consulted first and override the requested strategy; if no
// rule fires, the strategy is applied. A nil return means the conflict
// must be queued for manual resolution. Rule and merge failures degrade
// rather than propagate, so for a fixed input Resolve is deterministic
// and idempotent.
//
// Only the two-version case is defined. With several concurrent remote
// edits, callers fold them pairwise in server-acceptance order.
func (r *Resolver) Resolve(ctx context.Context, c *model.Conflict, local, remote *model.Resource, strategy Strategy) *model.Resolution {
	if c == nil || local == nil || remote == nil {
		return nil
	}
	mu := r.lockFor(c.ResourceType, c.ResourceID)
	mu.Lock()
	defer mu.Unlock()

	if out, matched := r.applyRules(c.ResourceType, local, remote); matched {
		if out.Manual || out.Resolution == nil {
			manualQueuedTotal.WithLabelValues(c.ResourceType).Inc()
			return nil
		}
		resolutionsTotal.WithLabelValues(string(strategy), string(out.Resolution.Action)).Inc()
		return out.Resolution
	}

	res := r.applyStrategy(ctx, c, local, remote, strategy)
	if res == nil {
		manualQueuedTotal.WithLabelValues(c.ResourceType).Inc()
		return nil
	}
	resolutionsTotal.WithLabelValues(string(strategy), string(res.Action)).Inc()
	return res
}

func (r *Resolver) applyStrategy(ctx context.Context, c *model.Conflict, local, remote *model.Resource, strategy Strategy) *model.Resolution {
	switch strategy {
	case StrategyClientWins:
		return r.keep(model.ActionKeepLocal, local, "client wins")
	case StrategyServerWins:
		return r.keep(model.ActionKeepRemote, remote, "server wins")
	case StrategyTimestamp:
		// Ties favor remote: deterministic, avoids double-ambiguity.
		if local.Meta.LastUpdated.After(remote.Meta.LastUpdated) {
			return r.keep(model.ActionKeepLocal, local, "local updated later")
		}
		return r.keep(model.ActionKeepRemote, remote, "remote updated later or tie")
	case StrategyVersion:
		// Ties favor local: keeps device data in place, never synthesizes.
		if local.Meta.VersionID >= remote.Meta.VersionID {
			return r.keep(model.ActionKeepLocal, local, "local version higher or tie")
		}
		return r.keep(model.ActionKeepRemote, remote, "remote version higher")
	case StrategyMerge:
		merged, err := r.threeWayMerge(ctx, local, remote)
		if err != nil {
			r.log.Warn("merge unavailable",
				zap.String("resourceType", c.ResourceType),
				zap.String("resourceId", c.ResourceID),
				zap.Error(err),
			)
			return nil
		}
		if merged == nil {
			return nil
		}
		return &model.Resolution{
			Action:     model.ActionMerge,
			Result:     []*model.Resource{merged},
			ResolvedBy: model.ResolvedBySystem,
			ResolvedAt: r.now(),
			Notes:      "auto-merged non-overlapping field changes",
		}
	case StrategyManual:
		return nil
	default:
		// Strategy may come from configuration; treat as manual, not a fault.
		r.log.Warn("unknown strategy, queueing for manual resolution",
			zap.String("strategy", string(strategy)),
			zap.String("resourceType", c.ResourceType),
			zap.String("resourceId", c.ResourceID),
		)
		return nil
	}
}

func (r *Resolver) keep(action model.Action, winner *model.Resource, notes string) *model.Resolution {
	return &model.Resolution{
		Action:     action,
		Result:     []*model.Resource{winner},
		ResolvedBy: model.ResolvedBySystem,
		ResolvedAt: r.now(),
		Notes:      notes,
	}
}

func (r *Resolver) keepBoth(local, remote *model.Resource, notes string) *model.Resolution {
	return &model.Resolution{
		Action:     model.ActionKeepBoth,
		Result:     []*model.Resource{local, remote},
		ResolvedBy: model.ResolvedBySystem,
		ResolvedAt: r.now(),
		Notes:      notes,
	}
}
