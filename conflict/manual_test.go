package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/caremesh/synccore/audit"
	"github.com/caremesh/synccore/errs"
	"github.com/caremesh/synccore/model"
)

type captureSink struct {
	events []audit.Event
}

func (s *captureSink) Record(_ context.Context, e audit.Event) error {
	s.events = append(s.events, e)
	return nil
}

func queuedConflict(st *fakeStore) *model.Conflict {
	local := resource("Patient", "p-1", 2, t0, map[string]any{"phone": "555-0111"})
	remote := resource("Patient", "p-1", 3, t0.Add(time.Hour), map[string]any{"phone": "555-0122"})
	c := pendingConflict(local, remote)
	st.conflicts[c.ID] = c
	st.resources[key("Patient", "p-1")] = local
	st.remotes[key("Patient", "p-1")] = remote
	return c
}

func TestManuallyResolve_Applies(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	sink := &captureSink{}
	r := New(st, sink, nil, Options{Clock: func() time.Time { return tc }})
	c := queuedConflict(st)

	res := &model.Resolution{
		Action:     model.ActionKeepLocal,
		Result:     []*model.Resource{c.Local},
		ResolvedBy: "dr-iriarte",
		Notes:      "patient confirmed the new number in person",
	}
	require.NoError(t, r.ManuallyResolve(context.Background(), c.ID, res))

	stored, err := st.GetConflict(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ConflictResolved, stored.Status)
	require.NotNil(t, stored.Resolution)
	require.Equal(t, "dr-iriarte", stored.Resolution.ResolvedBy)
	require.Equal(t, tc, stored.Resolution.ResolvedAt, "missing resolvedAt stamped from clock")

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.Equal(t, audit.EventManualResolution, ev.Type)
	require.Equal(t, "dr-iriarte", ev.Actor)
	require.Equal(t, c.ID.String(), ev.Metadata["conflictId"])
	require.Contains(t, ev.Metadata["diff"], "phone", "diff summary names the diverging field")
}

func TestManuallyResolve_UnknownConflict(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	r := testResolver(st)

	res := &model.Resolution{
		Action:     model.ActionKeepRemote,
		Result:     []*model.Resource{resource("Patient", "p-1", 1, t0, nil)},
		ResolvedBy: "dr-x",
	}
	err := r.ManuallyResolve(context.Background(), uuid.Must(uuid.NewV4()), res)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestManuallyResolve_MissingResourceIsPrecondition(t *testing.T) {
	t.Parallel()
	for _, missing := range []string{"local", "remote"} {
		st := newFakeStore()
		r := testResolver(st)
		c := queuedConflict(st)
		if missing == "local" {
			delete(st.resources, key("Patient", "p-1"))
		} else {
			delete(st.remotes, key("Patient", "p-1"))
		}

		res := &model.Resolution{
			Action:     model.ActionKeepLocal,
			Result:     []*model.Resource{c.Local},
			ResolvedBy: "dr-x",
		}
		err := r.ManuallyResolve(context.Background(), c.ID, res)
		require.ErrorIs(t, err, errs.ErrPrecondition, "missing %s resource", missing)

		stored, _ := st.GetConflict(context.Background(), c.ID)
		require.Equal(t, model.ConflictPending, stored.Status, "conflict must stay pending")
	}
}

func TestManuallyResolve_AlreadyResolved(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	r := testResolver(st)
	c := queuedConflict(st)
	c.Status = model.ConflictResolved

	res := &model.Resolution{
		Action:     model.ActionKeepLocal,
		Result:     []*model.Resource{c.Local},
		ResolvedBy: "dr-x",
	}
	err := r.ManuallyResolve(context.Background(), c.ID, res)
	require.ErrorIs(t, err, errs.ErrAlreadyResolved)
}

func TestManuallyResolve_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	sink := &captureSink{}
	r := New(st, sink, nil, Options{})
	c := queuedConflict(st)

	makeRes := func(by string) *model.Resolution {
		return &model.Resolution{
			Action:     model.ActionKeepLocal,
			Result:     []*model.Resource{c.Local},
			ResolvedBy: by,
		}
	}

	start := make(chan struct{})
	errCh := make(chan error, 2)
	for _, by := range []string{"dr-a", "dr-b"} {
		go func(by string) {
			<-start
			errCh <- r.ManuallyResolve(context.Background(), c.ID, makeRes(by))
		}(by)
	}
	close(start)

	var failed []error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			failed = append(failed, err)
		}
	}
	require.Len(t, failed, 1, "exactly one of two concurrent resolutions applies")
	require.ErrorIs(t, failed[0], errs.ErrAlreadyResolved)

	stored, err := st.GetConflict(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ConflictResolved, stored.Status)
	require.Len(t, st.updated, 1, "the loser must not overwrite the applied resolution")
	require.Len(t, sink.events, 1)
}

func TestManuallyResolve_InvalidResolution(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	r := testResolver(st)
	c := queuedConflict(st)

	err := r.ManuallyResolve(context.Background(), c.ID, nil)
	require.ErrorIs(t, err, errs.ErrInvalidResolution)

	// keep_both with a single survivor violates the arity invariant.
	bad := &model.Resolution{
		Action:     model.ActionKeepBoth,
		Result:     []*model.Resource{c.Local},
		ResolvedBy: "dr-x",
	}
	err = r.ManuallyResolve(context.Background(), c.ID, bad)
	require.ErrorIs(t, err, errs.ErrInvalidResolution)
}

func TestManuallyResolve_UpdateFailureLeavesPending(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	sink := &captureSink{}
	r := New(st, sink, nil, Options{})
	c := queuedConflict(st)
	st.updateErr = errors.New("disk full")

	res := &model.Resolution{
		Action:     model.ActionKeepLocal,
		Result:     []*model.Resource{c.Local},
		ResolvedBy: "dr-x",
	}
	err := r.ManuallyResolve(context.Background(), c.ID, res)
	require.Error(t, err)

	stored, _ := st.GetConflict(context.Background(), c.ID)
	require.Equal(t, model.ConflictPending, stored.Status)
	require.Empty(t, sink.events, "no audit event for an operation that did not complete")
}

func TestDiffSummary(t *testing.T) {
	t.Parallel()
	local := resource("Patient", "p-1", 1, t0, map[string]any{"phone": "555-0111"})
	remote := resource("Patient", "p-1", 2, t0, map[string]any{"phone": "555-0122"})

	s := DiffSummary(local, remote)
	require.NotEmpty(t, s)
	require.Contains(t, s, "phone")

	same := DiffSummary(local, local.Clone())
	require.NotContains(t, same, "\x1b[32m", "identical bodies produce no insertions")

	require.Equal(t, "", DiffSummary(nil, nil))
}
