package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/caremesh/synccore/model"
)

func vitalSign(id string, ver int64, effective time.Time, extra map[string]any) *model.Resource {
	body := map[string]any{
		"status": "final",
		"category": []any{
			map[string]any{"coding": []any{
				map[string]any{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "vital-signs"},
			}},
		},
		"effectiveDateTime": effective.Format(time.RFC3339),
	}
	for k, v := range extra {
		body[k] = v
	}
	return resource(model.TypeObservation, id, ver, effective, body)
}

func TestObservation_DeviceSourceOverridesStrategy(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := vitalSign("obs-1", 2, t0, map[string]any{"device": map[string]any{"reference": "Device/pump-9"}})
	remote := vitalSign("obs-1", 3, t0.Add(time.Hour), nil)
	c := pendingConflict(local, remote)

	// server_wins is requested, but the device-sourced local side wins.
	res := r.Resolve(context.Background(), c, local, remote, StrategyServerWins)
	if res == nil || res.Action != model.ActionKeepLocal || res.Result[0] != local {
		t.Fatalf("device-sourced side must win: %+v", res)
	}

	// Mirror image: device reference on the remote side.
	res = r.Resolve(context.Background(), c, remote, local, StrategyClientWins)
	if res == nil || res.Action != model.ActionKeepRemote || res.Result[0] != local {
		t.Fatalf("device-sourced remote must win: %+v", res)
	}
}

func TestObservation_AutomatedMethodCodeCountsAsDevice(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := vitalSign("obs-1", 2, t0, map[string]any{
		"method": map[string]any{"coding": []any{map[string]any{"code": "automatic"}}},
	})
	remote := vitalSign("obs-1", 3, t0.Add(time.Minute), nil)
	c := pendingConflict(local, remote)

	res := r.Resolve(context.Background(), c, local, remote, StrategyServerWins)
	if res == nil || res.Action != model.ActionKeepLocal {
		t.Fatalf("automated-method side must win: %+v", res)
	}
}

func TestObservation_VitalSignsWithinToleranceKeepBoth(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := vitalSign("obs-1", 2, t0, nil)
	remote := vitalSign("obs-1", 3, t0.Add(3*time.Minute), map[string]any{"valueQuantity": map[string]any{"value": 80.0}})
	c := pendingConflict(local, remote)

	res := r.Resolve(context.Background(), c, local, remote, StrategyServerWins)
	if res == nil || res.Action != model.ActionKeepBoth {
		t.Fatalf("close vital signs must keep both: %+v", res)
	}
	if len(res.Result) != 2 || res.Result[0] != local || res.Result[1] != remote {
		t.Fatalf("keep_both must carry exactly the two survivors: %+v", res.Result)
	}
	if err := res.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestObservation_VitalSignsOutsideToleranceFallThrough(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := vitalSign("obs-1", 2, t0, nil)
	remote := vitalSign("obs-1", 3, t0.Add(10*time.Minute), nil)
	c := pendingConflict(local, remote)

	res := r.Resolve(context.Background(), c, local, remote, StrategyServerWins)
	if res == nil || res.Action != model.ActionKeepRemote {
		t.Fatalf("outside tolerance the strategy applies: %+v", res)
	}
}

func medRequest(id string, ver int64, status, requester, authoredOn string) *model.Resource {
	body := map[string]any{"status": status}
	if requester != "" {
		body["requester"] = map[string]any{"reference": requester}
	}
	if authoredOn != "" {
		body["authoredOn"] = authoredOn
	}
	return resource(model.TypeMedicationRequest, id, ver, t0, body)
}

func TestMedicationRequest_StatusDivergenceForcesManual(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := medRequest("mr-1", 2, "active", "Practitioner/a", "2026-02-01T10:00:00Z")
	remote := medRequest("mr-1", 3, "cancelled", "Practitioner/b", "2026-02-02T10:00:00Z")
	c := pendingConflict(local, remote)

	// Even though the prescriber changed too, a status conflict on a
	// medication order is never auto-resolved.
	for _, s := range []Strategy{StrategyClientWins, StrategyServerWins, StrategyTimestamp, StrategyVersion, StrategyMerge} {
		if res := r.Resolve(context.Background(), c, local, remote, s); res != nil {
			t.Fatalf("strategy %s: status divergence must force manual, got %+v", s, res)
		}
	}
}

func TestMedicationRequest_PrescriberChangeLaterAuthoredOnWins(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := medRequest("mr-1", 2, "active", "Practitioner/a", "2026-02-05T10:00:00Z")
	remote := medRequest("mr-1", 3, "active", "Practitioner/b", "2026-02-01T10:00:00Z")
	c := pendingConflict(local, remote)

	res := r.Resolve(context.Background(), c, local, remote, StrategyServerWins)
	if res == nil || res.Action != model.ActionKeepLocal {
		t.Fatalf("later authoredOn must win: %+v", res)
	}
}

func TestMedicationRequest_SamePrescriberFallsThrough(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	local := medRequest("mr-1", 2, "active", "Practitioner/a", "2026-02-05T10:00:00Z")
	remote := medRequest("mr-1", 3, "active", "Practitioner/a", "2026-02-01T10:00:00Z")
	c := pendingConflict(local, remote)

	res := r.Resolve(context.Background(), c, local, remote, StrategyServerWins)
	if res == nil || res.Action != model.ActionKeepRemote {
		t.Fatalf("no rule applies, strategy must decide: %+v", res)
	}
}

func TestEncounter_FinishedAlwaysWins(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	finished := resource(model.TypeEncounter, "enc-1", 2, t0, map[string]any{"status": "finished"})
	inProgress := resource(model.TypeEncounter, "enc-1", 3, t0.Add(time.Hour), map[string]any{"status": "in-progress"})
	c := pendingConflict(finished, inProgress)

	// Timestamps point at the unfinished side; finished still wins.
	res := r.Resolve(context.Background(), c, finished, inProgress, StrategyTimestamp)
	if res == nil || res.Action != model.ActionKeepLocal || res.Result[0] != finished {
		t.Fatalf("finished encounter must win: %+v", res)
	}

	res = r.Resolve(context.Background(), c, inProgress, finished, StrategyClientWins)
	if res == nil || res.Action != model.ActionKeepRemote || res.Result[0] != finished {
		t.Fatalf("finished remote encounter must win: %+v", res)
	}
}

func TestEncounter_BothFinishedFallsThrough(t *testing.T) {
	t.Parallel()
	r := testResolver(nil)
	a := resource(model.TypeEncounter, "enc-1", 2, t0, map[string]any{"status": "finished", "length": 1.0})
	b := resource(model.TypeEncounter, "enc-1", 3, t0, map[string]any{"status": "finished", "length": 2.0})
	c := pendingConflict(a, b)

	res := r.Resolve(context.Background(), c, a, b, StrategyVersion)
	if res == nil || res.Action != model.ActionKeepRemote {
		t.Fatalf("both finished, version strategy must decide: %+v", res)
	}
}
