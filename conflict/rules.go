package conflict

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/synccore/model"
)

// Outcome is what a domain rule decided for a conflicting pair. A nil
// Resolution with Manual set forces human review regardless of the
// requested strategy.
type Outcome struct {
	Resolution *model.Resolution
	Manual     bool
}

// Rule is a resource-type-specific clinical precedence policy. Evaluate
// reports whether its condition matched; on match its outcome is used
// and the requested strategy is ignored.
type Rule struct {
	Name     string
	Evaluate func(r *Resolver, local, remote *model.Resource) (Outcome, bool)
}

// RegisterRule appends a rule for a resource type. Rules run in
// registration order; the first match wins. Not safe to call
// concurrently with Resolve.
func (r *Resolver) RegisterRule(resourceType string, rule Rule) {
	r.rules[resourceType] = append(r.rules[resourceType], rule)
}

// applyRules runs the rule chain for resourceType. A panicking rule is
// logged and skipped: rule failure means "automatic resolution
// unavailable", never a failed conflict.
func (r *Resolver) applyRules(resourceType string, local, remote *model.Resource) (out Outcome, matched bool) {
	for _, rule := range r.rules[resourceType] {
		o, ok := r.evalRule(rule, local, remote)
		if ok {
			return o, true
		}
	}
	return Outcome{}, false
}

func (r *Resolver) evalRule(rule Rule, local, remote *model.Resource) (out Outcome, matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("domain rule failed, skipping",
				zap.String("rule", rule.Name),
				zap.Any("reason", rec),
			)
			out, matched = Outcome{}, false
		}
	}()
	return rule.Evaluate(r, local, remote)
}

func (r *Resolver) registerBuiltinRules() {
	r.RegisterRule(model.TypeObservation, Rule{Name: "device-source-precedence", Evaluate: observationDeviceRule})
	r.RegisterRule(model.TypeObservation, Rule{Name: "vital-sign-proximity", Evaluate: observationVitalSignRule})
	// Status divergence on a medication order is never auto-resolved, so
	// this rule runs before the prescriber rule.
	r.RegisterRule(model.TypeMedicationRequest, Rule{Name: "status-divergence", Evaluate: medicationStatusRule})
	r.RegisterRule(model.TypeMedicationRequest, Rule{Name: "prescriber-precedence", Evaluate: medicationPrescriberRule})
	r.RegisterRule(model.TypeEncounter, Rule{Name: "finished-precedence", Evaluate: encounterFinishedRule})
}

// observationDeviceRule: a device-sourced measurement overrides a
// manually transcribed one, whichever side it is on.
func observationDeviceRule(r *Resolver, local, remote *model.Resource) (Outcome, bool) {
	localDevice := isDeviceSourced(local)
	remoteDevice := isDeviceSourced(remote)
	if localDevice == remoteDevice {
		return Outcome{}, false
	}
	if localDevice {
		return Outcome{Resolution: r.keep(model.ActionKeepLocal, local, "device-sourced measurement overrides transcription")}, true
	}
	return Outcome{Resolution: r.keep(model.ActionKeepRemote, remote, "device-sourced measurement overrides transcription")}, true
}

// observationVitalSignRule: two vital-sign readings taken within the
// tolerance window are both clinically meaningful; keep both.
func observationVitalSignRule(r *Resolver, local, remote *model.Resource) (Outcome, bool) {
	if !isVitalSign(local) || !isVitalSign(remote) {
		return Outcome{}, false
	}
	lt, lok := effectiveTime(local)
	rt, rok := effectiveTime(remote)
	if !lok || !rok {
		return Outcome{}, false
	}
	delta := lt.Sub(rt)
	if delta < 0 {
		delta = -delta
	}
	if delta > r.tolerance {
		return Outcome{}, false
	}
	return Outcome{Resolution: r.keepBoth(local, remote, "vital signs measured within tolerance window")}, true
}

// medicationStatusRule: both sides carry an active-or-terminal status
// and they differ.
func medicationStatusRule(_ *Resolver, local, remote *model.Resource) (Outcome, bool) {
	ls, lok := bodyString(local, "status")
	rs, rok := bodyString(remote, "status")
	if !lok || !rok || ls == rs {
		return Outcome{}, false
	}
	if !medicationDecidedStatuses[ls] || !medicationDecidedStatuses[rs] {
		return Outcome{}, false
	}
	return Outcome{Manual: true}, true
}

var medicationDecidedStatuses = map[string]bool{
	"active":    true,
	"on-hold":   true,
	"cancelled": true,
	"completed": true,
}

// medicationPrescriberRule: when the requester differs, the later
// authoredOn reflects the current order.
func medicationPrescriberRule(r *Resolver, local, remote *model.Resource) (Outcome, bool) {
	lr, lok := referenceString(local, "requester")
	rr, rok := referenceString(remote, "requester")
	if !lok || !rok || lr == rr {
		return Outcome{}, false
	}
	lt, lok := bodyTime(local, "authoredOn")
	rt, rok := bodyTime(remote, "authoredOn")
	if !lok || !rok {
		return Outcome{}, false
	}
	if lt.After(rt) {
		return Outcome{Resolution: r.keep(model.ActionKeepLocal, local, "later authoredOn wins on prescriber change")}, true
	}
	return Outcome{Resolution: r.keep(model.ActionKeepRemote, remote, "later authoredOn wins on prescriber change")}, true
}

// encounterFinishedRule: an encounter cannot be un-discharged; a
// finished version always wins over an unfinished one.
func encounterFinishedRule(r *Resolver, local, remote *model.Resource) (Outcome, bool) {
	ls, _ := bodyString(local, "status")
	rs, _ := bodyString(remote, "status")
	localFinished := ls == "finished"
	remoteFinished := rs == "finished"
	if localFinished == remoteFinished {
		return Outcome{}, false
	}
	if localFinished {
		return Outcome{Resolution: r.keep(model.ActionKeepLocal, local, "finished encounter wins")}, true
	}
	return Outcome{Resolution: r.keep(model.ActionKeepRemote, remote, "finished encounter wins")}, true
}

// --- body field helpers ---

func bodyString(r *model.Resource, field string) (string, bool) {
	s, ok := r.Body[field].(string)
	return s, ok && s != ""
}

func bodyTime(r *model.Resource, field string) (time.Time, bool) {
	s, ok := bodyString(r, field)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func referenceString(r *model.Resource, field string) (string, bool) {
	switch v := r.Body[field].(type) {
	case string:
		return v, v != ""
	case map[string]any:
		ref, ok := v["reference"].(string)
		return ref, ok && ref != ""
	}
	return "", false
}

// isDeviceSourced: carries a device reference or an
// automated-measurement method code.
func isDeviceSourced(r *model.Resource) bool {
	if _, ok := referenceString(r, "device"); ok {
		return true
	}
	method, ok := r.Body["method"].(map[string]any)
	if !ok {
		return false
	}
	codings, ok := method["coding"].([]any)
	if !ok {
		return false
	}
	for _, c := range codings {
		coding, ok := c.(map[string]any)
		if !ok {
			continue
		}
		code, _ := coding["code"].(string)
		if strings.EqualFold(code, "automatic") || strings.EqualFold(code, "automated") {
			return true
		}
	}
	return false
}

// isVitalSign checks the FHIR category coding for "vital-signs".
func isVitalSign(r *model.Resource) bool {
	categories, ok := r.Body["category"].([]any)
	if !ok {
		return false
	}
	for _, cat := range categories {
		concept, ok := cat.(map[string]any)
		if !ok {
			continue
		}
		codings, ok := concept["coding"].([]any)
		if !ok {
			continue
		}
		for _, c := range codings {
			coding, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if code, _ := coding["code"].(string); code == "vital-signs" {
				return true
			}
		}
	}
	return false
}

func effectiveTime(r *model.Resource) (time.Time, bool) {
	return bodyTime(r, "effectiveDateTime")
}
