package conflict

import (
	"encoding/json"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/caremesh/synccore/model"
)

// DiffSummary renders a line-oriented diff of the two sides' content
// for the manual-review queue. It operates on the indented canonical
// encoding of Body, so versioning metadata never shows up as noise.
func DiffSummary(local, remote *model.Resource) string {
	dmp := diffmatchpatch.New()
	a := prettyBody(local)
	b := prettyBody(remote)
	diffs := dmp.DiffMain(a, b, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}

func prettyBody(r *model.Resource) string {
	if r == nil || r.Body == nil {
		return ""
	}
	b, err := json.MarshalIndent(r.Body, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
