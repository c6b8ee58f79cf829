package conformance

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// closest returns the option with the smallest edit distance to target, if
// it is within half the longer string's length. Ties keep the earlier option.
func closest(target string, options []string) (string, bool) {
	dmp := diffmatchpatch.New()
	best, bestDist := "", -1
	for _, o := range options {
		d := dmp.DiffLevenshtein(dmp.DiffMain(target, o, false))
		if bestDist < 0 || d < bestDist {
			best, bestDist = o, d
		}
	}
	if bestDist < 0 {
		return "", false
	}
	limit := max(len(target), len(best)) / 2
	return best, bestDist <= limit
}

// inlineDiff renders the edit from a to b as "kept[-removed-]{+added+}".
func inlineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(a, b, false))
	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		}
	}
	return sb.String()
}
