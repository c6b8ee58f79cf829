package conformance

import (
	"regexp"
	"slices"
	"strings"

	"github.com/raysh454/apilens/internal/model"
)

var annotationRe = regexp.MustCompile(`@[\w.]+(\([^)]*\))?`)

type sigParam struct {
	name string
	typ  string
}

func (p sigParam) String() string {
	if p.name == "" {
		return p.typ
	}
	return p.name + ":" + p.typ
}

// parseSignature reads a documented parameter signature. Pieces are either
// "name:Type" or "Type name"; annotations are dropped.
//
//	"id:Long, verbose:Boolean"               -> id:long, verbose:boolean
//	"(@PathVariable Long id, Map<K, V> m)"   -> id:long, m:map<k,v>
func parseSignature(sig string) []sigParam {
	sig = annotationRe.ReplaceAllString(sig, "")
	sig = strings.TrimSpace(sig)
	sig = strings.TrimSuffix(strings.TrimPrefix(sig, "("), ")")
	switch strings.ToLower(strings.TrimSpace(sig)) {
	case "", "-", "none", "void", "n/a":
		return nil
	}

	var out []sigParam
	for _, piece := range splitTopLevel(sig) {
		fields := strings.Fields(piece)
		fields = slices.DeleteFunc(fields, func(f string) bool { return f == "final" })
		if len(fields) == 0 {
			continue
		}
		joined := strings.Join(fields, " ")
		if name, typ, ok := strings.Cut(joined, ":"); ok {
			out = append(out, sigParam{name: cleanName(name), typ: model.NormalizeType(typ)})
			continue
		}
		if len(fields) == 1 {
			out = append(out, sigParam{typ: model.NormalizeType(fields[0])})
			continue
		}
		last := len(fields) - 1
		out = append(out, sigParam{
			name: cleanName(fields[last]),
			typ:  model.NormalizeType(strings.Join(fields[:last], "")),
		})
	}
	return out
}

func paramsFromModel(ps []model.Parameter) []sigParam {
	out := make([]sigParam, len(ps))
	for i, p := range ps {
		out[i] = sigParam{name: cleanName(p.Name), typ: model.NormalizeType(p.Type)}
	}
	return out
}

// sameParams compares order-insensitively. Names take part only when every
// parameter on both sides is named.
func sameParams(doc, actual []sigParam) bool {
	if len(doc) != len(actual) {
		return false
	}
	named := allNamed(doc) && allNamed(actual)
	key := func(ps []sigParam) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			if named {
				out[i] = strings.ToLower(p.name) + ":" + p.typ
			} else {
				out[i] = p.typ
			}
		}
		slices.Sort(out)
		return out
	}
	return slices.Equal(key(doc), key(actual))
}

func allNamed(ps []sigParam) bool {
	for _, p := range ps {
		if p.name == "" {
			return false
		}
	}
	return true
}

func formatParams(ps []sigParam) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

func cleanName(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), "?")
}

// splitTopLevel splits on commas outside <> and () nesting.
func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
