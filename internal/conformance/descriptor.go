package conformance

import (
	"regexp"
	"strings"

	"github.com/raysh454/apilens/internal/model"
)

var methodPathRe = regexp.MustCompile(`(?i)\b(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\s+(\S+)`)

// descriptor is the method and normalized path found in free text.
type descriptor struct {
	method string // "" when the text names only a path
	path   string
}

func (d descriptor) String() string {
	if d.method == "" {
		return d.path
	}
	return d.method + " " + d.path
}

// parseDescriptor pulls "METHOD /path" (or a bare path or URL) out of free
// text such as "GET /books/{id} returns one book".
func parseDescriptor(text string) (descriptor, bool) {
	text = strings.ReplaceAll(text, "`", "")
	if m := methodPathRe.FindStringSubmatch(text); m != nil {
		if p := trimToken(m[2]); looksLikePath(p) {
			return descriptor{method: strings.ToUpper(m[1]), path: model.NormalizePath(p)}, true
		}
	}
	for _, f := range strings.Fields(text) {
		if p := trimToken(f); looksLikePath(p) {
			return descriptor{path: model.NormalizePath(p)}, true
		}
	}
	return descriptor{}, false
}

func (d descriptor) matches(method, path string) bool {
	if d.method != "" && d.method != model.NormalizeMethod(method) {
		return false
	}
	return d.path == model.NormalizePath(path)
}

func trimToken(s string) string {
	s = strings.TrimLeft(s, `("'`)
	return strings.TrimRight(s, `.,;:)"'`)
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.Contains(s, "://")
}
