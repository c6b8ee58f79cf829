package model

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ParamSegment replaces every path-parameter segment after normalization.
const ParamSegment = "{}"

// NormalizeMethod upper-cases an HTTP method.
func NormalizeMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}

// NormalizePath reduces a path template to its matching form: scheme and host
// are dropped, query and fragment removed, empty segments collapsed, and
// every parameter segment ({id}, :id, <id>, ${id}) becomes "{}".
//
//	"/books/{bookId}/"           -> "/books/{}"
//	"http://svc:8080/books/:id"  -> "/books/{}"
//	"books//reviews?x=1"         -> "/books/reviews"
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			p = rest[j:]
		} else {
			p = "/"
		}
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s == "" {
			continue
		}
		if isParamSegment(s) {
			s = ParamSegment
		}
		out = append(out, s)
	}
	return "/" + strings.Join(out, "/")
}

func isParamSegment(s string) bool {
	switch {
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		return true
	case strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}"):
		return true
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		return true
	case strings.HasPrefix(s, ":") && len(s) > 1:
		return true
	}
	return false
}

// PathsMatch compares two normalized paths segment by segment. A "{}" segment
// on either side matches any single segment; segment counts must agree.
func PathsMatch(a, b string) bool {
	as := splitPath(a)
	bs := splitPath(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] && as[i] != ParamSegment && bs[i] != ParamSegment {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

var typeAliases = map[string]string{
	"integer": "int",
	"int32":   "int",
	"int64":   "long",
	"bool":    "boolean",
	"str":     "string",
	"float64": "double",
	"float32": "float",
}

// NormalizeType reduces a declared type to a comparable token:
// "java.lang.Long" -> "long", "Integer" -> "int", "List< String >" -> "list<string>".
func NormalizeType(t string) string {
	t = strings.Join(strings.Fields(t), "")
	if t == "" {
		return ""
	}
	base, generic, hasGeneric := strings.Cut(t, "<")
	if i := strings.LastIndexAny(base, "./"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ToLower(base)
	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	if !hasGeneric {
		return base
	}
	generic = strings.TrimSuffix(generic, ">")
	parts := strings.Split(generic, ",")
	for i, p := range parts {
		parts[i] = NormalizeType(p)
	}
	return base + "<" + strings.Join(parts, ",") + ">"
}

// HostKey returns "host[:port]" for a base URL or bare host: lower-cased,
// IDNA-encoded, default ports dropped. It returns "" when nothing usable is
// found.
func HostKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	return host
}

// HostName is HostKey without the port.
func HostName(raw string) string {
	key := HostKey(raw)
	if h, _, err := net.SplitHostPort(key); err == nil {
		return h
	}
	return key
}
