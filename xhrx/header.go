package xhrx

import (
	"sort"
	"strings"
)

// Headers the caller may not set directly, mirroring the browser
// contract this object emulates. Attempts are dropped with a warning
// rather than rejected; see Request.SetRequestHeader.
var forbiddenHeaders = map[string]struct{}{
	"accept-charset":                 {},
	"accept-encoding":                {},
	"access-control-request-headers": {},
	"access-control-request-method":  {},
	"connection":                     {},
	"content-length":                 {},
	"content-transfer-encoding":      {},
	"cookie":                         {},
	"cookie2":                        {},
	"date":                           {},
	"expect":                         {},
	"host":                           {},
	"keep-alive":                     {},
	"origin":                         {},
	"referer":                        {},
	"te":                             {},
	"trailer":                        {},
	"transfer-encoding":              {},
	"upgrade":                        {},
	"via":                            {},
}

var forbiddenMethods = map[string]struct{}{
	"CONNECT": {},
	"TRACE":   {},
	"TRACK":   {},
}

func isForbiddenHeader(name string) bool {
	_, ok := forbiddenHeaders[strings.ToLower(name)]
	return ok
}

func isForbiddenMethod(method string) bool {
	_, ok := forbiddenMethods[strings.ToUpper(method)]
	return ok
}

// normalizeMethod upper-cases the standard methods and leaves any other
// spelling to the caller, like the browser API does.
func normalizeMethod(method string) string {
	switch up := strings.ToUpper(method); up {
	case "DELETE", "GET", "HEAD", "OPTIONS", "POST", "PUT":
		return up
	}
	return method
}

// headerTable stores request headers under two co-indexed maps: the
// spelling most recently used by the caller, and a lower-case index
// into it. Repeated sets for one name join values with ", ".
type headerTable struct {
	values map[string]string // canonical spelling -> joined value
	canon  map[string]string // lower-case -> canonical spelling
}

func newHeaderTable() *headerTable {
	return &headerTable{
		values: make(map[string]string),
		canon:  make(map[string]string),
	}
}

func (t *headerTable) add(name, value string) {
	lk := strings.ToLower(name)
	if prev, ok := t.canon[lk]; ok {
		joined := t.values[prev] + ", " + value
		if prev != name {
			delete(t.values, prev)
			t.canon[lk] = name
		}
		t.values[name] = joined
		return
	}
	t.canon[lk] = name
	t.values[name] = value
}

func (t *headerTable) get(name string) string {
	ck, ok := t.canon[strings.ToLower(name)]
	if !ok {
		return ""
	}
	return t.values[ck]
}

func (t *headerTable) has(name string) bool {
	_, ok := t.canon[strings.ToLower(name)]
	return ok
}

// entries returns a copy of the table keyed by canonical spelling.
func (t *headerTable) entries() map[string]string {
	out := make(map[string]string, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// flattenHeader collapses a wire header map to lower-case keys with
// repeated values joined by ", ", the shape response headers are
// exposed in.
func flattenHeader(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[strings.ToLower(k)] = strings.Join(vv, ", ")
	}
	return out
}

// serializeResponseHeaders renders "name: value" lines joined by CRLF,
// sorted by name for determinism, without a trailing CRLF. Set-Cookie
// entries are included; this object does not hide them the way a real
// browser does.
func serializeResponseHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString("\r\n")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(h[k])
	}
	return sb.String()
}
