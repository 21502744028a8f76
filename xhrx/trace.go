package xhrx

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// randHex returns n random bytes hex-encoded, retrying until the value
// is non-zero (an all-zero trace or span id is invalid per W3C).
func randHex(n int) string {
	b := make([]byte, n)
	for {
		if _, err := rand.Read(b); err != nil {
			// Fallback to timestamp-based bytes if rand fails (unlikely)
			t := time.Now().UnixNano()
			for i := range b {
				b[i] = byte(t >> (uint(i%8) * 8))
			}
		}
		for _, v := range b {
			if v != 0 {
				return hex.EncodeToString(b)
			}
		}
	}
}

func genID() string      { return randHex(16) }
func genTraceID() string { return randHex(16) } // 32 hex
func genSpanID() string  { return randHex(8) }  // 16 hex

func formatTraceparent(traceID, spanID, flags string) string {
	if flags == "" {
		flags = "01"
	}
	return "00-" + strings.ToLower(traceID) + "-" + strings.ToLower(spanID) + "-" + strings.ToLower(flags)
}

// TraceStateBuilder provides safe construction of a W3C tracestate
// header value: key/value validation, de-duplication, most-recent
// first ordering. The transport runs caller-supplied Tracestate
// headers through it before putting them on the wire.
type TraceStateBuilder struct {
	order []string          // keys, most recent first
	kv    map[string]string // normalized key -> value
}

// NewTraceStateBuilder parses an existing tracestate string, dropping
// invalid or duplicate entries.
func NewTraceStateBuilder(v string) *TraceStateBuilder {
	b := &TraceStateBuilder{kv: make(map[string]string)}
	for _, part := range strings.Split(strings.TrimSpace(v), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.IndexByte(part, '=')
		if i <= 0 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(part[:i]))
		val := strings.TrimSpace(part[i+1:])
		if !validTSKey(k) || !validTSValue(val) {
			continue
		}
		if _, ok := b.kv[k]; ok {
			continue
		}
		b.kv[k] = val
		b.order = append(b.order, k)
	}
	return b
}

// Set inserts or updates key with value; updated keys move to the
// front. Returns false if key or value is invalid.
func (b *TraceStateBuilder) Set(key, value string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	v := strings.TrimSpace(value)
	if !validTSKey(k) || !validTSValue(v) {
		return false
	}
	if _, ok := b.kv[k]; ok {
		for i, ek := range b.order {
			if ek == k {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.kv[k] = v
	b.order = append([]string{k}, b.order...)
	return true
}

// String renders the tracestate value; empty when nothing valid remains.
func (b *TraceStateBuilder) String() string {
	if len(b.order) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, k := range b.order {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b.kv[k])
	}
	return sb.String()
}

// Key validation per W3C (simplified): key or key@tenant, characters
// a-z0-9 and _-*./ only.
func validTSKey(k string) bool {
	if k == "" {
		return false
	}
	parts := strings.Split(k, "@")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			c := p[i]
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '*' || c == '/' || c == '.' {
				continue
			}
			return false
		}
	}
	return true
}

// Value validation: no control characters, no commas.
func validTSValue(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 || c == 0x7f || c == ',' {
			return false
		}
	}
	return true
}
