// Package redact scrubs sensitive data from span payloads before they are
// queued for delivery.
//
// Redaction runs in two stages on every value: whole subtrees whose path
// matches a scrub path are replaced by the marker, then every remaining
// string has each pattern substituted. Paths are built from map keys and
// slice indexes ("input.messages[0].content"). A scrub path matches a node
// when it equals the node's path or is a suffix of it after a ".",
// case-insensitively.
//
// Structs, pointers and typed containers are converted to their JSON form
// before the walk, so SDK request types are redacted like plain maps. Values
// that cannot be encoded become strings, and RedactRecord replaces payloads
// larger than MaxPayloadSize with a {"__truncated", "__preview"} placeholder.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// DefaultMarker replaces redacted content.
const DefaultMarker = "[REDACTED]"

// DepthMarker replaces values nested deeper than the walker descends,
// including self-referencing maps and slices.
const DepthMarker = "[MAX DEPTH]"

// Keys of the placeholder that replaces an oversized payload.
const (
	TruncatedKey = "__truncated"
	PreviewKey   = "__preview"
)

const (
	maxDepth          = 64
	previewSize       = 1000
	maxFallbackLength = 10000
)

// Config configures a Redactor.
type Config struct {
	// Patterns are extra regular expressions, compiled by New.
	Patterns []string

	// ScrubPaths name subtrees replaced entirely by the marker.
	ScrubPaths []string

	// HashMode replaces matches with a salted hash instead of the marker,
	// so equal values stay correlatable.
	HashMode bool
	Salt     string

	// UseBuiltinPatterns prepends BuiltinPatterns.
	UseBuiltinPatterns bool

	// Marker overrides DefaultMarker.
	Marker string

	// MaxStringLength truncates longer strings. Zero disables truncation.
	MaxStringLength int

	// MaxPayloadSize bounds the JSON size of each record payload. Larger
	// payloads are replaced by a preview. Zero disables the bound.
	MaxPayloadSize int

	// CustomRedactor runs on each string before the patterns.
	CustomRedactor func(string) string
}

// Redactor applies a Config. It is safe for concurrent use. A nil
// *Redactor returns values unchanged.
type Redactor struct {
	patterns   []Pattern
	scrubPaths []string
	hashMode   bool
	salt       string
	marker     string
	maxLen     int
	maxPayload int
	custom     func(string) string

	scrubbed    atomic.Int64
	substituted atomic.Int64
}

// New compiles cfg. A malformed pattern yields *errors.RedactionConfigError.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{
		hashMode:   cfg.HashMode,
		salt:       cfg.Salt,
		marker:     cfg.Marker,
		maxLen:     cfg.MaxStringLength,
		maxPayload: cfg.MaxPayloadSize,
		custom:     cfg.CustomRedactor,
	}
	if r.marker == "" {
		r.marker = DefaultMarker
	}
	if cfg.UseBuiltinPatterns {
		r.patterns = BuiltinPatterns()
	}
	for i, expr := range cfg.Patterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &pkgerrors.RedactionConfigError{Pattern: expr, Err: err}
		}
		r.patterns = append(r.patterns, Pattern{Name: "custom_" + strconv.Itoa(i), Expr: re})
	}
	for _, p := range cfg.ScrubPaths {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			r.scrubPaths = append(r.scrubPaths, p)
		}
	}
	return r, nil
}

// Redact returns a redacted copy of v; v is never modified. Maps and slices
// are copied, keeping map[string]string and []string as they are. Structs,
// pointers and other typed values are converted with Normalize first.
func (r *Redactor) Redact(v any) any {
	return r.RedactAt("", v)
}

// RedactAt redacts v as if it were found at path.
func (r *Redactor) RedactAt(path string, v any) any {
	if r == nil {
		return v
	}
	return r.walk(strings.ToLower(path), v, 0)
}

// RedactString applies the pattern stage to s.
func (r *Redactor) RedactString(s string) string {
	if r == nil || s == "" {
		return s
	}
	if r.custom != nil {
		s = r.custom(s)
	}
	for _, p := range r.patterns {
		out := p.Expr.ReplaceAllStringFunc(s, func(match string) string {
			r.substituted.Add(1)
			if r.hashMode {
				return HashValue(r.salt, match)
			}
			return r.marker
		})
		s = out
	}
	if r.maxLen > 0 {
		s = span.TruncateString(s, r.maxLen)
	}
	return s
}

// RedactAttributes redacts each attribute as a top-level key.
func (r *Redactor) RedactAttributes(attrs map[string]any) map[string]any {
	if r == nil || attrs == nil {
		return attrs
	}
	return r.walk("", attrs, 0).(map[string]any)
}

// RedactRecord redacts the input, output, attributes and events of rec.
// Payloads are scrubbed under the "input" and "output" paths and then
// bounded by MaxPayloadSize.
func (r *Redactor) RedactRecord(rec span.Record) span.Record {
	if r == nil {
		return rec
	}
	if rec.Input != nil {
		rec.Input = r.bound(r.RedactAt("input", rec.Input))
	}
	if rec.Output != nil {
		rec.Output = r.bound(r.RedactAt("output", rec.Output))
	}
	rec.Attributes = r.RedactAttributes(rec.Attributes)
	if len(rec.Events) > 0 {
		events := make([]span.Event, len(rec.Events))
		for i, ev := range rec.Events {
			ev.Attributes = r.RedactAttributes(ev.Attributes)
			events[i] = ev
		}
		rec.Events = events
	}
	if rec.StatusMessage != "" {
		rec.StatusMessage = r.RedactString(rec.StatusMessage)
	}
	if rec.Cost != nil && !isFinite(*rec.Cost) {
		rec.Cost = nil
	}
	return rec
}

// Stats counts redactions performed.
type Stats struct {
	ScrubbedPaths int64
	Substitutions int64
}

func (r *Redactor) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{ScrubbedPaths: r.scrubbed.Load(), Substitutions: r.substituted.Load()}
}

func (r *Redactor) walk(path string, v any, depth int) any {
	if path != "" && r.shouldScrub(path) {
		r.scrubbed.Add(1)
		return r.marker
	}
	if depth > maxDepth {
		return DepthMarker
	}

	switch val := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v
	case float64:
		if !isFinite(val) {
			return formatFloat(val)
		}
		return v
	case float32:
		if !isFinite(float64(val)) {
			return formatFloat(float64(val))
		}
		return v
	case string:
		return r.RedactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.walk(join(path, k), item, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = r.leaf(join(path, k), item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.walk(index(path, i), item, depth+1)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = r.leaf(index(path, i), item)
		}
		return out
	default:
		return r.walk(path, Normalize(v), depth+1)
	}
}

// leaf redacts a string found at path.
func (r *Redactor) leaf(path, s string) string {
	if r.shouldScrub(path) {
		r.scrubbed.Add(1)
		return r.marker
	}
	return r.RedactString(s)
}

// bound replaces payloads whose encoding exceeds maxPayload with a
// truncated preview.
func (r *Redactor) bound(v any) any {
	if r.maxPayload <= 0 {
		return v
	}
	if s, ok := v.(string); ok {
		return span.TruncateString(s, r.maxPayload)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return span.TruncateString(fmt.Sprint(v), r.maxPayload)
	}
	if len(data) <= r.maxPayload {
		return v
	}
	return map[string]any{
		TruncatedKey: true,
		PreviewKey:   span.TruncateString(string(data), min(previewSize, r.maxPayload)),
	}
}

func (r *Redactor) shouldScrub(path string) bool {
	for _, p := range r.scrubPaths {
		if path == p || strings.HasSuffix(path, "."+p) {
			return true
		}
	}
	return false
}

func join(path, key string) string {
	key = strings.ToLower(key)
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// HashValue returns "[HASH:xxxxxxxx]", the first four bytes of
// sha256(salt+value) in hex.
func HashValue(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + value))
	return "[HASH:" + hex.EncodeToString(sum[:4]) + "]"
}

// Normalize converts v into the generic form produced by decoding JSON
// (map[string]any, []any, string, float64, bool or nil) so every nested
// value can be redacted. Named scalar types become their base type. Values
// that cannot be encoded, such as funcs, channels, NaN fields or cycles,
// become a truncated fmt rendering.
func Normalize(v any) any {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return unencodable(v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return unencodable(v, err)
	}
	return out
}

func unencodable(v any, err error) string {
	var uv *json.UnsupportedValueError
	if errors.As(err, &uv) && strings.HasPrefix(uv.Str, "encountered a cycle") {
		return fmt.Sprintf("[cyclic %T]", v)
	}
	return span.TruncateString(fmt.Sprint(v), maxFallbackLength)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
