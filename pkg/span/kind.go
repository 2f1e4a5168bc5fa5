package span

import (
	"fmt"
	"strings"
)

// Kind classifies what a span represents. The numeric values are the wire
// codes understood by the ingestion server.
type Kind uint8

const (
	KindRoot         Kind = 0
	KindPlanning     Kind = 1
	KindReasoning    Kind = 2
	KindToolCall     Kind = 3
	KindToolResponse Kind = 4
	KindSynthesis    Kind = 5
	KindResponse     Kind = 6
	KindError        Kind = 7
	KindRetrieval    Kind = 8
	KindEmbedding    Kind = 9
	KindHTTPCall     Kind = 10
	KindDatabase     Kind = 11
	KindFunction     Kind = 12
	KindReranking    Kind = 13
	KindParsing      Kind = 14
	KindGeneration   Kind = 15
	KindCustom       Kind = 255
)

var kindNames = map[Kind]string{
	KindRoot:         "root",
	KindPlanning:     "planning",
	KindReasoning:    "reasoning",
	KindToolCall:     "tool_call",
	KindToolResponse: "tool_response",
	KindSynthesis:    "synthesis",
	KindResponse:     "response",
	KindError:        "error",
	KindRetrieval:    "retrieval",
	KindEmbedding:    "embedding",
	KindHTTPCall:     "http_call",
	KindDatabase:     "database",
	KindFunction:     "function",
	KindReranking:    "reranking",
	KindParsing:      "parsing",
	KindGeneration:   "generation",
	KindCustom:       "custom",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Code returns the numeric wire code.
func (k Kind) Code() int {
	return int(k)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts a kind name, case-insensitively, with "-" or "_"
// separators ("tool-call", "ToolCall" and "tool_call" are equal).
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	if k, ok := kindByName[norm]; ok {
		return k, nil
	}
	compact := strings.ReplaceAll(norm, "_", "")
	for name, k := range kindByName {
		if strings.ReplaceAll(name, "_", "") == compact {
			return k, nil
		}
	}
	return 0, fmt.Errorf("span: unknown kind %q", s)
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("span: invalid kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status is the outcome of a span.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusError {
		return "error"
	}
	return "ok"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "ok", "":
		*s = StatusOK
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("span: unknown status %q", b)
	}
	return nil
}
