package redact

import "regexp"

// Pattern is a named redaction expression.
type Pattern struct {
	Name string
	Expr *regexp.Regexp
}

// Built-in patterns, applied in this order.
var builtinPatterns = []Pattern{
	{"email", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone_us", regexp.MustCompile(`\b(?:\+1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"phone_intl", regexp.MustCompile(`\B\+\d{1,3}[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}\b`)},
	{"api_key", regexp.MustCompile(`(?i)\b(?:sk-|pk_|api_|key_|secret_)[A-Za-z0-9_-]{20,}\b`)},
	{"bearer_token", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)},
	{"password_field", regexp.MustCompile(`(?i)(?:password|passwd|pwd|secret|token|api_key|apikey)["']?\s*[:=]\s*["']?[^"'\s,}]+`)},
	{"ip_address", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// BuiltinPatterns returns the built-in PII patterns.
func BuiltinPatterns() []Pattern {
	return append([]Pattern(nil), builtinPatterns...)
}
