package secrets

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor provides secure redaction of sensitive data in logs and outputs
type Redactor struct {
	patterns    []*regexp.Regexp
	literals    []string
	replacement string
}

// NewRedactor creates a new redactor with default sensitive patterns
func NewRedactor() *Redactor {
	defaultPatterns := []string{
		// Database connection strings
		`postgres(?:ql)?://[^:]+:[^@]+@[^\s"']+`,
		`redis://[^:]*:[^@]+@[^\s"']+`,

		// Credentials in form bodies and query strings
		`(?i)(?:password|passwd|pwd|session|token|auth_token|ct0)=[^&\s"']+`,
		`(?i)(?:api[_-]?key|token|secret|password)["\s]*[:=]["\s]*[^\s"',}]+`,
		`(?i)bearer\s+[a-zA-Z0-9\-\._~\+/]+=*`,

		// JWT tokens
		`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	}

	patterns := make([]*regexp.Regexp, len(defaultPatterns))
	for i, pattern := range defaultPatterns {
		patterns[i] = regexp.MustCompile(pattern)
	}
	return &Redactor{patterns: patterns, replacement: redacted}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	r.patterns = append(r.patterns, compiled)
	return nil
}

// AddSecrets registers exact values that must never appear in output.
// Longer values are replaced first so overlapping secrets do not leak.
func (r *Redactor) AddSecrets(values ...string) {
	for _, v := range values {
		if v != "" {
			r.literals = append(r.literals, v)
		}
	}
	sort.SliceStable(r.literals, func(i, j int) bool { return len(r.literals[i]) > len(r.literals[j]) })
}

// RedactString redacts sensitive data from a string
func (r *Redactor) RedactString(input string) string {
	result := input
	for _, lit := range r.literals {
		result = strings.ReplaceAll(result, lit, r.replacement)
	}
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// RedactError returns err's text with secrets removed, or "" for nil
func (r *Redactor) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return r.RedactString(err.Error())
}

// Value is a string that refuses to print itself
type Value struct {
	value string
}

// NewValue wraps a secret string
func NewValue(v string) Value { return Value{value: v} }

// Reveal returns the underlying secret; callers must not log it
func (v Value) Reveal() string { return v.value }

// IsSet reports whether a non-empty value is held
func (v Value) IsSet() bool { return v.value != "" }

func (v Value) String() string   { return redacted }
func (v Value) GoString() string { return "secrets.Value{" + redacted + "}" }

// MarshalJSON implements JSON marshaling with redaction
func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText keeps yaml/text encoders from emitting the value
func (v Value) MarshalText() ([]byte, error) { return []byte(redacted), nil }
