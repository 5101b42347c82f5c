package superagent

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// redactedMarker replaces any text segment matched by a secret pattern.
const redactedMarker = "***REDACTED***"

// secretPattern is a pre-compiled pattern with its replacement template.
type secretPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinSecretPatterns cover vendor API keys, bearer tokens, and key=value
// pairs whose key names suggest a credential.
var builtinSecretPatterns = []secretPattern{
	{
		name:        "openai-key",
		regex:       regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{20,}`),
		replacement: redactedMarker,
	},
	{
		name:        "github-token",
		regex:       regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
		replacement: redactedMarker,
	},
	{
		name:        "bearer-token",
		regex:       regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9_\-.=]{20,}`),
		replacement: "Bearer " + redactedMarker,
	},
	{
		name:        "api-key-pair",
		regex:       regexp.MustCompile(`(?i)(api[_-]?key|apikey)(\s*[:=]\s*)(["']?)[a-zA-Z0-9_\-]{16,}(["']?)`),
		replacement: "$1$2$3" + redactedMarker + "$4",
	},
	{
		name:        "credential-pair",
		regex:       regexp.MustCompile(`(?i)\b(token|auth|secret|password)(\s*[:=]\s*)(["']?)[^\s"']{8,}(["']?)`),
		replacement: "$1$2$3" + redactedMarker + "$4",
	},
}

// credentialKeyPattern flags map keys whose name suggests a secret value.
var credentialKeyPattern = regexp.MustCompile(`(?i)key|token|secret|password|auth`)

// Redactor masks secrets in text and structured data before it reaches logs
// or the NDJSON stream. The zero value is not usable; construct with
// NewRedactor. Safe for concurrent use.
type Redactor struct {
	patterns []secretPattern
}

// NewRedactor returns a redactor with the built-in patterns plus any extra
// compiled patterns the caller supplies.
func NewRedactor(extra ...*regexp.Regexp) *Redactor {
	patterns := make([]secretPattern, len(builtinSecretPatterns), len(builtinSecretPatterns)+len(extra))
	copy(patterns, builtinSecretPatterns)
	for _, re := range extra {
		patterns = append(patterns, secretPattern{name: re.String(), regex: re, replacement: redactedMarker})
	}
	return &Redactor{patterns: patterns}
}

// Redact masks every secret-shaped token in text. Input is NFKC-normalised
// first so decomposed forms cannot slip a key past the patterns.
func (r *Redactor) Redact(text string) string {
	out := norm.NFKC.String(text)
	for _, p := range r.patterns {
		out = p.regex.ReplaceAllString(out, p.replacement)
	}
	return out
}

// RedactMap masks secrets in a string-keyed map: values under credential-ish
// keys are replaced wholesale, string values are pattern-scanned, nested
// maps and slices recurse.
func (r *Redactor) RedactMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if credentialKeyPattern.MatchString(k) {
			out[k] = redactedMarker
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case map[string]any:
		return r.RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}
