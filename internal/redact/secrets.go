// Package redact detects and rewrites secrets and personally identifiable
// information in captured content.
package redact

import (
	"regexp"
	"sort"
)

// SecretMatch is one detected secret span.
type SecretMatch struct {
	Type    string
	Start   int
	End     int
	Matched string
}

type secretPattern struct {
	name string
	re   *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"AWS Access Key ID", regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`)},
	{"AWS Secret Access Key", regexp.MustCompile(`(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[=:]\s*['"]?([A-Za-z0-9/+=]{40})['"]?`)},
	{"GitHub Token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`)},
	{"GitHub Personal Access Token (Classic)", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`)},
	{"Generic API Key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)\s*[=:]\s*['"]?([A-Za-z0-9_-]{20,})['"]?`)},
	{"Generic Secret", regexp.MustCompile(`(?i)(?:secret|password|passwd|pwd)\s*[=:]\s*['"]?([^\s'"]{8,})['"]?`)},
	{"Private Key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`)},
	{"JWT Token", regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`)},
	{"Slack Token", regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`)},
	{"Slack Webhook", regexp.MustCompile(`https://hooks\.slack\.com/services/T[A-Z0-9]+/B[A-Z0-9]+/[a-zA-Z0-9]+`)},
	{"Google API Key", regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)},
	{"Stripe API Key", regexp.MustCompile(`(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`)},
	{"Database URL with Credentials", regexp.MustCompile(`(?i)(?:postgres|mysql|mongodb|redis)://[^:]+:[^@]+@[^\s]+`)},
	{"Bearer Token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.-]+`)},
	{"OpenAI API Key", regexp.MustCompile(`sk-[A-Za-z0-9]{48}`)},
	{"Anthropic API Key", regexp.MustCompile(`sk-ant-api[A-Za-z0-9_-]{90,}`)},
}

// SecretDetector finds secret-shaped spans in content.
type SecretDetector struct {
	minSecretLength int
}

// NewSecretDetector returns a detector with the default minimum generic-secret length.
func NewSecretDetector() *SecretDetector {
	return &SecretDetector{minSecretLength: 8}
}

// WithMinLength overrides the minimum length accepted by the generic-secret pattern.
func (d *SecretDetector) WithMinLength(n int) *SecretDetector {
	d.minSecretLength = n
	return d
}

// ContainsSecrets reports whether content has at least one secret match.
func (d *SecretDetector) ContainsSecrets(content string) bool {
	return len(d.Detect(content)) > 0
}

// Detect returns every non-overlapping secret match, sorted by position.
// Overlap policy: earliest start wins.
func (d *SecretDetector) Detect(content string) []SecretMatch {
	var matches []SecretMatch
	for _, p := range secretPatterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matches = append(matches, SecretMatch{
				Type:    p.name,
				Start:   loc[0],
				End:     loc[1],
				Matched: content[loc[0]:loc[1]],
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })

	var result []SecretMatch
	lastEnd := 0
	for _, m := range matches {
		if m.Start >= lastEnd {
			lastEnd = m.End
			result = append(result, m)
		}
	}
	return result
}

// DetectTypes returns the type names found in content, one per match.
func (d *SecretDetector) DetectTypes(content string) []string {
	matches := d.Detect(content)
	types := make([]string, len(matches))
	for i, m := range matches {
		types[i] = m.Type
	}
	return types
}

// Count returns the number of secrets detected.
func (d *SecretDetector) Count(content string) int {
	return len(d.Detect(content))
}
