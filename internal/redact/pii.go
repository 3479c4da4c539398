package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PIIMatch is one detected personally-identifiable-information span.
type PIIMatch struct {
	Type    string
	Start   int
	End     int
	Matched string
}

type piiPattern struct {
	name string
	re   *regexp.Regexp
}

var piiPatterns = []piiPattern{
	{"Email Address", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"Phone Number", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[2-9]\d{2}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"Credit Card Number", regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`)},
	{"IP Address", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)},
	{"Date of Birth", regexp.MustCompile(`(?i)\b(?:dob|date\s*of\s*birth|birth\s*date)\s*[:=]?\s*\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)},
	{"ZIP Code", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)},
	{"Driver's License", regexp.MustCompile(`(?i)\b(?:driver'?s?\s*license|dl)\s*#?\s*[:=]?\s*[A-Z0-9]{6,12}\b`)},
	{"Passport Number", regexp.MustCompile(`(?i)\bpassport\s*#?\s*[:=]?\s*[A-Z0-9]{6,9}\b`)},
}

// PIIDetector finds PII-shaped spans in content.
type PIIDetector struct {
	skipLocal bool
}

// NewPIIDetector returns a detector that skips local/private IP ranges by default.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{skipLocal: true}
}

// IncludeLocal disables skipping of local/private IP addresses.
func (d *PIIDetector) IncludeLocal() *PIIDetector {
	d.skipLocal = false
	return d
}

// ContainsPII reports whether content has at least one PII match.
func (d *PIIDetector) ContainsPII(content string) bool {
	return len(d.Detect(content)) > 0
}

// Detect returns every non-overlapping PII match, sorted by position.
func (d *PIIDetector) Detect(content string) []PIIMatch {
	var matches []PIIMatch
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matched := content[loc[0]:loc[1]]

			if d.skipLocal && p.name == "IP Address" && isLocalIP(matched) {
				continue
			}
			if p.name == "ZIP Code" && len(matched) == 5 && !hasAddressContext(content, loc[0]) {
				continue
			}

			matches = append(matches, PIIMatch{
				Type:    p.name,
				Start:   loc[0],
				End:     loc[1],
				Matched: matched,
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })

	var result []PIIMatch
	lastEnd := 0
	for _, m := range matches {
		if m.Start >= lastEnd {
			lastEnd = m.End
			result = append(result, m)
		}
	}
	return result
}

func isLocalIP(ip string) bool {
	switch {
	case strings.HasPrefix(ip, "127."),
		strings.HasPrefix(ip, "10."),
		strings.HasPrefix(ip, "192.168."),
		strings.HasPrefix(ip, "172.16."),
		ip == "0.0.0.0":
		return true
	default:
		return false
	}
}

// hasAddressContext only flags a bare 5-digit ZIP when it follows a hint
// word or a comma within the preceding 20 characters.
func hasAddressContext(content string, start int) bool {
	from := start - 20
	if from < 0 {
		from = 0
	}
	before := strings.ToLower(content[from:start])
	return strings.Contains(before, "address") || strings.Contains(before, "zip") || strings.Contains(before, ",")
}

// DetectTypes returns the type names found in content, one per match.
func (d *PIIDetector) DetectTypes(content string) []string {
	matches := d.Detect(content)
	types := make([]string, len(matches))
	for i, m := range matches {
		types[i] = m.Type
	}
	return types
}

// Count returns the number of PII spans detected.
func (d *PIIDetector) Count(content string) int {
	return len(d.Detect(content))
}
