package redact

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Mode selects how a matched span is rewritten.
type Mode int

const (
	// ModeMask replaces every match with Config.Placeholder.
	ModeMask Mode = iota
	// ModeTypedMask replaces with "[REDACTED:<TYPE>]", naming the match kind.
	ModeTypedMask
	// ModeAsterisks replaces with asterisks of the same length as the match.
	ModeAsterisks
	// ModeRemove deletes the match entirely.
	ModeRemove
)

// Config configures a Redactor.
type Config struct {
	Mode          Mode
	RedactSecrets bool
	RedactPII     bool
	Placeholder   string
}

// DefaultConfig redacts secrets only, with a fixed placeholder.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeMask,
		RedactSecrets: true,
		RedactPII:     false,
		Placeholder:   "[REDACTED]",
	}
}

type span struct {
	start, end int
	typ        string
	repl       string
}

// Redactor detects and rewrites secrets/PII in content per a Config.
type Redactor struct {
	secrets *SecretDetector
	pii     *PIIDetector
	cfg     Config
	logger  *zap.Logger
}

// New returns a Redactor with DefaultConfig.
func New(logger *zap.Logger) *Redactor {
	return NewWithConfig(DefaultConfig(), logger)
}

// NewWithConfig returns a Redactor with the given config.
func NewWithConfig(cfg Config, logger *zap.Logger) *Redactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redactor{
		secrets: NewSecretDetector(),
		pii:     NewPIIDetector(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Config returns the active configuration.
func (r *Redactor) Config() Config { return r.cfg }

// Redact rewrites every detected secret/PII span in content per the
// configured mode. Overlap policy: sort by start, apply in reverse so
// earlier positions stay valid.
func (r *Redactor) Redact(content string) string {
	var spans []span

	if r.cfg.RedactSecrets {
		for _, m := range r.secrets.Detect(content) {
			spans = append(spans, span{m.Start, m.End, m.Type, r.replacement(m.Type, m.End-m.Start)})
		}
	}

	if r.cfg.RedactPII {
		piiMatches := r.pii.Detect(content)
		r.logPIIDetection(piiMatches)
		for _, m := range piiMatches {
			spans = append(spans, span{m.Start, m.End, m.Type, r.replacement(m.Type, m.End-m.Start)})
		}
	}

	// Sort descending by start so replacement can proceed in reverse order,
	// keeping earlier byte offsets valid as later ones are rewritten.
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	var filtered []span
	for _, s := range spans {
		overlaps := false
		for _, f := range filtered {
			if s.end > f.start && s.start < f.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			filtered = append(filtered, s)
		}
	}

	var b strings.Builder
	b.Grow(len(content))
	b.WriteString(content)
	result := b.String()
	for _, s := range filtered {
		result = result[:s.start] + s.repl + result[s.end:]
	}
	return result
}

// RedactWithFlag redacts content and reports whether anything changed.
func (r *Redactor) RedactWithFlag(content string) (string, bool) {
	redacted := r.Redact(content)
	return redacted, redacted != content
}

// NeedsRedaction reports whether content contains anything the configured
// detectors would rewrite, without performing the rewrite.
func (r *Redactor) NeedsRedaction(content string) bool {
	if r.cfg.RedactSecrets && r.secrets.ContainsSecrets(content) {
		return true
	}
	if r.cfg.RedactPII && r.pii.ContainsPII(content) {
		return true
	}
	return false
}

// DetectedTypes returns the match type names found by the enabled detectors.
func (r *Redactor) DetectedTypes(content string) []string {
	var types []string
	if r.cfg.RedactSecrets {
		types = append(types, r.secrets.DetectTypes(content)...)
	}
	if r.cfg.RedactPII {
		types = append(types, r.pii.DetectTypes(content)...)
	}
	return types
}

// logPIIDetection records that PII was found, without ever logging the
// matched text itself.
func (r *Redactor) logPIIDetection(matches []PIIMatch) {
	if len(matches) == 0 {
		return
	}
	types := make([]string, len(matches))
	for i, m := range matches {
		types[i] = m.Type
	}
	r.logger.Info("pii_detected",
		zap.Int("pii_count", len(matches)),
		zap.Strings("pii_types", types),
	)
}

func (r *Redactor) replacement(typeName string, length int) string {
	switch r.cfg.Mode {
	case ModeTypedMask:
		upper := strings.ToUpper(strings.ReplaceAll(typeName, " ", "_"))
		return "[REDACTED:" + upper + "]"
	case ModeAsterisks:
		return strings.Repeat("*", length)
	case ModeRemove:
		return ""
	default:
		return r.cfg.Placeholder
	}
}
