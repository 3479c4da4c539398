package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPIIDetector_Email(t *testing.T) {
	d := NewPIIDetector()
	matches := d.Detect("Contact me at john.doe@example.com")
	assert.Len(t, matches, 1)
	assert.Equal(t, "Email Address", matches[0].Type)
	assert.Equal(t, "john.doe@example.com", matches[0].Matched)
}

func TestPIIDetector_SSN(t *testing.T) {
	d := NewPIIDetector()
	matches := d.Detect("SSN: 123-45-6789")
	assert.NotEmpty(t, matches)
}

func TestPIIDetector_CreditCard(t *testing.T) {
	d := NewPIIDetector()
	matches := d.Detect("Card: 4111111111111111")
	assert.NotEmpty(t, matches)
}

func TestPIIDetector_SkipLocalIP(t *testing.T) {
	d := NewPIIDetector()
	matches := d.Detect("Localhost: 127.0.0.1")
	for _, m := range matches {
		assert.NotEqual(t, "IP Address", m.Type)
	}
}

func TestPIIDetector_IncludeLocalIP(t *testing.T) {
	d := NewPIIDetector().IncludeLocal()
	matches := d.Detect("Localhost: 127.0.0.1")
	found := false
	for _, m := range matches {
		if m.Type == "IP Address" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPIIDetector_NoPII(t *testing.T) {
	d := NewPIIDetector()
	assert.False(t, d.ContainsPII("This is just regular text without PII."))
}

func TestPIIDetector_MultiplePII(t *testing.T) {
	d := NewPIIDetector()
	matches := d.Detect("Email: test@example.com, Phone: 555-123-4567")
	assert.GreaterOrEqual(t, len(matches), 2)
}
