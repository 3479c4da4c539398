package hasher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentToTag_Format(t *testing.T) {
	tag := ContentToTag("Use PostgreSQL for storage")
	assert.True(t, strings.HasPrefix(tag, TagPrefix))
	assert.Len(t, tag, len(TagPrefix)+16)
}

func TestContentToTag_WhitespaceNormalization(t *testing.T) {
	tag1 := ContentToTag("Use PostgreSQL for storage")
	tag2 := ContentToTag("  Use  PostgreSQL   for   storage  ")
	assert.Equal(t, tag1, tag2)
}

func TestContentToTag_CaseInsensitive(t *testing.T) {
	tag1 := ContentToTag("Use PostgreSQL")
	tag2 := ContentToTag("use postgresql")
	assert.Equal(t, tag1, tag2)
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("hello world"), Hash("hello world"))
	assert.NotEqual(t, Hash("hello world"), Hash("hello there"))
}

func TestHashToTag_TruncatesTo16Hex(t *testing.T) {
	full := Hash("some content")
	tag := HashToTag(full)
	assert.Equal(t, TagPrefix+full[:16], tag)
}
