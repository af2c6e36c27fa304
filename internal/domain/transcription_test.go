package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResult(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 2.5, Text: " Hello "},
		{Start: 2.5, End: 2.5, Text: "   "},
		{Start: 3, End: 1, Text: "world"},
		{Start: 4, End: 6.25, Text: "again"},
	}

	result := NewResult(SourceCaptions, "en", segments)

	assert.Equal(t, []Segment{
		{Start: 0, End: 2.5, Text: "Hello"},
		{Start: 3, End: 3, Text: "world"},
		{Start: 4, End: 6.25, Text: "again"},
	}, result.Segments)
	assert.Equal(t, "Hello world again", result.Transcript)
	assert.Equal(t, 6.25, result.Duration)
	assert.Empty(t, result.Warnings)
}

func TestJoinText(t *testing.T) {
	assert.Equal(t, "", JoinText(nil))
	assert.Equal(t, "a b c", JoinText([]Segment{{Text: "a"}, {Text: "b"}, {Text: "c"}}))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "json": FormatJSON, "text": FormatText, "srt": FormatSRT, "vtt": FormatVTT} {
		got, ok := ParseFormat(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseFormat("docx")
	assert.False(t, ok)
}

func TestError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewJobExpiredError("abc"))

	assert.True(t, errors.Is(err, ErrJobExpired))
	assert.False(t, errors.Is(err, ErrJobNotFound))
	assert.Equal(t, KindGone, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
