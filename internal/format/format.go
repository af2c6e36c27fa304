// Package format renders segment sequences as plain text, SRT, WebVTT or JSON.
package format

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cuongbtq/transcriber/internal/domain"
)

// ToText space-joins the segment texts in order.
func ToText(segments []domain.Segment) string {
	return domain.JoinText(segments)
}

// ToSRT renders 1-indexed SubRip cues separated by blank lines.
func ToSRT(segments []domain.Segment) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n")
		b.WriteString(SRTTimestamp(s.Start))
		b.WriteString(" --> ")
		b.WriteString(SRTTimestamp(s.End))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// ToVTT renders a WebVTT document.
func ToVTT(segments []domain.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i, s := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(VTTTimestamp(s.Start))
		b.WriteString(" --> ")
		b.WriteString(VTTTimestamp(s.End))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// ToJSON renders the segments as a JSON array.
func ToJSON(segments []domain.Segment) (string, error) {
	if segments == nil {
		segments = []domain.Segment{}
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal segments: %w", err)
	}
	return string(data), nil
}

// SRTTimestamp formats seconds as HH:MM:SS,mmm.
func SRTTimestamp(seconds float64) string {
	return timestamp(seconds, ',')
}

// VTTTimestamp formats seconds as HH:MM:SS.mmm.
func VTTTimestamp(seconds float64) string {
	return timestamp(seconds, '.')
}

func timestamp(seconds float64, sep byte) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))

	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000

	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// Render formats segments for f and returns the body with its content type.
func Render(f domain.Format, segments []domain.Segment) (body string, contentType string, err error) {
	switch f {
	case domain.FormatText:
		return ToText(segments), "text/plain; charset=utf-8", nil
	case domain.FormatSRT:
		return ToSRT(segments), "application/x-subrip; charset=utf-8", nil
	case domain.FormatVTT:
		return ToVTT(segments), "text/vtt; charset=utf-8", nil
	case domain.FormatJSON, "":
		body, err := ToJSON(segments)
		return body, "application/json; charset=utf-8", err
	}
	return "", "", fmt.Errorf("unknown output format %q", f)
}
