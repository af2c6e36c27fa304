package domain

import "strings"

// Segment is one timed span of transcribed text, times in seconds.
type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Result is a finished transcription.
type Result struct {
	Source     Source         `json:"source"`
	Language   string         `json:"language"`
	Confidence *float64       `json:"confidence,omitempty"`
	Duration   float64        `json:"duration"`
	Transcript string         `json:"transcript"`
	Segments   []Segment      `json:"segments"`
	Warnings   []string       `json:"warnings"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewResult builds a result from ordered segments. Duration is the latest
// segment end and the transcript is derived from the segment texts.
func NewResult(source Source, language string, segments []Segment) *Result {
	segments = NormalizeSegments(segments)

	var duration float64
	for _, s := range segments {
		if s.End > duration {
			duration = s.End
		}
	}

	return &Result{
		Source:     source,
		Language:   language,
		Duration:   duration,
		Transcript: JoinText(segments),
		Segments:   segments,
		Warnings:   []string{},
		Metadata:   map[string]any{},
	}
}

// AddWarning records a non-fatal degradation.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// JoinText space-joins segment texts in order.
func JoinText(segments []Segment) string {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, " ")
}

// NormalizeSegments trims text, drops empty segments and clamps end to be
// no earlier than start. Order is preserved.
func NormalizeSegments(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		out = append(out, s)
	}
	return out
}
