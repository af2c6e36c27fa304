package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/media"
)

// OutcomeKind tags the result of a caption lookup.
type OutcomeKind int

const (
	// CaptionsFound carries a caption-derived result.
	CaptionsFound OutcomeKind = iota
	// CaptionsUnavailable means no usable track; speech recognition may still work.
	CaptionsUnavailable
	// SourceGone means the video itself is deleted, private or unknown.
	SourceGone
)

func (k OutcomeKind) String() string {
	switch k {
	case CaptionsFound:
		return "found"
	case CaptionsUnavailable:
		return "unavailable"
	case SourceGone:
		return "source_gone"
	}
	return "unknown"
}

// Outcome is the tagged result of FetchCaptions. Code is set for the two
// non-found kinds.
type Outcome struct {
	Kind   OutcomeKind
	Result *domain.Result
	Code   string
	Reason string
}

func found(r *domain.Result) Outcome {
	return Outcome{Kind: CaptionsFound, Result: r}
}

func unavailable(code, reason string) Outcome {
	return Outcome{Kind: CaptionsUnavailable, Code: code, Reason: reason}
}

func gone(reason string) Outcome {
	return Outcome{Kind: SourceGone, Code: domain.CodeVideoUnavailable, Reason: reason}
}

// CaptionOptions selects and optionally translates a track.
type CaptionOptions struct {
	Language    string
	TranslateTo string
}

// CaptionProvider returns existing platform captions for a video.
type CaptionProvider interface {
	FetchCaptions(ctx context.Context, videoID string, opts CaptionOptions) (Outcome, error)
}

// MetadataSource lists the caption tracks of a video.
type MetadataSource interface {
	VideoInfo(ctx context.Context, rawURL string) (*media.VideoInfo, error)
}

// DefaultLanguages are tried after the requested language.
var DefaultLanguages = []string{"en", "en-US", "en-GB"}

// CaptionClient discovers tracks through extractor metadata and downloads
// them in YouTube's json3 timed-text format.
type CaptionClient struct {
	meta       MetadataSource
	httpClient *http.Client
	languages  []string
	logger     *slog.Logger
}

func NewCaptionClient(meta MetadataSource, httpClient *http.Client, languages []string, logger *slog.Logger) *CaptionClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	return &CaptionClient{meta: meta, httpClient: httpClient, languages: languages, logger: logger}
}

// FetchCaptions only returns an error when ctx is done. Every other failure
// is folded into an Unavailable outcome so the caller can fall back.
func (c *CaptionClient) FetchCaptions(ctx context.Context, videoID string, opts CaptionOptions) (Outcome, error) {
	info, err := c.meta.VideoInfo(ctx, WatchURL(videoID))
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if errors.Is(err, media.ErrSourceGone) {
			return gone(err.Error()), nil
		}
		return unavailable(domain.CodeTranscriptNotFound, err.Error()), nil
	}

	if len(info.Subtitles) == 0 && len(info.AutomaticCaptions) == 0 {
		return unavailable(domain.CodeCaptionsDisabled, "video has no caption tracks"), nil
	}

	sel, ok := selectTrack(info, c.candidates(opts.Language))
	if !ok {
		return unavailable(domain.CodeTranscriptNotFound, "no usable caption track"), nil
	}

	segments, err := c.download(ctx, sel.url, "")
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return unavailable(domain.CodeTranscriptNotFound, err.Error()), nil
	}
	if len(segments) == 0 {
		return unavailable(domain.CodeTranscriptNotFound, "caption track is empty"), nil
	}

	result := domain.NewResult(domain.SourceCaptions, sel.language, segments)
	if sel.generated {
		result.AddWarning(fmt.Sprintf("Using auto-generated captions (%s)", sel.language))
	}

	if opts.TranslateTo != "" && !SameLanguage(opts.TranslateTo, sel.language) {
		translated, err := c.download(ctx, sel.url, opts.TranslateTo)
		switch {
		case err != nil:
			result.AddWarning(fmt.Sprintf("Translation to %s failed: %v", opts.TranslateTo, err))
		case len(translated) == 0:
			result.AddWarning(fmt.Sprintf("Translation to %s returned no captions", opts.TranslateTo))
		default:
			warnings := result.Warnings
			result = domain.NewResult(domain.SourceCaptions, opts.TranslateTo, translated)
			result.Warnings = warnings
			result.Metadata["original_language"] = sel.language
		}
	}

	captionType := "manual"
	if sel.generated {
		captionType = "auto-generated"
	}
	result.Metadata["video_id"] = videoID
	result.Metadata["caption_type"] = captionType
	if info.Title != "" {
		result.Metadata["title"] = info.Title
	}

	c.logger.Info("Captions fetched",
		slog.String("video_id", videoID),
		slog.String("language", result.Language),
		slog.String("caption_type", captionType),
		slog.Int("segments", len(result.Segments)),
	)
	return found(result), nil
}

func (c *CaptionClient) candidates(requested string) []string {
	out := make([]string, 0, len(c.languages)+1)
	if requested != "" {
		out = append(out, requested)
	}
	for _, l := range c.languages {
		if !strings.EqualFold(l, requested) {
			out = append(out, l)
		}
	}
	return out
}

type selection struct {
	url       string
	language  string
	generated bool
}

// selectTrack prefers a manual track in a candidate language, then an
// auto-generated one, then any manual track, then the original-language
// auto-generated track.
func selectTrack(info *media.VideoInfo, langs []string) (selection, bool) {
	for _, l := range langs {
		if u, ok := trackURL(info.Subtitles, l); ok {
			return selection{url: u, language: l}, true
		}
	}
	for _, l := range langs {
		if u, ok := trackURL(info.AutomaticCaptions, l); ok {
			return selection{url: u, language: l, generated: true}, true
		}
	}
	for _, l := range sortedKeys(info.Subtitles) {
		if u, ok := trackURL(info.Subtitles, l); ok {
			return selection{url: u, language: l}, true
		}
	}
	for _, l := range sortedKeys(info.AutomaticCaptions) {
		if base, isOrig := strings.CutSuffix(l, "-orig"); isOrig {
			if u, ok := trackURL(info.AutomaticCaptions, l); ok {
				return selection{url: u, language: base, generated: true}, true
			}
		}
	}
	return selection{}, false
}

func trackURL(tracks map[string][]media.Track, lang string) (string, bool) {
	list := tracks[lang]
	if len(list) == 0 {
		return "", false
	}
	for _, t := range list {
		if t.Ext == "json3" && t.URL != "" {
			return t.URL, true
		}
	}
	if list[0].URL == "" {
		return "", false
	}
	return list[0].URL, true
}

func sortedKeys(m map[string][]media.Track) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type timedText struct {
	Events []struct {
		StartMs    int64 `json:"tStartMs"`
		DurationMs int64 `json:"dDurationMs"`
		Segs       []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func (c *CaptionClient) download(ctx context.Context, trackURL, translateTo string) ([]domain.Segment, error) {
	u, err := url.Parse(trackURL)
	if err != nil {
		return nil, fmt.Errorf("invalid caption URL: %w", err)
	}
	q := u.Query()
	q.Set("fmt", "json3")
	if translateTo != "" {
		q.Set("tlang", translateTo)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("caption request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("caption request returned HTTP %d", resp.StatusCode)
	}

	var tt timedText
	if err := json.NewDecoder(resp.Body).Decode(&tt); err != nil {
		return nil, fmt.Errorf("failed to decode captions: %w", err)
	}

	segments := make([]domain.Segment, 0, len(tt.Events))
	for _, ev := range tt.Events {
		var b strings.Builder
		for _, s := range ev.Segs {
			b.WriteString(s.UTF8)
		}
		text := strings.Join(strings.Fields(b.String()), " ")
		if text == "" {
			continue
		}
		start := float64(ev.StartMs) / 1000
		segments = append(segments, domain.Segment{
			Start: start,
			End:   start + float64(ev.DurationMs)/1000,
			Text:  text,
		})
	}
	return segments, nil
}

// SameLanguage compares primary language subtags, so en-US matches en.
func SameLanguage(a, b string) bool {
	primary := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if i := strings.IndexAny(s, "-_"); i >= 0 {
			s = s[:i]
		}
		return s
	}
	return primary(a) != "" && primary(a) == primary(b)
}
