package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/internal/media"
	"github.com/cuongbtq/transcriber/shared/logger"
)

type fakeMeta struct {
	info *media.VideoInfo
	err  error
	urls []string
}

func (f *fakeMeta) VideoInfo(ctx context.Context, rawURL string) (*media.VideoInfo, error) {
	f.urls = append(f.urls, rawURL)
	return f.info, f.err
}

const englishTrack = `{"events":[
	{"tStartMs":0,"dDurationMs":1500,"segs":[{"utf8":"Hello"},{"utf8":" world"}]},
	{"tStartMs":1500,"dDurationMs":100,"segs":[{"utf8":"\n"}]},
	{"tStartMs":2000},
	{"tStartMs":2000,"dDurationMs":2500,"segs":[{"utf8":"second\nline"}]}
]}`

const germanTrack = `{"events":[{"tStartMs":0,"dDurationMs":1500,"segs":[{"utf8":"Hallo Welt"}]}]}`

func captionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json3", r.URL.Query().Get("fmt"))
		switch r.URL.Query().Get("tlang") {
		case "":
			fmt.Fprint(w, englishTrack)
		case "de":
			fmt.Fprint(w, germanTrack)
		default:
			http.Error(w, "no translation", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(meta MetadataSource) *CaptionClient {
	return NewCaptionClient(meta, nil, nil, logger.NewNop().Logger)
}

func TestFetchCaptions_ManualTrack(t *testing.T) {
	srv := captionServer(t)
	meta := &fakeMeta{info: &media.VideoInfo{
		Title:             "Talk",
		Subtitles:         map[string][]media.Track{"en": {{Ext: "vtt", URL: srv.URL + "/vtt"}, {Ext: "json3", URL: srv.URL + "/en"}}},
		AutomaticCaptions: map[string][]media.Track{"en": {{Ext: "json3", URL: srv.URL + "/auto"}}},
	}}

	out, err := newClient(meta).FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{})
	require.NoError(t, err)
	require.Equal(t, CaptionsFound, out.Kind)

	r := out.Result
	assert.Equal(t, domain.SourceCaptions, r.Source)
	assert.Equal(t, "en", r.Language)
	assert.Equal(t, "Hello world second line", r.Transcript)
	assert.Equal(t, 4.5, r.Duration)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "manual", r.Metadata["caption_type"])
	assert.Equal(t, "dQw4w9WgXcQ", r.Metadata["video_id"])
	assert.Equal(t, []string{"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}, meta.urls)
}

func TestFetchCaptions_PrefersManualOverGenerated(t *testing.T) {
	info := &media.VideoInfo{
		Subtitles:         map[string][]media.Track{"en-GB": {{Ext: "json3", URL: "manual"}}},
		AutomaticCaptions: map[string][]media.Track{"en": {{Ext: "json3", URL: "auto"}}},
	}

	sel, ok := selectTrack(info, DefaultLanguages)
	require.True(t, ok)
	assert.Equal(t, "manual", sel.url)
	assert.False(t, sel.generated)
}

func TestFetchCaptions_GeneratedTrackWarns(t *testing.T) {
	srv := captionServer(t)
	meta := &fakeMeta{info: &media.VideoInfo{
		AutomaticCaptions: map[string][]media.Track{"en": {{Ext: "json3", URL: srv.URL + "/auto"}}},
	}}

	out, err := newClient(meta).FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{})
	require.NoError(t, err)
	require.Equal(t, CaptionsFound, out.Kind)
	assert.Equal(t, []string{"Using auto-generated captions (en)"}, out.Result.Warnings)
	assert.Equal(t, "auto-generated", out.Result.Metadata["caption_type"])
}

func TestFetchCaptions_RequestedLanguageFirst(t *testing.T) {
	info := &media.VideoInfo{
		Subtitles: map[string][]media.Track{
			"en": {{Ext: "json3", URL: "en"}},
			"fr": {{Ext: "json3", URL: "fr"}},
		},
	}

	sel, ok := selectTrack(info, newClient(nil).candidates("fr"))
	require.True(t, ok)
	assert.Equal(t, "fr", sel.language)
}

func TestFetchCaptions_OriginalLanguageAutoFallback(t *testing.T) {
	info := &media.VideoInfo{
		AutomaticCaptions: map[string][]media.Track{
			"ab":      {{Ext: "json3", URL: "ab"}},
			"ja-orig": {{Ext: "json3", URL: "ja"}},
		},
	}

	sel, ok := selectTrack(info, DefaultLanguages)
	require.True(t, ok)
	assert.Equal(t, "ja", sel.language)
	assert.True(t, sel.generated)
}

func TestFetchCaptions_Translation(t *testing.T) {
	srv := captionServer(t)
	meta := &fakeMeta{info: &media.VideoInfo{
		Subtitles: map[string][]media.Track{"en": {{Ext: "json3", URL: srv.URL + "/en"}}},
	}}
	client := newClient(meta)

	out, err := client.FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{TranslateTo: "de"})
	require.NoError(t, err)
	assert.Equal(t, "de", out.Result.Language)
	assert.Equal(t, "Hallo Welt", out.Result.Transcript)
	assert.Equal(t, "en", out.Result.Metadata["original_language"])

	out, err = client.FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{TranslateTo: "xx"})
	require.NoError(t, err)
	require.Equal(t, CaptionsFound, out.Kind, "translation failure is not fatal")
	assert.Equal(t, "en", out.Result.Language)
	require.Len(t, out.Result.Warnings, 1)
	assert.Contains(t, out.Result.Warnings[0], "Translation to xx failed")

	out, err = client.FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{TranslateTo: "en-US"})
	require.NoError(t, err)
	assert.Equal(t, "en", out.Result.Language, "same language is not translated")
	assert.Empty(t, out.Result.Warnings)
}

func TestFetchCaptions_Unavailable(t *testing.T) {
	out, err := newClient(&fakeMeta{info: &media.VideoInfo{}}).FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{})
	require.NoError(t, err)
	assert.Equal(t, CaptionsUnavailable, out.Kind)
	assert.Equal(t, domain.CodeCaptionsDisabled, out.Code)

	onlyForeign := &media.VideoInfo{AutomaticCaptions: map[string][]media.Track{"ab": {{Ext: "json3", URL: "x"}}}}
	out, err = newClient(&fakeMeta{info: onlyForeign}).FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{})
	require.NoError(t, err)
	assert.Equal(t, CaptionsUnavailable, out.Kind)
	assert.Equal(t, domain.CodeTranscriptNotFound, out.Code)

	out, err = newClient(&fakeMeta{err: errors.New("extractor crashed")}).FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{})
	require.NoError(t, err)
	assert.Equal(t, CaptionsUnavailable, out.Kind)
}

func TestFetchCaptions_SourceGone(t *testing.T) {
	meta := &fakeMeta{err: fmt.Errorf("%w: Private video", media.ErrSourceGone)}

	out, err := newClient(meta).FetchCaptions(context.Background(), "dQw4w9WgXcQ", CaptionOptions{})
	require.NoError(t, err)
	assert.Equal(t, SourceGone, out.Kind)
	assert.Contains(t, out.Reason, "Private video")
}

func TestFetchCaptions_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClient(&fakeMeta{err: context.Canceled}).FetchCaptions(ctx, "dQw4w9WgXcQ", CaptionOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSameLanguage(t *testing.T) {
	assert.True(t, SameLanguage("en", "en-US"))
	assert.True(t, SameLanguage("EN_gb", "en"))
	assert.False(t, SameLanguage("en", "de"))
	assert.False(t, SameLanguage("", ""))
}
