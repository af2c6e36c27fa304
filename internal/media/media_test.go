package media

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcriber/internal/command"
	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/cuongbtq/transcriber/shared/logger"
)

func newTestAcquirer(t *testing.T, maxBytes int64, runner command.Runner) *Acquirer {
	t.Helper()
	if runner == nil {
		runner = &command.Fake{}
	}
	a, err := NewAcquirer(Config{TempDir: t.TempDir(), MaxUploadBytes: maxBytes}, runner, nil, nil, logger.NewNop().Logger)
	require.NoError(t, err)
	return a
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"audio/mpeg", ".mp3"},
		{"audio/x-wav", ".wav"},
		{"audio/mp4", ".m4a"},
		{"AUDIO/FLAC; charset=binary", ".flac"},
		{"video/quicktime", ".mov"},
		{"video/x-matroska", ".mkv"},
		{"", ".mp3"},
		{"audio/x-something-new", ".mp3"},
		{"video/x-unknown", ".mp3"},
	}
	for _, tt := range tests {
		got, err := ExtensionFor(tt.contentType)
		require.NoError(t, err, tt.contentType)
		assert.Equal(t, tt.want, got, tt.contentType)
	}

	_, err := ExtensionFor("application/pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMediaType))
}

func TestURLClassification(t *testing.T) {
	assert.True(t, IsYouTubeURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, IsYouTubeURL("https://youtu.be/abc"))
	assert.True(t, IsYouTubeURL("https://music.youtube.com/watch?v=abc"))
	assert.False(t, IsYouTubeURL("https://notyoutube.com/watch"))

	assert.True(t, IsSocialMediaURL("https://www.tiktok.com/@u/video/1"))
	assert.True(t, IsSocialMediaURL("https://x.com/u/status/1"))
	assert.True(t, IsSocialMediaURL("https://fb.watch/xyz"))
	assert.True(t, IsSocialMediaURL("https://vimeo.com/123"))
	assert.False(t, IsSocialMediaURL("https://example.com/a.mp3"))
	assert.False(t, IsSocialMediaURL("not a url"))
}

func TestSaveUpload(t *testing.T) {
	a := newTestAcquirer(t, 1024, nil)

	h, err := a.SaveUpload(context.Background(), Upload{
		Reader:      strings.NewReader("audio-bytes"),
		Filename:    "talk.wav",
		ContentType: "audio/wav",
		Size:        -1,
	})
	require.NoError(t, err)
	assert.Equal(t, ".wav", filepath.Ext(h.Path))
	assert.Equal(t, int64(11), h.Size)

	data, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))

	require.NoError(t, h.Cleanup())
	require.NoError(t, h.Cleanup())
	_, err = os.Stat(h.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveUpload_RejectsBeforeWriting(t *testing.T) {
	a := newTestAcquirer(t, 10, nil)

	_, err := a.SaveUpload(context.Background(), Upload{Reader: strings.NewReader(""), ContentType: "text/html", Size: 1})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMediaType))

	_, err = a.SaveUpload(context.Background(), Upload{Reader: strings.NewReader(""), ContentType: "audio/mpeg", Size: 11})
	assert.True(t, errors.Is(err, domain.ErrFileTooLarge))
}

func TestSaveUpload_EnforcesLimitWhileStreaming(t *testing.T) {
	a := newTestAcquirer(t, 10, nil)

	_, err := a.SaveUpload(context.Background(), Upload{
		Reader:      bytes.NewReader(make([]byte, 11)),
		ContentType: "audio/mpeg",
		Size:        -1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFileTooLarge))

	entries, err := os.ReadDir(a.cfg.TempDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), "partial file %s left behind", e.Name())
	}
}

func TestDownloadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.m4a":
			w.Header().Set("Content-Type", "audio/mp4")
			w.Write([]byte("m4a-data"))
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>"))
		case "/declared-large":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Length", "4096")
			w.Write(make([]byte, 4096))
		case "/chunked-large":
			w.Header().Set("Content-Type", "audio/mpeg")
			for i := 0; i < 4; i++ {
				w.Write(make([]byte, 512))
				w.(http.Flusher).Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestAcquirer(t, 1024, nil)
	ctx := context.Background()

	h, err := a.DownloadFromURL(ctx, srv.URL+"/ok.m4a")
	require.NoError(t, err)
	assert.Equal(t, ".m4a", filepath.Ext(h.Path))
	assert.Equal(t, int64(8), h.Size)
	assert.Equal(t, "ok.m4a", h.Filename)
	require.NoError(t, h.Cleanup())

	_, err = a.DownloadFromURL(ctx, srv.URL+"/page")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMediaType))

	_, err = a.DownloadFromURL(ctx, srv.URL+"/declared-large")
	assert.True(t, errors.Is(err, domain.ErrFileTooLarge))

	_, err = a.DownloadFromURL(ctx, srv.URL+"/chunked-large")
	assert.True(t, errors.Is(err, domain.ErrFileTooLarge))

	_, err = a.DownloadFromURL(ctx, srv.URL+"/missing")
	require.True(t, errors.Is(err, domain.ErrMediaDownload))
	de, _ := domain.AsError(err)
	assert.Equal(t, "HTTP 404", de.Details["reason"])
}

func TestDownloadFromPlatformExtractor(t *testing.T) {
	runner := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		out := strings.Replace(command.ArgValue(args, "-o"), "%(ext)s", "m4a", 1)
		return command.Result{}, os.WriteFile(out, []byte("audio"), 0o644)
	}}
	a := newTestAcquirer(t, 0, runner)

	h, err := a.DownloadFromPlatformExtractor(context.Background(), "https://vimeo.com/1")
	require.NoError(t, err)
	defer h.Cleanup()

	assert.Equal(t, ".m4a", filepath.Ext(h.Path))
	assert.Equal(t, int64(5), h.Size)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "yt-dlp", calls[0].Name)
	assert.Equal(t, "bestaudio/best", command.ArgValue(calls[0].Args, "-f"))
	assert.Equal(t, "https://vimeo.com/1", calls[0].Args[len(calls[0].Args)-1])
}

func TestDownloadFromPlatformExtractor_Failures(t *testing.T) {
	gone := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		res := command.Result{Stderr: "ERROR: [youtube] abc: Private video. Sign in", ExitCode: 1}
		return res, &command.Error{Command: name, Result: res, Err: errors.New("exit status 1")}
	}}
	_, err := newTestAcquirer(t, 0, gone).DownloadFromPlatformExtractor(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMediaDownload))
	assert.True(t, errors.Is(err, ErrSourceGone))

	silent := &command.Fake{}
	_, err = newTestAcquirer(t, 0, silent).DownloadFromPlatformExtractor(context.Background(), "https://youtu.be/abc")
	assert.True(t, errors.Is(err, domain.ErrMediaDownload))
}

func TestDownloadFromPlatformExtractor_RemovesPartialOutput(t *testing.T) {
	runner := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		base := strings.Replace(command.ArgValue(args, "-o"), "%(ext)s", "webm", 1)
		if err := os.WriteFile(base, []byte("stream"), 0o644); err != nil {
			return command.Result{}, err
		}
		if err := os.WriteFile(base+".part", []byte("partial"), 0o644); err != nil {
			return command.Result{}, err
		}
		res := command.Result{Stderr: "ERROR: unable to download video data: HTTP Error 403", ExitCode: 1}
		return res, &command.Error{Command: name, Result: res, Err: errors.New("exit status 1")}
	}}
	a := newTestAcquirer(t, 0, runner)

	_, err := a.DownloadFromPlatformExtractor(context.Background(), "https://youtu.be/abc")
	assert.True(t, errors.Is(err, domain.ErrMediaDownload))

	entries, err := os.ReadDir(a.cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadFromPlatformExtractor_Oversize(t *testing.T) {
	t.Run("skipped silently", func(t *testing.T) {
		_, err := newTestAcquirer(t, 1024, &command.Fake{}).DownloadFromPlatformExtractor(context.Background(), "https://youtu.be/abc")
		assert.True(t, errors.Is(err, domain.ErrFileTooLarge), "got %v", err)
		assert.Equal(t, domain.KindTooLarge, domain.KindOf(err))
	})

	t.Run("reported by extractor", func(t *testing.T) {
		runner := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
			return command.Result{Stdout: "[download] File is larger than max-filesize (5242880 bytes > 1024 bytes). Aborting."}, nil
		}}
		_, err := newTestAcquirer(t, 1024, runner).DownloadFromPlatformExtractor(context.Background(), "https://youtu.be/abc")
		require.True(t, errors.Is(err, domain.ErrFileTooLarge), "got %v", err)

		de, ok := domain.AsError(err)
		require.True(t, ok)
		assert.Equal(t, int64(5242880), de.Details["size_bytes"])
	})
}

func TestVideoInfo(t *testing.T) {
	runner := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		return command.Result{Stdout: `{"id":"dQw4w9WgXcQ","title":"T","duration":212,
			"subtitles":{"en":[{"ext":"json3","url":"https://x/en"}]},
			"automatic_captions":{"de":[{"ext":"vtt","url":"https://x/de"}]}}`}, nil
	}}
	info, err := newTestAcquirer(t, 0, runner).VideoInfo(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", info.ID)
	assert.Equal(t, 212.0, info.Duration)
	assert.Equal(t, "https://x/en", info.Subtitles["en"][0].URL)
	assert.Equal(t, "vtt", info.AutomaticCaptions["de"][0].Ext)
}

func TestDuration(t *testing.T) {
	runner := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		if name != "ffprobe" {
			return command.Result{}, errors.New("unexpected command")
		}
		return command.Result{Stdout: "754.120000\n"}, nil
	}}
	d, err := newTestAcquirer(t, 0, runner).Duration(context.Background(), "a.mp3")
	require.NoError(t, err)
	assert.InDelta(t, 754.12, d, 1e-9)

	garbage := &command.Fake{Fn: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		return command.Result{Stdout: "N/A"}, nil
	}}
	_, err = newTestAcquirer(t, 0, garbage).Duration(context.Background(), "a.mp3")
	assert.Error(t, err)
}

func TestStashRestoreDiscard_LocalHandoff(t *testing.T) {
	a := newTestAcquirer(t, 0, nil)
	ctx := context.Background()

	h, err := a.SaveUpload(ctx, Upload{Reader: strings.NewReader("payload"), ContentType: "audio/ogg", Size: -1})
	require.NoError(t, err)

	ref, err := a.Stash(ctx, h, "job-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "file://"))

	// the handle no longer owns the file
	require.NoError(t, h.Cleanup())

	restored, err := a.Restore(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(7), restored.Size)
	assert.Equal(t, ".ogg", filepath.Ext(restored.Path))

	require.NoError(t, restored.Cleanup())
	require.NoError(t, a.Discard(ctx, ref))

	_, err = a.Restore(ctx, ref)
	assert.Error(t, err)
}

type memObjects struct {
	objects map[string][]byte
}

func (m *memObjects) PutFile(ctx context.Context, key, path, contentType string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	m.objects[key] = data
	return int64(len(data)), nil
}

func (m *memObjects) GetFile(ctx context.Context, key, path string) error {
	data, ok := m.objects[key]
	if !ok {
		return errors.New("no such key")
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *memObjects) Remove(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestStashRestoreDiscard_ObjectStore(t *testing.T) {
	store := &memObjects{objects: map[string][]byte{}}
	a, err := NewAcquirer(Config{TempDir: t.TempDir()}, &command.Fake{}, store, nil, logger.NewNop().Logger)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := a.SaveUpload(ctx, Upload{Reader: strings.NewReader("abc"), ContentType: "audio/mpeg", Size: -1})
	require.NoError(t, err)

	ref, err := a.Stash(ctx, h, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "s3://jobs/job-2.mp3", ref)
	_, err = os.Stat(h.Path)
	assert.True(t, os.IsNotExist(err), "local copy removed after upload")

	restored, err := a.Restore(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(3), restored.Size)
	require.NoError(t, restored.Cleanup())

	require.NoError(t, a.Discard(ctx, ref))
	assert.Empty(t, store.objects)
}
