// Package media acquires source media into local scratch storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/transcriber/internal/command"
	"github.com/cuongbtq/transcriber/internal/domain"
)

const chunkSize = 1 << 20

// Config controls where and how much media is stored.
type Config struct {
	TempDir         string
	HandoffDir      string
	MaxUploadBytes  int64
	DownloadTimeout time.Duration
	YTDLPPath       string
	FFprobePath     string
	UserAgent       string
}

// Upload is an incoming file body. Size is -1 when unknown.
type Upload struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// Handle is a media file in scratch storage. Cleanup removes it exactly once.
type Handle struct {
	Path        string
	Size        int64
	ContentType string
	Filename    string

	once    sync.Once
	err     error
	release func() error
}

// NewHandle takes ownership of an existing scratch file.
func NewHandle(path string, size int64, contentType, filename string) *Handle {
	return &Handle{
		Path:        path,
		Size:        size,
		ContentType: contentType,
		Filename:    filename,
		release: func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		},
	}
}

// Cleanup removes the file. Later calls return the first call's error.
func (h *Handle) Cleanup() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.err = h.release()
	})
	return h.err
}

// detach makes Cleanup a no-op after ownership of the file moved elsewhere.
func (h *Handle) detach() {
	h.once.Do(func() {})
}

// Acquirer fetches, validates and stores source media.
type Acquirer struct {
	cfg        Config
	httpClient *http.Client
	runner     command.Runner
	store      ObjectStore
	logger     *slog.Logger
}

// NewAcquirer creates the scratch directories. store may be nil, in which case
// hand-offs use the local hand-off directory.
func NewAcquirer(cfg Config, runner command.Runner, store ObjectStore, httpClient *http.Client, logger *slog.Logger) (*Acquirer, error) {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "transcriber")
	}
	if cfg.HandoffDir == "" {
		cfg.HandoffDir = filepath.Join(cfg.TempDir, "handoff")
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	for _, dir := range []string{cfg.TempDir, cfg.HandoffDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
	}

	return &Acquirer{
		cfg:        cfg,
		httpClient: httpClient,
		runner:     runner,
		store:      store,
		logger:     logger,
	}, nil
}

// MaxBytes is the configured size ceiling, 0 meaning unlimited.
func (a *Acquirer) MaxBytes() int64 {
	return a.cfg.MaxUploadBytes
}

func (a *Acquirer) newPath(ext string) string {
	return filepath.Join(a.cfg.TempDir, uuid.NewString()+ext)
}

// SaveUpload validates and streams an uploaded body to scratch storage.
func (a *Acquirer) SaveUpload(ctx context.Context, up Upload) (*Handle, error) {
	ext, err := ExtensionFor(up.ContentType)
	if err != nil {
		return nil, err
	}
	if a.cfg.MaxUploadBytes > 0 && up.Size > a.cfg.MaxUploadBytes {
		return nil, domain.NewFileTooLargeError(a.cfg.MaxUploadBytes, up.Size)
	}

	path := a.newPath(ext)
	size, err := a.writeLimited(ctx, path, up.Reader)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Upload saved",
		slog.String("path", path),
		slog.String("filename", up.Filename),
		slog.Int64("size_bytes", size),
	)
	return NewHandle(path, size, normalizeContentType(up.ContentType), up.Filename), nil
}

// DownloadFromURL streams a remote file to scratch storage.
func (a *Acquirer) DownloadFromURL(ctx context.Context, rawURL string) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewMediaDownloadError("invalid URL", err)
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewMediaDownloadError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.NewMediaDownloadError(fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	ext, err := ExtensionFor(contentType)
	if err != nil {
		return nil, err
	}
	if a.cfg.MaxUploadBytes > 0 && resp.ContentLength > a.cfg.MaxUploadBytes {
		return nil, domain.NewFileTooLargeError(a.cfg.MaxUploadBytes, resp.ContentLength)
	}

	path := a.newPath(ext)
	size, err := a.writeLimited(ctx, path, resp.Body)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Media downloaded",
		slog.String("url", rawURL),
		slog.String("path", path),
		slog.Int64("size_bytes", size),
	)
	return NewHandle(path, size, normalizeContentType(contentType), filepath.Base(req.URL.Path)), nil
}

// writeLimited copies r to path in fixed chunks and aborts as soon as the
// running total passes the ceiling. The partial file is removed on failure.
func (a *Acquirer) writeLimited(ctx context.Context, path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create media file: %w", err)
	}

	var total int64
	buf := make([]byte, chunkSize)
	fail := func(err error) (int64, error) {
		f.Close()
		os.Remove(path)
		return 0, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if a.cfg.MaxUploadBytes > 0 && total > a.cfg.MaxUploadBytes {
				return fail(domain.NewFileTooLargeError(a.cfg.MaxUploadBytes, total))
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("failed to write media file: %w", err))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fail(domain.NewMediaDownloadError("read interrupted", readErr))
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to close media file: %w", err)
	}
	return total, nil
}
