package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cuongbtq/transcriber/internal/command"
	"github.com/cuongbtq/transcriber/internal/domain"
)

// ErrSourceGone marks a video that was removed, made private or never existed.
var ErrSourceGone = errors.New("source video is unavailable")

var goneMarkers = []string{
	"video unavailable",
	"private video",
	"this video has been removed",
	"this video is not available",
	"video does not exist",
	"account associated with this video has been terminated",
}

var extractedExtensions = []string{".mp3", ".m4a", ".webm", ".opus"}

// Track is one downloadable caption track.
type Track struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// VideoInfo is the subset of extractor metadata the service uses.
type VideoInfo struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Duration          float64            `json:"duration"`
	Uploader          string             `json:"uploader"`
	Subtitles         map[string][]Track `json:"subtitles"`
	AutomaticCaptions map[string][]Track `json:"automatic_captions"`
}

// VideoInfo fetches extractor metadata without downloading media.
func (a *Acquirer) VideoInfo(ctx context.Context, rawURL string) (*VideoInfo, error) {
	args := []string{"--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings", rawURL}

	res, err := a.runner.Run(ctx, a.cfg.YTDLPPath, args...)
	if err != nil {
		if isGone(command.Stderr(err)) {
			return nil, fmt.Errorf("%w: %s", ErrSourceGone, firstLine(command.Stderr(err)))
		}
		return nil, fmt.Errorf("failed to read video metadata: %w", err)
	}

	var info VideoInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("failed to decode video metadata: %w", err)
	}
	return &info, nil
}

// DownloadFromPlatformExtractor downloads the best audio stream of a YouTube
// or social media URL with yt-dlp. Any partial output is removed when the
// download fails.
func (a *Acquirer) DownloadFromPlatformExtractor(ctx context.Context, rawURL string) (h *Handle, err error) {
	id := uuid.NewString()
	template := filepath.Join(a.cfg.TempDir, id+".%(ext)s")
	defer func() {
		if err != nil {
			a.removeScratch(id)
		}
	}()

	args := []string{
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3", "--audio-quality", "192K",
		"--no-playlist", "--no-progress", "--no-warnings", "-q",
		"-o", template,
	}
	if a.cfg.MaxUploadBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(a.cfg.MaxUploadBytes, 10))
	}
	args = append(args, rawURL)

	res, err := a.runner.Run(ctx, a.cfg.YTDLPPath, args...)
	if err != nil {
		stderr := command.Stderr(err)
		if isGone(stderr) {
			return nil, domain.NewMediaDownloadError(firstLine(stderr), fmt.Errorf("%w: %w", ErrSourceGone, err))
		}
		return nil, domain.NewMediaDownloadError("extractor failed", err)
	}
	if size, over := oversize(res.Stdout + "\n" + res.Stderr); over {
		return nil, domain.NewFileTooLargeError(a.cfg.MaxUploadBytes, size)
	}

	for _, ext := range extractedExtensions {
		path := filepath.Join(a.cfg.TempDir, id+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if a.cfg.MaxUploadBytes > 0 && info.Size() > a.cfg.MaxUploadBytes {
			return nil, domain.NewFileTooLargeError(a.cfg.MaxUploadBytes, info.Size())
		}

		a.logger.Info("Media extracted",
			slog.String("url", rawURL),
			slog.String("path", path),
			slog.Int64("size_bytes", info.Size()),
		)
		return NewHandle(path, info.Size(), ContentTypeFor(ext), id+ext), nil
	}

	// --max-filesize makes yt-dlp skip the download and still exit 0, and -q
	// hides the message saying so.
	if a.cfg.MaxUploadBytes > 0 {
		return nil, domain.NewFileTooLargeError(a.cfg.MaxUploadBytes, 0)
	}
	return nil, domain.NewMediaDownloadError("downloaded file not found", nil)
}

// removeScratch deletes every file yt-dlp may have written for id,
// including .part fragments and the pre-conversion stream.
func (a *Acquirer) removeScratch(id string) {
	matches, err := filepath.Glob(filepath.Join(a.cfg.TempDir, id+".*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("Failed to remove partial download",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

var oversizePattern = regexp.MustCompile(`larger than max-filesize \((\d+) bytes`)

// oversize reports whether yt-dlp skipped the download because of
// --max-filesize, with the reported size when it printed one.
func oversize(output string) (int64, bool) {
	if !strings.Contains(output, "larger than max-filesize") {
		return 0, false
	}
	if m := oversizePattern.FindStringSubmatch(output); m != nil {
		size, _ := strconv.ParseInt(m[1], 10, 64)
		return size, true
	}
	return 0, true
}

func isGone(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, m := range goneMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "ERROR: ")
}
