package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Duration returns the media duration in seconds as reported by ffprobe.
func (a *Acquirer) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	res, err := a.runner.Run(ctx, a.cfg.FFprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to probe media duration: %w", err)
	}

	out := strings.TrimSpace(res.Stdout)
	d, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse media duration %q: %w", out, err)
	}
	return d, nil
}
