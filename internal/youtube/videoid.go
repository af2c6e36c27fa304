// Package youtube extracts video identifiers and fetches existing captions.
package youtube

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cuongbtq/transcriber/internal/domain"
)

const idPattern = `([a-zA-Z0-9_-]{11})`

// Ordered: the first matching pattern wins.
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)youtube\.com/watch\?(?:.*&)?v=` + idPattern),
	regexp.MustCompile(`(?i)youtu\.be/` + idPattern),
	regexp.MustCompile(`(?i)youtube\.com/embed/` + idPattern),
	regexp.MustCompile(`(?i)youtube\.com/shorts/` + idPattern),
	regexp.MustCompile(`(?i)youtube\.com/live/` + idPattern),
	regexp.MustCompile(`(?i)music\.youtube\.com/watch\?(?:.*&)?v=` + idPattern),
}

var bareID = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// ExtractVideoID returns the 11 character video id in rawURL.
func ExtractVideoID(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], nil
		}
	}

	if u, err := url.Parse(s); err == nil {
		host := strings.ToLower(u.Hostname())
		if strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be") {
			if v := u.Query().Get("v"); bareID.MatchString(v) {
				return v, nil
			}
		}
	}

	return "", domain.NewInvalidSourceError(rawURL)
}

// WatchURL is the canonical URL handed to the extractor.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
