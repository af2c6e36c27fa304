package media

import (
	"net/url"
	"strings"
)

var youTubeDomains = []string{"youtube.com", "youtu.be", "music.youtube.com"}

var socialDomains = []string{
	"tiktok.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"facebook.com",
	"fb.watch",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
	"reddit.com",
}

// IsYouTubeURL reports whether rawURL points at a YouTube host.
func IsYouTubeURL(rawURL string) bool {
	return hostMatches(rawURL, youTubeDomains)
}

// IsSocialMediaURL reports whether rawURL must go through the extractor.
func IsSocialMediaURL(rawURL string) bool {
	return hostMatches(rawURL, socialDomains)
}

func hostMatches(rawURL string, domains []string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
