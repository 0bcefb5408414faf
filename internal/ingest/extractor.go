package ingest

import (
	"context"
	"regexp"
	"time"
)

// Platform identifies the social platform a link points at.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformThreads   Platform = "threads"
	PlatformFacebook  Platform = "facebook"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformGeneric   Platform = "generic"
)

// Extraction is the extractor plug-in output. A nil *Extraction with a nil
// error means the extractor could not handle the URL and the next extractor
// in the chain should try.
type Extraction struct {
	Text      string
	Author    string
	ImageURL  string
	VideoURL  string
	Timestamp *time.Time
	Counts    map[string]int // platform engagement counts (likes, shares, ...)
	Truncated bool
}

// Extractor is the plug-in contract for link content extraction.
type Extractor interface {
	// Platforms lists the platforms this extractor handles. PlatformGeneric
	// handles everything.
	Platforms() []Platform

	// Extract fetches and extracts content. Implementations must honor ctx
	// cancellation; the ingestor applies the timeout.
	Extract(ctx context.Context, url string) (*Extraction, error)
}

var platformPatterns = []struct {
	platform Platform
	re       *regexp.Regexp
}{
	{PlatformTwitter, regexp.MustCompile(`(?i)^https?://(www\.)?(twitter\.com|x\.com|t\.co)/`)},
	{PlatformInstagram, regexp.MustCompile(`(?i)^https?://(www\.)?instagram\.com/`)},
	{PlatformThreads, regexp.MustCompile(`(?i)^https?://(www\.)?threads\.(net|com)/`)},
	{PlatformFacebook, regexp.MustCompile(`(?i)^https?://(www\.|m\.)?(facebook\.com|fb\.watch|fb\.com)/`)},
	{PlatformTikTok, regexp.MustCompile(`(?i)^https?://(www\.|vm\.)?tiktok\.com/`)},
	{PlatformYouTube, regexp.MustCompile(`(?i)^https?://(www\.|m\.)?(youtube\.com|youtu\.be)/`)},
}

// DetectPlatform classifies a URL by host/path pattern.
func DetectPlatform(url string) Platform {
	for _, p := range platformPatterns {
		if p.re.MatchString(url) {
			return p.platform
		}
	}
	return PlatformGeneric
}
