package utils

import (
	"net/url"
	"strings"
)

// Supported social platforms for promoted tasks.
const (
	PlatformYouTube   = "youtube"
	PlatformTikTok    = "tiktok"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTwitter   = "twitter"
)

var supportedPlatforms = map[string]bool{
	PlatformYouTube:   true,
	PlatformTikTok:    true,
	PlatformFacebook:  true,
	PlatformInstagram: true,
	PlatformTwitter:   true,
}

func SupportedPlatform(platform string) bool {
	return supportedPlatforms[strings.ToLower(platform)]
}

// DetectPlatform maps a target URL onto one of the supported platforms.
// Returns "" for anything unrecognized.
func DetectPlatform(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(lower, "tiktok.com"):
		return PlatformTikTok
	case strings.Contains(lower, "facebook.com"), strings.Contains(lower, "fb.watch"):
		return PlatformFacebook
	case strings.Contains(lower, "instagram.com"):
		return PlatformInstagram
	case strings.Contains(lower, "x.com"), strings.Contains(lower, "twitter.com"):
		return PlatformTwitter
	default:
		return ""
	}
}

// ValidTargetURL accepts absolute http(s) URLs only.
func ValidTargetURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
