package utils

import (
	"regexp"
	"strings"
)

var videoURLPatterns = []string{
	`https?://(?:www\.)?youtube\.com/watch\?.*v=[\w-]+`,
	`https?://(?:www\.)?youtube\.com/playlist\?.*list=[\w-]+`,
	`https?://(?:www\.)?youtube\.com/shorts/[\w-]+`,
	`https?://youtu\.be/[\w-]+`,
	`https?://(?:www\.)?youtube-nocookie\.com/embed/[\w-]+`,
	`https?://(?:www\.)?youtube\.com/embed/[\w-]+`,
	`https?://(?:www\.)?youtube\.com/@[\w.-]+(?:/[\w-]+)?`,
	`https?://(?:www\.)?youtube\.com/channel/[\w-]+(?:/[\w-]+)?`,
	`https?://(?:www\.)?youtube\.com/c/[\w.-]+(?:/[\w-]+)?`,
	`https?://(?:www\.)?youtube\.com/user/[\w.-]+(?:/[\w-]+)?`,
	`https?://music\.youtube\.com/watch\?.*v=[\w-]+`,
	`https?://music\.youtube\.com/playlist\?.*list=[\w-]+`,
	`https?://(?:www\.)?youtube\.com/live/[\w-]+`,
	`https?://(?:www\.)?youtube\.com/clip/[\w-]+`,
	`https?://(?:www\.)?youtube\.com/feed/[\w-]+`,
}

var (
	videoURLRe    = regexp.MustCompile(`(?i)^(?:` + strings.Join(videoURLPatterns, `|`) + `)`)
	playlistURLRe = regexp.MustCompile(`(?i)[?&]list=`)
)

// IsValidVideoURL reports whether rawURL is a recognized YouTube address.
func IsValidVideoURL(rawURL string) bool {
	return videoURLRe.MatchString(strings.TrimSpace(rawURL))
}

// LooksLikePlaylist reports whether rawURL carries a playlist id.
func LooksLikePlaylist(rawURL string) bool {
	return playlistURLRe.MatchString(rawURL)
}
