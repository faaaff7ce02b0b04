package types

import (
	"strings"

	"github.com/tubeq/tubeq/internal/config"
)

// ConvertRuntimeConfig converts the app-level RuntimeConfig to the engine-level RuntimeConfig.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	if rc == nil {
		return nil
	}
	return &RuntimeConfig{
		MaxConcurrentDownloads: rc.MaxConcurrentDownloads,
		ConcurrentFragments:    rc.ConcurrentFragments,
		Retries:                rc.Retries,
		FragmentRetries:        rc.FragmentRetries,
		HTTPChunkSize:          rc.HTTPChunkSize,
		BufferSize:             rc.BufferSize,
		SocketTimeout:          rc.SocketTimeout,
		ProgressInterval:       rc.ProgressInterval,
		WindowsFilenames:       rc.WindowsFilenames,
		RestrictFilenames:      rc.RestrictFilenames,
		Overwrites:             rc.Overwrites,
		ProxyURL:               rc.ProxyURL,
		SpeedLimit:             rc.SpeedLimit,
	}
}

// NewIntent seeds a task intent for url from the user's settings.
// Unparseable enum values fall back to the stock defaults.
func NewIntent(s *config.Settings, url string) Intent {
	in := DefaultIntent(url)
	if s == nil {
		return in
	}

	in.OutputDir = s.General.DefaultDownloadDir
	if p, ok := ParsePreset(s.Quality.Preset); ok {
		in.Preset = p
	}
	if f, ok := ParseOutputFormat(s.Quality.Format); ok {
		in.Format = f
	}
	if c, ok := ParseAudioCodec(s.Quality.AudioCodec); ok {
		in.AudioCodec = c
	}
	if s.Quality.AudioBitrate > 0 {
		in.AudioBitrate = s.Quality.AudioBitrate
	}

	pp := s.PostProcessing
	in.Thumbnail = pp.EmbedThumbnail
	in.Metadata = pp.EmbedMetadata
	in.Chapters = pp.EmbedChapters
	in.Subtitles = pp.Subtitles
	in.SponsorBlock = pp.SponsorBlock
	if langs := splitList(pp.SubtitleLangs); len(langs) > 0 {
		in.SubtitleLangs = langs
	}

	in.Proxy = s.Network.ProxyURL
	in.SpeedLimit = s.Network.SpeedLimit
	in.CookieFile = s.Network.CookieFile
	return in
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
