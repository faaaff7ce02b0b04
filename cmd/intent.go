package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

// addIntentFlags registers the per-download options shared by get and add.
func addIntentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("output", "o", "", "Output directory (default from settings)")
	f.StringP("preset", "q", "", "Quality preset: "+joinPresets())
	f.StringP("format", "f", "", "Output format: mp4, mkv, webm, mp3, opus, flac, wav")
	f.String("audio-codec", "", "Audio codec for audio formats")
	f.Int("bitrate", 0, "Audio bitrate in kbps for lossy codecs")
	f.Bool("subs", false, "Download and embed subtitles")
	f.String("sub-langs", "", "Comma separated subtitle languages")
	f.Bool("sponsorblock", false, "Remove sponsor segments")
	f.Bool("no-thumbnail", false, "Do not embed the thumbnail")
	f.Bool("no-metadata", false, "Do not embed metadata")
	f.Bool("no-chapters", false, "Do not embed chapters")
	f.Bool("playlist", false, "Download the whole playlist (auto-detected for playlist URLs)")
	f.String("proxy", "", "Proxy URL")
	f.String("cookies", "", "Netscape cookie file")
	f.String("limit-rate", "", "Download speed limit, e.g. 2MB or 500KiB")
}

func joinPresets() string {
	names := make([]string, 0, len(types.Presets()))
	for _, p := range types.Presets() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

// intentFromFlags seeds an intent from settings and applies the command's flags.
func intentFromFlags(cmd *cobra.Command, settings *config.Settings, url string) (types.Intent, error) {
	in := types.NewIntent(settings, url)
	f := cmd.Flags()

	if v, _ := f.GetString("output"); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return in, fmt.Errorf("output directory: %w", err)
		}
		in.OutputDir = abs
	}
	if v, _ := f.GetString("preset"); v != "" {
		p, ok := types.ParsePreset(v)
		if !ok {
			return in, fmt.Errorf("unknown preset %q (choose from %s)", v, joinPresets())
		}
		in.Preset = p
	}
	if v, _ := f.GetString("format"); v != "" {
		of, ok := types.ParseOutputFormat(v)
		if !ok {
			return in, fmt.Errorf("unknown output format %q", v)
		}
		in.Format = of
		// Switching to an audio container picks a matching codec
		if !f.Changed("audio-codec") && of.IsAudio() {
			in.AudioCodec = ""
		}
	}
	if v, _ := f.GetString("audio-codec"); v != "" {
		c, ok := types.ParseAudioCodec(v)
		if !ok {
			return in, fmt.Errorf("unknown audio codec %q", v)
		}
		in.AudioCodec = c
	}
	if v, _ := f.GetInt("bitrate"); v > 0 {
		in.AudioBitrate = v
	}
	if f.Changed("subs") {
		in.Subtitles, _ = f.GetBool("subs")
	}
	if v, _ := f.GetString("sub-langs"); v != "" {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		in.SubtitleLangs = langs
	}
	if f.Changed("sponsorblock") {
		in.SponsorBlock, _ = f.GetBool("sponsorblock")
	}
	if v, _ := f.GetBool("no-thumbnail"); v {
		in.Thumbnail = false
	}
	if v, _ := f.GetBool("no-metadata"); v {
		in.Metadata = false
	}
	if v, _ := f.GetBool("no-chapters"); v {
		in.Chapters = false
	}
	if f.Changed("playlist") {
		in.Playlist, _ = f.GetBool("playlist")
	} else if utils.LooksLikePlaylist(url) {
		in.Playlist = true
	}
	if v, _ := f.GetString("proxy"); v != "" {
		in.Proxy = v
	}
	if v, _ := f.GetString("cookies"); v != "" {
		in.CookieFile = v
	}
	if v, _ := f.GetString("limit-rate"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return in, fmt.Errorf("invalid --limit-rate %q: %w", v, err)
		}
		in.SpeedLimit = int64(n)
	}

	return in, in.Validate()
}
