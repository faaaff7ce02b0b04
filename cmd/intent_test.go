package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubeq/tubeq/internal/engine/types"
)

func parseIntent(t *testing.T, url string, args ...string) (types.Intent, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addIntentFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return intentFromFlags(cmd, testSettings(t), url)
}

func TestIntentFromFlags_Defaults(t *testing.T) {
	in, err := parseIntent(t, "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Equal(t, types.PresetMaximum, in.Preset)
	assert.Equal(t, types.FormatMP4, in.Format)
	assert.True(t, in.Thumbnail)
	assert.True(t, in.Metadata)
	assert.False(t, in.Playlist)
	assert.NotEmpty(t, in.OutputDir)
}

func TestIntentFromFlags_Overrides(t *testing.T) {
	in, err := parseIntent(t, "https://youtu.be/abc",
		"--preset", "Audio-Only",
		"--format", "mp3",
		"--bitrate", "192",
		"--subs",
		"--sub-langs", "de, fr",
		"--sponsorblock",
		"--no-thumbnail",
		"--no-chapters",
		"--proxy", "socks5://127.0.0.1:9050",
		"--cookies", "/tmp/cookies.txt",
		"--limit-rate", "2MB",
		"--output", "downloads",
	)
	require.NoError(t, err)

	assert.Equal(t, types.PresetAudioOnly, in.Preset)
	assert.Equal(t, types.FormatMP3, in.Format)
	assert.Empty(t, in.AudioCodec, "codec follows the audio container")
	assert.Equal(t, 192, in.AudioBitrate)
	assert.True(t, in.Subtitles)
	assert.Equal(t, []string{"de", "fr"}, in.SubtitleLangs)
	assert.True(t, in.SponsorBlock)
	assert.False(t, in.Thumbnail)
	assert.True(t, in.Metadata)
	assert.False(t, in.Chapters)
	assert.Equal(t, "socks5://127.0.0.1:9050", in.Proxy)
	assert.Equal(t, "/tmp/cookies.txt", in.CookieFile)
	assert.Equal(t, int64(2_000_000), in.SpeedLimit)
	assert.True(t, filepath.IsAbs(in.OutputDir))
	assert.Equal(t, "downloads", filepath.Base(in.OutputDir))
}

func TestIntentFromFlags_ExplicitCodecWins(t *testing.T) {
	in, err := parseIntent(t, "https://youtu.be/abc", "--format", "opus", "--audio-codec", "opus", "--limit-rate", "500KiB")
	require.NoError(t, err)
	assert.Equal(t, types.CodecOPUS, in.AudioCodec)
	assert.Equal(t, int64(512_000), in.SpeedLimit)
}

func TestIntentFromFlags_PlaylistDetection(t *testing.T) {
	in, err := parseIntent(t, "https://www.youtube.com/playlist?list=PL123")
	require.NoError(t, err)
	assert.True(t, in.Playlist)

	in, err = parseIntent(t, "https://www.youtube.com/watch?v=abc&list=PL123", "--playlist=false")
	require.NoError(t, err)
	assert.False(t, in.Playlist)

	in, err = parseIntent(t, "https://youtu.be/abc", "--playlist")
	require.NoError(t, err)
	assert.True(t, in.Playlist)
}

func TestIntentFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"preset", []string{"--preset", "ultra"}},
		{"format", []string{"--format", "avi"}},
		{"codec", []string{"--audio-codec", "ogg"}},
		{"rate", []string{"--limit-rate", "fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseIntent(t, "https://youtu.be/abc", tt.args...)
			assert.Error(t, err)
		})
	}
}
