// Package format maps a task's quality intent to the selector expression,
// sort order and post-processing pipeline handed to the extractor.
package format

import (
	"slices"

	"github.com/tubeq/tubeq/internal/engine/types"
)

// Selection is the concrete extractor input derived from an Intent.
type Selection struct {
	Format            string
	FormatSort        []string
	FormatSortForce   []string
	MergeOutputFormat types.OutputFormat // empty for audio and single-stream downloads without a target
	PostProcessors    []types.PostProcessor
	IsAudio           bool
}

// SponsorBlock categories marked as chapters and removed from the output
var (
	SponsorMarkCategories   = []string{"sponsor", "selfpromo", "interaction"}
	SponsorRemoveCategories = []string{"sponsor"}
)

var defaultSubtitleLangs = []string{"en", "en-US"}

type preset struct {
	format string
	sort   []string
	force  []string
	merge  types.OutputFormat
}

var presets = map[types.Preset]preset{
	types.PresetMaximum: {
		format: MaximumChain,
		sort: []string{
			"res:4320", "res:2160", "res:1440", "res:1080", "res:720", "res", "fps", "hdr:12",
			"codec:av01", "codec:vp9.2", "codec:vp9", "codec:hevc", "codec:h264", "vbr", "abr", "size",
		},
		force: []string{"res", "fps"},
		merge: types.FormatMKV,
	},
	types.PresetHigh: {
		format: "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=1080]+bestaudio/best[height<=1080]/best",
		sort:   []string{"res:1080", "res", "fps", "codec:h264", "codec:hevc", "vbr", "abr"},
		merge:  types.FormatMP4,
	},
	types.PresetBalanced: {
		format: "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=720]+bestaudio/best[height<=720]/best",
		sort:   []string{"res:720", "res", "fps", "codec:h264", "codec:hevc", "vbr", "abr"},
		merge:  types.FormatMP4,
	},
	types.PresetVideoOnly: {
		format: "bv[height>=4320]/bv[height>=2160]/bv[height>=1440]/bv[height>=1080]/bv[height>=720]/bv/bestvideo",
		sort: []string{
			"res:4320", "res:2160", "res:1440", "res:1080", "res:720", "res", "fps",
			"codec:av01", "codec:vp9", "codec:hevc", "codec:h264", "vbr",
		},
		force: []string{"res", "fps"},
		merge: types.FormatMP4,
	},
}

// MaximumChain tries each resolution tier best-first before settling for anything.
const MaximumChain = "bv*[height>=4320]+ba/bv*[height>=2160]+ba/bv*[height>=1440]+ba/bv*[height>=1080]+ba/bv*[height>=720]+ba/bv*+ba/best"

const audioChain = "bestaudio/best"

var audioSort = []string{"abr", "acodec:opus", "acodec:aac"}

// IsAudio reports whether the intent produces an audio-only file.
func IsAudio(in types.Intent) bool {
	return in.Preset == types.PresetAudioOnly || in.Format.IsAudio()
}

// Resolve maps an intent to a Selection. It is pure; equal intents give equal selections.
func Resolve(in types.Intent) Selection {
	if IsAudio(in) {
		return resolveAudio(in)
	}
	return resolveVideo(in)
}

func resolveAudio(in types.Intent) Selection {
	codec := AudioCodecFor(in)
	extract := types.PostProcessor{Kind: types.PPExtractAudio, Codec: codec}
	if codec.IsLossy() {
		extract.Quality = ClampBitrate(in.AudioBitrate)
	}

	sel := Selection{
		Format:     audioChain,
		FormatSort: slices.Clone(audioSort),
		IsAudio:    true,
	}
	sel.PostProcessors = append(sel.PostProcessors, extract)
	sel.PostProcessors = append(sel.PostProcessors, commonSteps(in)...)
	return sel
}

func resolveVideo(in types.Intent) Selection {
	p, ok := presets[in.Preset]
	if !ok {
		p = presets[types.PresetMaximum]
	}

	target := in.Format
	if target == "" || target.IsAudio() {
		target = types.FormatMP4
	}

	sel := Selection{
		Format:            p.format,
		FormatSort:        slices.Clone(p.sort),
		FormatSortForce:   slices.Clone(p.force),
		MergeOutputFormat: p.merge,
	}

	// mkv and webm can be produced by the merge itself
	if target == types.FormatMKV || target == types.FormatWEBM {
		sel.MergeOutputFormat = target
	}

	if in.Thumbnail {
		sel.PostProcessors = append(sel.PostProcessors, types.PostProcessor{Kind: types.PPEmbedThumbnail})
	}
	sel.PostProcessors = append(sel.PostProcessors, commonSteps(in)...)

	// A single stream is never merged, so its container is unknown until download.
	if sel.MergeOutputFormat != target || in.Preset == types.PresetVideoOnly {
		sel.PostProcessors = append(sel.PostProcessors, types.PostProcessor{Kind: types.PPRemux, Container: target})
	}
	return sel
}

// commonSteps are the steps shared by audio and video pipelines, in order.
func commonSteps(in types.Intent) []types.PostProcessor {
	var steps []types.PostProcessor
	if in.Metadata {
		steps = append(steps, types.PostProcessor{Kind: types.PPMetadata, AddChapters: in.Chapters})
	}
	if in.Subtitles {
		langs := slices.Clone(in.SubtitleLangs)
		if len(langs) == 0 {
			langs = slices.Clone(defaultSubtitleLangs)
		}
		steps = append(steps, types.PostProcessor{Kind: types.PPEmbedSubtitles, Languages: langs})
	}
	if in.SponsorBlock {
		steps = append(steps,
			types.PostProcessor{Kind: types.PPSponsorBlockMark, Categories: slices.Clone(SponsorMarkCategories)},
			types.PostProcessor{Kind: types.PPSponsorBlockRemove, Categories: slices.Clone(SponsorRemoveCategories)},
		)
	}
	return steps
}

// AudioCodecFor picks the extraction codec: the intent's codec, else one
// implied by an audio output format, else mp3.
func AudioCodecFor(in types.Intent) types.AudioCodec {
	if in.AudioCodec != "" {
		return in.AudioCodec
	}
	switch in.Format {
	case types.FormatOPUS:
		return types.CodecOPUS
	case types.FormatFLAC:
		return types.CodecFLAC
	case types.FormatWAV:
		return types.CodecWAV
	}
	return types.CodecMP3
}

// ClampBitrate bounds a lossy bitrate to [64, 320] kbps; zero means the maximum.
func ClampBitrate(kbps int) int {
	if kbps <= 0 {
		return types.DefaultAudioBitrate
	}
	return min(max(kbps, types.MinAudioBitrate), types.MaxAudioBitrate)
}
