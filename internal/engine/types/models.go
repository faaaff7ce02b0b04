package types

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a download task
type Status string

const (
	StatusQueued      Status = "queued"
	StatusWaiting     Status = "waiting" // Submitted, waiting for a concurrency slot
	StatusDownloading Status = "downloading"
	StatusMerging     Status = "merging" // A post-processing step is running
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCanceled    Status = "canceled"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// HoldsSlot reports whether a task in this state owns a concurrency slot
func (s Status) HoldsSlot() bool {
	return s == StatusDownloading || s == StatusMerging
}

var transitions = map[Status][]Status{
	StatusQueued:      {StatusWaiting},
	StatusWaiting:     {StatusDownloading, StatusCanceled, StatusFailed},
	StatusDownloading: {StatusMerging, StatusCompleted, StatusFailed, StatusCanceled},
	StatusMerging:     {StatusDownloading, StatusCompleted, StatusFailed, StatusCanceled},
}

// CanTransition reports whether from -> to is an edge of the task state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Preset is a named bundle of quality preferences
type Preset string

const (
	PresetMaximum   Preset = "maximum"
	PresetHigh      Preset = "high"
	PresetBalanced  Preset = "balanced"
	PresetAudioOnly Preset = "audio"
	PresetVideoOnly Preset = "video_only"
)

// Presets returns all presets in display order
func Presets() []Preset {
	return []Preset{PresetMaximum, PresetHigh, PresetBalanced, PresetAudioOnly, PresetVideoOnly}
}

// ParsePreset accepts the canonical value or the display label (case-insensitive).
func ParsePreset(s string) (Preset, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "maximum", "max", "best":
		return PresetMaximum, true
	case "high":
		return PresetHigh, true
	case "balanced", "medium":
		return PresetBalanced, true
	case "audio", "audioonly", "audio_only", "audio-only":
		return PresetAudioOnly, true
	case "video_only", "videoonly", "video-only", "video":
		return PresetVideoOnly, true
	}
	return "", false
}

// OutputFormat is the requested container of the final file
type OutputFormat string

const (
	FormatMP4  OutputFormat = "mp4"
	FormatMKV  OutputFormat = "mkv"
	FormatWEBM OutputFormat = "webm"
	FormatMP3  OutputFormat = "mp3"
	FormatOPUS OutputFormat = "opus"
	FormatFLAC OutputFormat = "flac"
	FormatWAV  OutputFormat = "wav"
)

// IsAudio reports whether the format is an audio-only container
func (f OutputFormat) IsAudio() bool {
	switch f {
	case FormatMP3, FormatOPUS, FormatFLAC, FormatWAV:
		return true
	}
	return false
}

// ParseOutputFormat validates a container name
func ParseOutputFormat(s string) (OutputFormat, bool) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatMP4, FormatMKV, FormatWEBM, FormatMP3, FormatOPUS, FormatFLAC, FormatWAV:
		return f, true
	}
	return "", false
}

// AudioCodec is the target codec of audio extraction
type AudioCodec string

const (
	CodecMP3    AudioCodec = "mp3"
	CodecOPUS   AudioCodec = "opus"
	CodecFLAC   AudioCodec = "flac"
	CodecWAV    AudioCodec = "wav"
	CodecAAC    AudioCodec = "aac"
	CodecVORBIS AudioCodec = "vorbis"
	CodecBest   AudioCodec = "best"
)

// IsLossy reports whether a bitrate target applies to the codec
func (c AudioCodec) IsLossy() bool {
	switch c {
	case CodecMP3, CodecAAC, CodecVORBIS, CodecOPUS:
		return true
	}
	return false
}

// ParseAudioCodec validates a codec name
func ParseAudioCodec(s string) (AudioCodec, bool) {
	c := AudioCodec(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CodecMP3, CodecOPUS, CodecFLAC, CodecWAV, CodecAAC, CodecVORBIS, CodecBest:
		return c, true
	}
	return "", false
}

// PostProcessorKind identifies a post-processing step run by the media tool
type PostProcessorKind string

const (
	PPExtractAudio       PostProcessorKind = "FFmpegExtractAudio"
	PPEmbedThumbnail     PostProcessorKind = "EmbedThumbnail"
	PPMetadata           PostProcessorKind = "FFmpegMetadata"
	PPEmbedSubtitles     PostProcessorKind = "FFmpegEmbedSubtitle"
	PPSponsorBlockMark   PostProcessorKind = "SponsorBlock"
	PPSponsorBlockRemove PostProcessorKind = "ModifyChapters"
	PPRemux              PostProcessorKind = "FFmpegVideoRemuxer"
)

// PostProcessor describes one step; only the fields relevant to Kind are set.
type PostProcessor struct {
	Kind        PostProcessorKind `json:"kind"`
	Codec       AudioCodec        `json:"codec,omitempty"`
	Quality     int               `json:"quality,omitempty"` // kbps, 0 = codec default
	AddChapters bool              `json:"add_chapters,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Languages   []string          `json:"languages,omitempty"`
	Container   OutputFormat      `json:"container,omitempty"`
}

// VideoInfo is the pre-flight summary of a URL
type VideoInfo struct {
	Title                string `json:"title"`
	Duration             int    `json:"duration"` // seconds
	Uploader             string `json:"uploader"`
	ViewCount            int64  `json:"view_count"`
	LikeCount            int64  `json:"like_count"`
	UploadDate           string `json:"upload_date,omitempty"`
	Description          string `json:"description,omitempty"`
	ThumbnailURL         string `json:"thumbnail_url,omitempty"`
	IsPlaylist           bool   `json:"is_playlist"`
	PlaylistCount        int    `json:"playlist_count,omitempty"`
	AvailableResolutions []int  `json:"available_resolutions,omitempty"`
	MaxResolution        int    `json:"max_resolution"`
	MaxFPS               int    `json:"max_fps"`
	HasHDR               bool   `json:"has_hdr"`
	FilesizeApprox       int64  `json:"filesize_approx"`
	Error                string `json:"error,omitempty"`
}

// TaskView is the listing form of a task
type TaskView struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	Preset    Preset       `json:"preset"`
	Format    OutputFormat `json:"format"`
	OutputDir string       `json:"output_dir,omitempty"`
	Playlist  bool         `json:"playlist,omitempty"`
	TaskState
}

// View returns the listing form of t.
func (t *Task) View() TaskView {
	return TaskView{
		ID:        t.ID,
		URL:       t.Intent.URL,
		Preset:    t.Intent.Preset,
		Format:    t.Intent.Format,
		OutputDir: t.Intent.OutputDir,
		Playlist:  t.Intent.Playlist,
		TaskState: t.Snapshot(),
	}
}

// HistoryEntry is one finished task as kept in the history store.
type HistoryEntry struct {
	ID         int64        `json:"id"`
	TaskID     string       `json:"task_id"`
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Status     Status       `json:"status"`
	Preset     Preset       `json:"preset"`
	Format     OutputFormat `json:"format"`
	OutputPath string       `json:"output_path,omitempty"`
	MediaType  string       `json:"media_type,omitempty"` // sniffed MIME type of OutputPath
	Size       int64        `json:"size,omitempty"`
	Duration   float64      `json:"duration"` // seconds from start to finish
	Error      string       `json:"error,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
