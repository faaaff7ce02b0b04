package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General        GeneralSettings        `json:"general"`
	Quality        QualitySettings        `json:"quality"`
	PostProcessing PostProcessingSettings `json:"post_processing"`
	Network        NetworkSettings        `json:"network"`
	Performance    PerformanceSettings    `json:"performance"`
	Filenames      FilenameSettings       `json:"filenames"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	OpenFolderWhenDone bool   `json:"open_folder_when_done"`
	CheckDiskSpace     bool   `json:"check_disk_space"`
	LogRetentionCount  int    `json:"log_retention_count"`
	HistoryLimit       int    `json:"history_limit"`
}

// QualitySettings seeds the intent of new tasks.
type QualitySettings struct {
	Preset       string `json:"preset"`
	Format       string `json:"format"`
	AudioCodec   string `json:"audio_codec"`
	AudioBitrate int    `json:"audio_bitrate"`
}

// PostProcessingSettings controls the steps the media tool runs after download.
type PostProcessingSettings struct {
	EmbedThumbnail bool   `json:"embed_thumbnail"`
	EmbedMetadata  bool   `json:"embed_metadata"`
	EmbedChapters  bool   `json:"embed_chapters"`
	Subtitles      bool   `json:"subtitles"`
	SubtitleLangs  string `json:"subtitle_langs"`
	SponsorBlock   bool   `json:"sponsorblock"`
}

// NetworkSettings contains network parameters passed to the extractor.
type NetworkSettings struct {
	ProxyURL      string        `json:"proxy_url"`
	SpeedLimit    int64         `json:"speed_limit"` // bytes/sec, 0 = unlimited
	CookieFile    string        `json:"cookie_file"`
	SocketTimeout time.Duration `json:"socket_timeout"`
}

// PerformanceSettings contains scheduler and extractor tuning.
type PerformanceSettings struct {
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads"`
	ConcurrentFragments    int           `json:"concurrent_fragments"`
	Retries                int           `json:"retries"`
	FragmentRetries        int           `json:"fragment_retries"`
	HTTPChunkSize          int64         `json:"http_chunk_size"`
	BufferSize             int           `json:"buffer_size"`
	ProgressInterval       time.Duration `json:"progress_interval"`
}

// FilenameSettings controls output naming.
type FilenameSettings struct {
	WindowsFilenames  bool `json:"windows_filenames"`
	RestrictFilenames bool `json:"restrict_filenames"`
	Overwrites        bool `json:"overwrites"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "int64", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "default_download_dir", Label: "Default Download Dir", Description: "Default directory for new downloads. Leave empty to use current directory.", Type: "string"},
			{Key: "open_folder_when_done", Label: "Open Folder When Done", Description: "Open the output folder after a download completes.", Type: "bool"},
			{Key: "check_disk_space", Label: "Check Disk Space", Description: "Refuse downloads that would not fit on the target disk.", Type: "bool"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
			{Key: "history_limit", Label: "History Limit", Description: "Maximum number of finished downloads kept in history.", Type: "int"},
		},
		"Quality": {
			{Key: "preset", Label: "Quality Preset", Description: "maximum, high, balanced, audio or video_only.", Type: "string"},
			{Key: "format", Label: "Output Format", Description: "Container of the final file (mp4, mkv, webm, mp3, opus, flac, wav).", Type: "string"},
			{Key: "audio_codec", Label: "Audio Codec", Description: "Codec used when extracting audio.", Type: "string"},
			{Key: "audio_bitrate", Label: "Audio Bitrate", Description: "Target bitrate in kbps for lossy audio (64-320).", Type: "int"},
		},
		"Post-processing": {
			{Key: "embed_thumbnail", Label: "Embed Thumbnail", Description: "Embed the video thumbnail as cover art.", Type: "bool"},
			{Key: "embed_metadata", Label: "Embed Metadata", Description: "Write title, uploader and date tags.", Type: "bool"},
			{Key: "embed_chapters", Label: "Embed Chapters", Description: "Write chapter markers into the file.", Type: "bool"},
			{Key: "subtitles", Label: "Subtitles", Description: "Download and embed subtitles.", Type: "bool"},
			{Key: "subtitle_langs", Label: "Subtitle Languages", Description: "Comma separated language codes (e.g. en,en-US).", Type: "string"},
			{Key: "sponsorblock", Label: "SponsorBlock", Description: "Mark sponsor segments as chapters and cut sponsor segments.", Type: "bool"},
		},
		"Network": {
			{Key: "proxy_url", Label: "Proxy URL", Description: "HTTP/HTTPS/SOCKS proxy URL. Leave empty for a direct connection.", Type: "string"},
			{Key: "speed_limit", Label: "Speed Limit", Description: "Maximum download rate in bytes per second. 0 means unlimited.", Type: "int64"},
			{Key: "cookie_file", Label: "Cookie File", Description: "Netscape cookie file for authenticated content.", Type: "string"},
			{Key: "socket_timeout", Label: "Socket Timeout", Description: "Network read timeout (e.g., 30s).", Type: "duration"},
		},
		"Performance": {
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Maximum number of downloads running at once (1-10). Requires restart.", Type: "int"},
			{Key: "concurrent_fragments", Label: "Concurrent Fragments", Description: "Fragments fetched in parallel per download.", Type: "int"},
			{Key: "retries", Label: "Retries", Description: "Extractor retries per request.", Type: "int"},
			{Key: "fragment_retries", Label: "Fragment Retries", Description: "Retries per fragment.", Type: "int"},
			{Key: "http_chunk_size", Label: "HTTP Chunk Size", Description: "Bytes requested per HTTP range.", Type: "int64"},
			{Key: "buffer_size", Label: "Buffer Size", Description: "Download buffer size in bytes.", Type: "int"},
			{Key: "progress_interval", Label: "Progress Interval", Description: "Minimum spacing between progress updates (e.g., 200ms).", Type: "duration"},
		},
		"Filenames": {
			{Key: "windows_filenames", Label: "Windows-safe Filenames", Description: "Strip characters Windows does not allow.", Type: "bool"},
			{Key: "restrict_filenames", Label: "Restrict Filenames", Description: "ASCII only, no spaces.", Type: "bool"},
			{Key: "overwrites", Label: "Overwrite Files", Description: "Replace existing files instead of skipping them.", Type: "bool"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Quality", "Post-processing", "Network", "Performance", "Filenames"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			OpenFolderWhenDone: false,
			CheckDiskSpace:     true,
			LogRetentionCount:  5,
			HistoryLimit:       1000,
		},
		Quality: QualitySettings{
			Preset:       "maximum",
			Format:       "mp4",
			AudioCodec:   "mp3",
			AudioBitrate: 320,
		},
		PostProcessing: PostProcessingSettings{
			EmbedThumbnail: true,
			EmbedMetadata:  true,
			EmbedChapters:  true,
			Subtitles:      false,
			SubtitleLangs:  "en,en-US",
			SponsorBlock:   false,
		},
		Network: NetworkSettings{
			SocketTimeout: 30 * time.Second,
		},
		Performance: PerformanceSettings{
			MaxConcurrentDownloads: 2,
			ConcurrentFragments:    4,
			Retries:                10,
			FragmentRetries:        10,
			HTTPChunkSize:          10 * MB,
			BufferSize:             128 * KB,
			ProgressInterval:       200 * time.Millisecond,
		},
		Filenames: FilenameSettings{
			WindowsFilenames:  true,
			RestrictFilenames: false,
			Overwrites:        false,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetTubeqDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// RuntimeConfig is the engine-facing view of Settings.
type RuntimeConfig struct {
	MaxConcurrentDownloads int
	ConcurrentFragments    int
	Retries                int
	FragmentRetries        int
	HTTPChunkSize          int64
	BufferSize             int
	SocketTimeout          time.Duration
	ProgressInterval       time.Duration
	WindowsFilenames       bool
	RestrictFilenames      bool
	Overwrites             bool
	ProxyURL               string
	SpeedLimit             int64
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxConcurrentDownloads: s.Performance.MaxConcurrentDownloads,
		ConcurrentFragments:    s.Performance.ConcurrentFragments,
		Retries:                s.Performance.Retries,
		FragmentRetries:        s.Performance.FragmentRetries,
		HTTPChunkSize:          s.Performance.HTTPChunkSize,
		BufferSize:             s.Performance.BufferSize,
		SocketTimeout:          s.Network.SocketTimeout,
		ProgressInterval:       s.Performance.ProgressInterval,
		WindowsFilenames:       s.Filenames.WindowsFilenames,
		RestrictFilenames:      s.Filenames.RestrictFilenames,
		Overwrites:             s.Filenames.Overwrites,
		ProxyURL:               s.Network.ProxyURL,
		SpeedLimit:             s.Network.SpeedLimit,
	}
}
