package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// Megabyte as float for display calculations
	Megabyte = 1024.0 * 1024.0
)

// Engine defaults used when the runtime config leaves a field unset
const (
	MaxConcurrentDownloads = 2
	ConcurrentFragments    = 4
	Retries                = 10
	FragmentRetries        = 10
	FileAccessRetries      = 5
	ExtractorRetries       = 5
	HTTPChunkSize          = 10 * MB
	BufferSize             = 128 * KB
	SocketTimeout          = 30 * time.Second

	// Minimum spacing between intermediate progress events of one task
	ProgressInterval = 200 * time.Millisecond

	// Title shown until the extractor reports the real one
	PendingTitle = "Pending…"

	// Message recorded when every fallback strategy was exhausted
	AllStrategiesFailed = "All download strategies failed"

	// Output template for single videos and playlists
	SingleTemplate   = "%(title)s.%(ext)s"
	PlaylistTemplate = "%(playlist_title|Unknown Playlist)s/%(playlist_index&{:03d}|000)s - %(title)s.%(ext)s"
)

// Bitrate bounds for lossy audio extraction (kbps)
const (
	MinAudioBitrate     = 64
	MaxAudioBitrate     = 320
	DefaultAudioBitrate = 320
)

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	MaxConcurrentDownloads int
	ConcurrentFragments    int
	Retries                int
	FragmentRetries        int
	FileAccessRetries      int
	ExtractorRetries       int
	HTTPChunkSize          int64
	BufferSize             int
	SocketTimeout          time.Duration
	ProgressInterval       time.Duration

	WindowsFilenames  bool
	RestrictFilenames bool
	Overwrites        bool

	// Applied to tasks that don't set their own
	ProxyURL   string
	SpeedLimit int64
}

// GetMaxConcurrentDownloads returns configured value or default
func (r *RuntimeConfig) GetMaxConcurrentDownloads() int {
	if r == nil || r.MaxConcurrentDownloads <= 0 {
		return MaxConcurrentDownloads
	}
	return r.MaxConcurrentDownloads
}

// GetConcurrentFragments returns configured value or default
func (r *RuntimeConfig) GetConcurrentFragments() int {
	if r == nil || r.ConcurrentFragments <= 0 {
		return ConcurrentFragments
	}
	return r.ConcurrentFragments
}

// GetRetries returns configured value or default
func (r *RuntimeConfig) GetRetries() int {
	if r == nil || r.Retries <= 0 {
		return Retries
	}
	return r.Retries
}

// GetFragmentRetries returns configured value or default
func (r *RuntimeConfig) GetFragmentRetries() int {
	if r == nil || r.FragmentRetries <= 0 {
		return FragmentRetries
	}
	return r.FragmentRetries
}

// GetFileAccessRetries returns configured value or default
func (r *RuntimeConfig) GetFileAccessRetries() int {
	if r == nil || r.FileAccessRetries <= 0 {
		return FileAccessRetries
	}
	return r.FileAccessRetries
}

// GetExtractorRetries returns configured value or default
func (r *RuntimeConfig) GetExtractorRetries() int {
	if r == nil || r.ExtractorRetries <= 0 {
		return ExtractorRetries
	}
	return r.ExtractorRetries
}

// GetHTTPChunkSize returns configured value or default
func (r *RuntimeConfig) GetHTTPChunkSize() int64 {
	if r == nil || r.HTTPChunkSize <= 0 {
		return HTTPChunkSize
	}
	return r.HTTPChunkSize
}

// GetBufferSize returns configured value or default
func (r *RuntimeConfig) GetBufferSize() int {
	if r == nil || r.BufferSize <= 0 {
		return BufferSize
	}
	return r.BufferSize
}

// GetSocketTimeout returns configured value or default
func (r *RuntimeConfig) GetSocketTimeout() time.Duration {
	if r == nil || r.SocketTimeout <= 0 {
		return SocketTimeout
	}
	return r.SocketTimeout
}

// GetProgressInterval returns configured value or default
func (r *RuntimeConfig) GetProgressInterval() time.Duration {
	if r == nil || r.ProgressInterval <= 0 {
		return ProgressInterval
	}
	return r.ProgressInterval
}

// GetWindowsFilenames defaults to true when no config is present
func (r *RuntimeConfig) GetWindowsFilenames() bool {
	if r == nil {
		return true
	}
	return r.WindowsFilenames
}
