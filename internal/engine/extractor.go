package engine

import (
	"context"
	"errors"
	"time"

	"github.com/tubeq/tubeq/internal/engine/classify"
	"github.com/tubeq/tubeq/internal/engine/types"
)

// ErrCanceled is returned by a progress hook to make the extractor abort.
var ErrCanceled = errors.New("download canceled")

// Outcome is what one extractor run left behind.
type Outcome = classify.Outcome

// Network carries per-call connection overrides.
type Network struct {
	Proxy         string
	CookieFile    string
	SocketTimeout time.Duration
}

// Request is the full option set for one download attempt.
type Request struct {
	URL               string
	Format            string
	FormatSort        []string
	FormatSortForce   []string
	MergeOutputFormat types.OutputFormat
	PostProcessors    []types.PostProcessor

	OutputDir      string
	OutputTemplate string

	Retries             int
	FragmentRetries     int
	FileAccessRetries   int
	ExtractorRetries    int
	ConcurrentFragments int
	HTTPChunkSize       int64
	BufferSize          int

	Network
	RateLimit int64 // bytes/sec, 0 = unlimited

	Playlist          bool
	WindowsFilenames  bool
	RestrictFilenames bool
	Overwrites        bool
}

// ProgressPhase is the phase reported by a progress callback
type ProgressPhase string

const (
	PhaseDownloading ProgressPhase = "downloading"
	PhaseFinished    ProgressPhase = "finished"
	PhaseError       ProgressPhase = "error"
)

// Progress is one progress callback payload. Filename is set when a file finishes.
type Progress struct {
	Phase         ProgressPhase
	Downloaded    int64
	Total         int64
	Speed         float64 // bytes/sec
	ETA           int64   // seconds
	Filename      string
	Title         string
	PlaylistIndex int
	PlaylistCount int
}

// PostProcessPhase marks the start or end of a post-processing step
type PostProcessPhase string

const (
	PostProcessStarted  PostProcessPhase = "started"
	PostProcessFinished PostProcessPhase = "finished"
)

// PostProcessEvent is one post-processing callback payload
type PostProcessEvent struct {
	Phase    PostProcessPhase
	Name     string
	Filepath string
}

// Hooks are the callbacks an extractor invokes during Download. A non-nil
// error from OnProgress means the attempt must be aborted.
type Hooks struct {
	OnProgress    func(Progress) error
	OnPostProcess func(PostProcessEvent)
}

// Extractor is the external download/extraction collaborator.
type Extractor interface {
	// Download runs one attempt and blocks until it finishes or ctx is done.
	// The returned error reports a failure to run at all; an attempt that ran
	// and failed is described by the Outcome.
	Download(ctx context.Context, req *Request, hooks Hooks) (*Outcome, error)

	// FetchInfo fetches metadata without downloading.
	FetchInfo(ctx context.Context, url string, net Network) (*types.VideoInfo, error)
}
