// Package ytdlp implements the engine's extractor on top of the yt-dlp binary.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/tubeq/tubeq/internal/engine"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

// progressFrequency is how often yt-dlp progress is forwarded to the hooks.
// The engine applies its own throttle on top.
const progressFrequency = 100 * time.Millisecond

// Extractor drives yt-dlp through go-ytdlp.
type Extractor struct{}

// New returns an extractor using the yt-dlp found on PATH or in the go-ytdlp cache.
func New() *Extractor {
	return &Extractor{}
}

var _ engine.Extractor = (*Extractor)(nil)

// Install makes sure a yt-dlp binary is available and returns its path and version.
func Install(ctx context.Context) (string, string, error) {
	res, err := goytdlp.Install(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("install yt-dlp: %w", err)
	}
	return res.Executable, res.Version, nil
}

// Download runs one attempt for req.
func (x *Extractor) Download(ctx context.Context, req *engine.Request, hooks engine.Hooks) (*engine.Outcome, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := buildCommand(req)

	pp := &postProcessTracker{hook: hooks.OnPostProcess}
	var (
		mu      sync.Mutex
		aborted bool
		lastOut string
	)
	cmd.ProgressFunc(progressFrequency, func(u goytdlp.ProgressUpdate) {
		mu.Lock()
		defer mu.Unlock()
		if aborted {
			return
		}
		if u.Status == goytdlp.ProgressStatusPostProcessing {
			pp.start(u.Filename)
			return
		}
		pp.finish(u.Filename)

		p := toProgress(u)
		if p.Phase == engine.PhaseFinished && p.Filename != "" {
			lastOut = p.Filename
		}
		if hooks.OnProgress == nil {
			return
		}
		if err := hooks.OnProgress(p); err != nil {
			aborted = true
			cancel()
		}
	})

	res, err := cmd.Run(actx, req.URL)

	mu.Lock()
	pp.finish(lastOut)
	wasAborted := aborted
	mu.Unlock()

	if wasAborted {
		return &engine.Outcome{ExitCode: -1, ErrText: engine.ErrCanceled.Error()}, nil
	}
	if res == nil {
		if err == nil {
			err = errors.New("yt-dlp produced no result")
		}
		return nil, fmt.Errorf("run yt-dlp: %w", err)
	}

	out := &engine.Outcome{
		ExitCode: res.ExitCode,
		ErrText:  errorLines(res.Stderr),
	}
	if res.ExitCode == 0 {
		out.OutputPath = pp.path(lastOut)
	}
	if out.ErrText == "" && err != nil && res.ExitCode != 0 {
		out.ErrText = err.Error()
	}
	return out, nil
}

// FetchInfo dumps metadata for url without downloading. Playlists are listed flat.
func (x *Extractor) FetchInfo(ctx context.Context, url string, net engine.Network) (*types.VideoInfo, error) {
	cmd := goytdlp.New().
		DumpSingleJSON().
		FlatPlaylist().
		SkipDownload().
		NoWarnings()
	applyNetwork(cmd, net)

	res, err := cmd.Run(ctx, url)
	if err != nil {
		if res != nil {
			if msg := errorLines(res.Stderr); msg != "" {
				return nil, errors.New(msg)
			}
		}
		return nil, err
	}
	return parseInfo([]byte(res.Stdout))
}

func buildCommand(req *engine.Request) *goytdlp.Command {
	cmd := goytdlp.New().
		Format(req.Format).
		Output(req.OutputTemplate).
		Retries(strconv.Itoa(req.Retries)).
		FragmentRetries(strconv.Itoa(req.FragmentRetries)).
		FileAccessRetries(strconv.Itoa(req.FileAccessRetries)).
		ExtractorRetries(strconv.Itoa(req.ExtractorRetries)).
		ConcurrentFragments(req.ConcurrentFragments)

	// yt-dlp takes a single sort order; forcing applies to the whole list
	if len(req.FormatSort) > 0 {
		cmd.FormatSort(strings.Join(req.FormatSort, ","))
		if len(req.FormatSortForce) > 0 {
			cmd.FormatSortForce()
		}
	}
	if req.MergeOutputFormat != "" {
		cmd.MergeOutputFormat(string(req.MergeOutputFormat))
	}
	if req.OutputDir != "" {
		cmd.Paths(req.OutputDir)
	}
	if req.HTTPChunkSize > 0 {
		cmd.HTTPChunkSize(strconv.FormatInt(req.HTTPChunkSize, 10))
	}
	if req.BufferSize > 0 {
		cmd.BufferSize(strconv.Itoa(req.BufferSize))
	}
	if req.RateLimit > 0 {
		cmd.LimitRate(strconv.FormatInt(req.RateLimit, 10))
	}
	if req.Playlist {
		cmd.YesPlaylist()
	} else {
		cmd.NoPlaylist()
	}
	if req.WindowsFilenames {
		cmd.WindowsFilenames()
	}
	if req.RestrictFilenames {
		cmd.RestrictFilenames()
	}
	if req.Overwrites {
		cmd.ForceOverwrites()
	}
	applyNetwork(cmd, req.Network)
	applyPostProcessors(cmd, req.PostProcessors)
	return cmd
}

func applyNetwork(cmd *goytdlp.Command, net engine.Network) {
	if net.Proxy != "" {
		cmd.Proxy(net.Proxy)
	}
	if net.CookieFile != "" {
		cmd.Cookies(net.CookieFile)
	}
	if net.SocketTimeout > 0 {
		cmd.SocketTimeout(net.SocketTimeout.Seconds())
	}
}

func applyPostProcessors(cmd *goytdlp.Command, pps []types.PostProcessor) {
	for _, pp := range pps {
		switch pp.Kind {
		case types.PPExtractAudio:
			cmd.ExtractAudio()
			if pp.Codec != "" {
				cmd.AudioFormat(string(pp.Codec))
			}
			if pp.Quality > 0 {
				cmd.AudioQuality(strconv.Itoa(pp.Quality) + "K")
			}
		case types.PPEmbedThumbnail:
			cmd.EmbedThumbnail()
		case types.PPMetadata:
			cmd.EmbedMetadata()
			if pp.AddChapters {
				cmd.EmbedChapters()
			}
		case types.PPEmbedSubtitles:
			cmd.WriteSubs().EmbedSubs()
			if len(pp.Languages) > 0 {
				cmd.SubLangs(strings.Join(pp.Languages, ","))
			}
		case types.PPSponsorBlockMark:
			cmd.SponsorblockMark(strings.Join(pp.Categories, ","))
		case types.PPSponsorBlockRemove:
			cmd.SponsorblockRemove(strings.Join(pp.Categories, ","))
		case types.PPRemux:
			cmd.RemuxVideo(string(pp.Container))
		default:
			utils.Debug("ytdlp: unknown post-processor %q skipped", pp.Kind)
		}
	}
}

// toProgress maps a go-ytdlp update to the engine payload.
func toProgress(u goytdlp.ProgressUpdate) engine.Progress {
	p := engine.Progress{
		Downloaded: int64(u.DownloadedBytes),
		Total:      int64(u.TotalBytes),
		Filename:   u.Filename,
	}
	switch u.Status {
	case goytdlp.ProgressStatusFinished:
		p.Phase = engine.PhaseFinished
	case goytdlp.ProgressStatusError:
		p.Phase = engine.PhaseError
	default:
		p.Phase = engine.PhaseDownloading
	}
	if !u.Started.IsZero() {
		if elapsed := time.Since(u.Started).Seconds(); elapsed > 0 {
			p.Speed = float64(u.DownloadedBytes) / elapsed
		}
	}
	if eta := u.ETA(); eta > 0 {
		p.ETA = int64(eta.Seconds())
	}
	if u.Info != nil {
		pos := positionOf(u.Info)
		p.Title = pos.Title
		p.PlaylistIndex = pos.PlaylistIndex
		p.PlaylistCount = pos.count()
	}
	return p
}

// position is the subset of extracted info the progress mapping needs.
type position struct {
	Title         string `json:"title"`
	PlaylistIndex int    `json:"playlist_index"`
	PlaylistCount int    `json:"playlist_count"`
	NEntries      int    `json:"n_entries"`
}

func (p position) count() int {
	if p.PlaylistCount > 0 {
		return p.PlaylistCount
	}
	return p.NEntries
}

// positionOf reads title and playlist position from extracted info. The info
// is round-tripped through JSON so only the wire names matter.
func positionOf(info any) position {
	var pos position
	data, err := json.Marshal(info)
	if err != nil {
		return pos
	}
	_ = json.Unmarshal(data, &pos)
	return pos
}

// postProcessTracker turns the stream of post-processing updates into
// started/finished pairs.
type postProcessTracker struct {
	hook   func(engine.PostProcessEvent)
	active bool
	last   string
}

func (t *postProcessTracker) start(file string) {
	if file != "" {
		t.last = file
	}
	if t.active {
		return
	}
	t.active = true
	if t.hook != nil {
		t.hook(engine.PostProcessEvent{Phase: engine.PostProcessStarted, Name: "post-processing", Filepath: file})
	}
}

func (t *postProcessTracker) finish(file string) {
	if !t.active {
		return
	}
	t.active = false
	if file == "" {
		file = t.last
	}
	if t.hook != nil {
		t.hook(engine.PostProcessEvent{Phase: engine.PostProcessFinished, Filepath: file})
	}
}

// path prefers the post-processed file over the last downloaded one.
func (t *postProcessTracker) path(fallback string) string {
	if t.last != "" {
		return t.last
	}
	return fallback
}

// errorLines keeps the ERROR lines of yt-dlp stderr, or its last non-empty line.
func errorLines(stderr string) string {
	var errs []string
	last := ""
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last = line
		if strings.HasPrefix(line, "ERROR:") {
			errs = append(errs, line)
		}
	}
	if len(errs) > 0 {
		return strings.Join(errs, "\n")
	}
	return last
}

// infoDump mirrors the fields of yt-dlp's JSON dump that VideoInfo carries.
type infoDump struct {
	Title       string       `json:"title"`
	Duration    float64      `json:"duration"`
	Uploader    string       `json:"uploader"`
	ViewCount   int64        `json:"view_count"`
	LikeCount   int64        `json:"like_count"`
	UploadDate  string       `json:"upload_date"`
	Description string       `json:"description"`
	Thumbnail   string       `json:"thumbnail"`
	Entries     []dumpEntry  `json:"entries"`
	Formats     []dumpFormat `json:"formats"`
}

type dumpEntry struct {
	ID string `json:"id"`
}

type dumpFormat struct {
	Height         int     `json:"height"`
	FPS            float64 `json:"fps"`
	DynamicRange   string  `json:"dynamic_range"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

const maxDescription = 500

// parseInfo converts a single-JSON dump to VideoInfo.
func parseInfo(data []byte) (*types.VideoInfo, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	var pi infoDump
	if err := json.Unmarshal(data, &pi); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}

	if _, ok := raw["entries"]; ok {
		return &types.VideoInfo{
			Title:         firstNonEmpty(pi.Title, "Unknown Playlist"),
			IsPlaylist:    true,
			PlaylistCount: len(pi.Entries),
		}, nil
	}

	info := &types.VideoInfo{
		Title:        firstNonEmpty(pi.Title, "Unknown"),
		Duration:     int(pi.Duration),
		Uploader:     firstNonEmpty(pi.Uploader, "Unknown"),
		ViewCount:    pi.ViewCount,
		LikeCount:    pi.LikeCount,
		UploadDate:   pi.UploadDate,
		Description:  truncate(pi.Description, maxDescription),
		ThumbnailURL: pi.Thumbnail,
	}

	seen := map[int]bool{}
	for _, f := range pi.Formats {
		if f.Height > 0 && !seen[f.Height] {
			seen[f.Height] = true
			info.AvailableResolutions = append(info.AvailableResolutions, f.Height)
		}
		info.MaxFPS = max(info.MaxFPS, int(f.FPS))
		switch strings.ToLower(f.DynamicRange) {
		case "hdr", "hdr10", "hlg":
			info.HasHDR = true
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		info.FilesizeApprox = max(info.FilesizeApprox, size)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(info.AvailableResolutions)))
	if len(info.AvailableResolutions) > 0 {
		info.MaxResolution = info.AvailableResolutions[0]
	}
	return info, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
