package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/tubeq/tubeq/internal/engine/classify"
	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/format"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

var errOutputDir = errors.New("cannot create output directory")

// run is the worker body of one task.
func (e *Engine) run(ctx context.Context, t *types.Task, tk *token) {
	acquired := false
	defer func() {
		if r := recover(); r != nil {
			utils.Debug("panic in worker %s: %v\n%s", t.ID, r, debug.Stack())
			if tk.canceled.Load() {
				e.transition(t, types.StatusCanceled, nil)
			} else {
				msg := fmt.Sprintf("Unexpected error: %v", r)
				t.Update(func(s *types.TaskState) { s.Error = msg })
				e.transition(t, types.StatusFailed, errors.New(msg))
			}
			e.logf(t, events.LevelError, "Worker crashed: %v", r)
		}
		e.bus.Publish(events.ProgressFromTask(t, true))
		e.deregister(t.ID)
		if acquired {
			e.active.Add(-1)
			<-e.slots
		}
		tk.cancel()
		e.wg.Done()
	}()

	select {
	case e.slots <- struct{}{}:
		acquired = true
		e.active.Add(1)
	case <-ctx.Done():
		e.transition(t, types.StatusCanceled, nil)
		e.logf(t, events.LevelWarning, "Canceled while waiting")
		return
	}
	if tk.canceled.Load() {
		e.transition(t, types.StatusCanceled, nil)
		e.logf(t, events.LevelWarning, "Canceled while waiting")
		return
	}

	e.transition(t, types.StatusDownloading, nil)
	e.logf(t, events.LevelInfo, "Starting download: %s", t.Intent.URL)

	if err := e.prepareOutput(t); err != nil {
		e.finish(t, tk, false, err.Error())
		return
	}

	e.prefetchInfo(ctx, t)

	succeeded, lastErr := e.attempts(ctx, t, tk)
	e.finish(t, tk, succeeded, lastErr)
}

func (e *Engine) prepareOutput(t *types.Task) error {
	dir := t.Intent.OutputDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w %s: %v", errOutputDir, dir, err)
	}
	return nil
}

// prefetchInfo fills in the title and playlist size. Failures are ignored.
func (e *Engine) prefetchInfo(ctx context.Context, t *types.Task) {
	info, err := e.extractor.FetchInfo(ctx, t.Intent.URL, e.network(t))
	if err != nil || info == nil {
		utils.Debug("[%s] metadata lookup failed: %v", t.ID, err)
		return
	}
	t.Update(func(s *types.TaskState) {
		if info.Title != "" {
			s.Title = info.Title
		}
		if info.IsPlaylist && t.Intent.Playlist {
			s.PlaylistTotal = info.PlaylistCount
		}
	})
	e.bus.Publish(events.ProgressFromTask(t, false))
}

// attempts runs the primary expression and then the fallback chain.
func (e *Engine) attempts(ctx context.Context, t *types.Task, tk *token) (bool, string) {
	sel := format.Resolve(t.Intent)
	chain := e.fallbacks.Attempts(sel.Format, sel.IsAudio)

	var lastErr string
	for i, expr := range chain {
		if tk.canceled.Load() {
			return false, lastErr
		}
		if i > 0 {
			t.Update(func(s *types.TaskState) {
				s.Progress = 0
				s.Downloaded = 0
				s.Total = 0
				s.Speed = 0
				s.ETA = 0
				s.Retries++
			})
			e.logf(t, events.LevelWarning, "Attempt %d/%d failed, falling back to format: %s", i, len(chain), expr)
			e.bus.Publish(events.ProgressFromTask(t, false))
		}

		out := e.attempt(ctx, t, tk, sel, expr)
		if tk.canceled.Load() {
			return false, lastErr
		}

		switch e.classifier.Classify(*out) {
		case classify.Success:
			if out.ExitCode != 0 {
				e.logf(t, events.LevelWarning, "Extractor exited with code %d but produced %s", out.ExitCode, out.OutputPath)
			}
			t.Update(func(s *types.TaskState) {
				if out.OutputPath != "" {
					s.OutputPath = out.OutputPath
				}
			})
			return true, ""
		case classify.Permanent:
			return false, errorText(out)
		default:
			lastErr = errorText(out)
			utils.Debug("[%s] retryable failure with %q: %s", t.ID, expr, lastErr)
		}
	}
	return false, lastErr
}

// attempt runs a single extractor call for expr.
func (e *Engine) attempt(ctx context.Context, t *types.Task, tk *token, sel format.Selection, expr string) *Outcome {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := e.buildRequest(t, sel, expr)

	var (
		mu       sync.Mutex
		recorded string
		pct      float64
	)

	hooks := Hooks{
		OnProgress: func(p Progress) error {
			if tk.canceled.Load() {
				cancel()
				return ErrCanceled
			}
			mu.Lock()
			defer mu.Unlock()

			switch p.Phase {
			case PhaseDownloading:
				pct = max(pct, percent(p))
				cur := pct
				t.Update(func(s *types.TaskState) {
					s.Progress = cur
					s.Downloaded = p.Downloaded
					s.Total = p.Total
					s.Speed = p.Speed
					s.ETA = p.ETA
					if p.Title != "" && s.Title == types.PendingTitle {
						s.Title = p.Title
					}
					if p.PlaylistIndex > 0 {
						s.PlaylistIndex = p.PlaylistIndex
						if p.PlaylistCount > 0 {
							s.PlaylistTotal = p.PlaylistCount
						}
					}
				})
				if e.throttle.Allow(t.ID) {
					e.bus.Publish(events.ProgressFromTask(t, false))
				}
			case PhaseFinished:
				if p.Filename != "" {
					recorded = p.Filename
				}
			}
			return nil
		},
		OnPostProcess: func(ev PostProcessEvent) {
			switch ev.Phase {
			case PostProcessStarted:
				if e.transition(t, types.StatusMerging, nil) {
					e.logf(t, events.LevelInfo, "Post-processing: %s", ev.Name)
				}
			case PostProcessFinished:
				if ev.Filepath != "" {
					mu.Lock()
					recorded = ev.Filepath
					mu.Unlock()
				}
				e.transition(t, types.StatusDownloading, nil)
			}
		},
	}

	out, err := e.extractor.Download(actx, req, hooks)
	if out == nil {
		out = &Outcome{}
		if err != nil {
			out.ExitCode = -1
		}
	}
	if err != nil && out.ErrText == "" {
		out.ErrText = err.Error()
	}
	if out.OutputPath == "" {
		mu.Lock()
		out.OutputPath = recorded
		mu.Unlock()
	}
	return out
}

// finish moves the task to its terminal state.
func (e *Engine) finish(t *types.Task, tk *token, succeeded bool, lastErr string) {
	switch {
	case succeeded:
		e.transition(t, types.StatusCompleted, nil)
		snap := t.Snapshot()
		e.logf(t, events.LevelSuccess, "Download completed: %s", snap.Title)
	case tk.canceled.Load():
		e.transition(t, types.StatusCanceled, nil)
		e.logf(t, events.LevelWarning, "Download canceled")
	default:
		if lastErr == "" {
			lastErr = types.AllStrategiesFailed
		}
		t.Update(func(s *types.TaskState) { s.Error = lastErr })
		e.transition(t, types.StatusFailed, errors.New(lastErr))
		e.logf(t, events.LevelError, "Download failed: %s", lastErr)
	}
}

func (e *Engine) network(t *types.Task) Network {
	proxy := t.Intent.Proxy
	if proxy == "" {
		proxy = e.runtime.ProxyURL
	}
	return Network{
		Proxy:         proxy,
		CookieFile:    readableFile(t.Intent.CookieFile),
		SocketTimeout: e.runtime.GetSocketTimeout(),
	}
}

func (e *Engine) buildRequest(t *types.Task, sel format.Selection, expr string) *Request {
	rc := e.runtime
	in := t.Intent

	tmpl := types.SingleTemplate
	if in.Playlist {
		tmpl = types.PlaylistTemplate
	}
	rate := in.SpeedLimit
	if rate <= 0 {
		rate = rc.SpeedLimit
	}

	return &Request{
		URL:               in.URL,
		Format:            expr,
		FormatSort:        sel.FormatSort,
		FormatSortForce:   sel.FormatSortForce,
		MergeOutputFormat: sel.MergeOutputFormat,
		PostProcessors:    sel.PostProcessors,

		OutputDir:      in.OutputDir,
		OutputTemplate: tmpl,

		Retries:             rc.GetRetries(),
		FragmentRetries:     rc.GetFragmentRetries(),
		FileAccessRetries:   rc.GetFileAccessRetries(),
		ExtractorRetries:    rc.GetExtractorRetries(),
		ConcurrentFragments: rc.GetConcurrentFragments(),
		HTTPChunkSize:       rc.GetHTTPChunkSize(),
		BufferSize:          rc.GetBufferSize(),

		Network:   e.network(t),
		RateLimit: rate,

		Playlist:          in.Playlist,
		WindowsFilenames:  rc.WindowsFilenames,
		RestrictFilenames: rc.RestrictFilenames,
		Overwrites:        rc.Overwrites,
	}
}

// percent converts a progress payload to an overall percentage. Playlist
// items each get an equal share.
func percent(p Progress) float64 {
	var frac float64
	if p.Total > 0 {
		frac = min(float64(p.Downloaded)/float64(p.Total), 1)
	}
	if p.PlaylistCount > 1 && p.PlaylistIndex > 0 {
		return (float64(p.PlaylistIndex-1) + frac) / float64(p.PlaylistCount) * 100
	}
	return frac * 100
}

// readableFile returns path if it can be opened for reading, else "".
func readableFile(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		utils.Debug("ignoring unreadable cookie file %s: %v", path, err)
		return ""
	}
	f.Close()
	return path
}

func errorText(o *Outcome) string {
	return strings.TrimSpace(o.ErrText)
}
