package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/format"
	"github.com/tubeq/tubeq/internal/engine/types"
)

// =============================================================================
// Test helpers
// =============================================================================

type downloadFunc func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error)

// fakeExtractor records every attempted format expression.
type fakeExtractor struct {
	mu        sync.Mutex
	formats   []string
	requests  []*Request
	download  downloadFunc
	fetchInfo func(ctx context.Context, url string, net Network) (*types.VideoInfo, error)
	fetches   atomic.Int32
}

func (f *fakeExtractor) Download(ctx context.Context, req *Request, hooks Hooks) (*Outcome, error) {
	f.mu.Lock()
	call := len(f.formats)
	f.formats = append(f.formats, req.Format)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.download == nil {
		return &Outcome{ExitCode: 0}, nil
	}
	return f.download(ctx, req, hooks, call)
}

func (f *fakeExtractor) FetchInfo(ctx context.Context, url string, net Network) (*types.VideoInfo, error) {
	f.fetches.Add(1)
	if f.fetchInfo == nil {
		return nil, errors.New("fetchInfo not configured")
	}
	return f.fetchInfo(ctx, url, net)
}

func (f *fakeExtractor) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.formats...)
}

func (f *fakeExtractor) lastRequest() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// recorder drains a bus subscription into a slice.
type recorder struct {
	mu    sync.Mutex
	msgs  []any
	bus   *events.Bus
	unsub func()
	done  chan struct{}
}

// flushMarker is published by stop; the recorder closes reached when it
// arrives, after every earlier message.
type flushMarker struct{ reached chan struct{} }

func record(bus *events.Bus) *recorder {
	ch, unsub := bus.Subscribe(4096)
	r := &recorder{bus: bus, unsub: unsub, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for m := range ch {
			if f, ok := m.(flushMarker); ok {
				close(f.reached)
				continue
			}
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		}
	}()
	return r
}

// stop unsubscribes and returns everything received. Messages published
// before the call are all included.
func (r *recorder) stop() []any {
	marker := flushMarker{reached: make(chan struct{})}
	r.bus.Publish(marker)
	select {
	case <-marker.reached:
	case <-r.done:
	case <-time.After(5 * time.Second):
	}
	r.unsub()
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs
}

func statusesFor(msgs []any, id string) []events.TaskStatusMsg {
	var out []events.TaskStatusMsg
	for _, m := range msgs {
		if s, ok := m.(events.TaskStatusMsg); ok && s.TaskID == id {
			out = append(out, s)
		}
	}
	return out
}

func progressFor(msgs []any, id string) []events.TaskProgressMsg {
	var out []events.TaskProgressMsg
	for _, m := range msgs {
		if p, ok := m.(events.TaskProgressMsg); ok && p.TaskID == id {
			out = append(out, p)
		}
	}
	return out
}

// steppingClock advances one second per reading so the throttle never holds
// back an event.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestEngine(t *testing.T, fx *fakeExtractor, limit int, fb *format.FallbackTable) *Engine {
	t.Helper()
	return New(fx, Options{
		Runtime:   &types.RuntimeConfig{MaxConcurrentDownloads: limit, WindowsFilenames: true},
		Fallbacks: fb,
		Clock:     steppingClock(),
	})
}

func newTask(t *testing.T) *types.Task {
	in := types.DefaultIntent("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	in.OutputDir = t.TempDir()
	return types.NewTask("", in)
}

func fail(text string) (*Outcome, error) {
	return &Outcome{ExitCode: 1, ErrText: text}, nil
}

// assertValidLifecycle checks that a task's status events form one legal
// path from queued to a single terminal state.
func assertValidLifecycle(t *testing.T, statuses []events.TaskStatusMsg, want types.Status) {
	t.Helper()
	require.NotEmpty(t, statuses)
	prev := types.StatusQueued
	terminals := 0
	for _, s := range statuses {
		assert.Equal(t, prev, s.From, "status events must chain")
		assert.True(t, types.CanTransition(s.From, s.To), "illegal transition %s -> %s", s.From, s.To)
		if s.To.IsTerminal() {
			terminals++
		}
		prev = s.To
	}
	assert.Equal(t, 1, terminals, "exactly one terminal transition")
	assert.Equal(t, want, prev)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestEngine_SuccessfulDownload(t *testing.T) {
	fx := &fakeExtractor{
		fetchInfo: func(ctx context.Context, url string, net Network) (*types.VideoInfo, error) {
			return &types.VideoInfo{Title: "Never Gonna Give You Up"}, nil
		},
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: 50, Total: 100}))
			require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseFinished, Filename: filepath.Join(req.OutputDir, "v.mkv")}))
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 2, nil)
	rec := record(e.Bus())

	task := e.Submit(newTask(t))
	require.NotEmpty(t, task.ID)
	e.Wait()
	msgs := rec.stop()

	snap := task.Snapshot()
	assert.Equal(t, types.StatusCompleted, snap.Status)
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, "Never Gonna Give You Up", snap.Title)
	assert.Equal(t, filepath.Join(task.Intent.OutputDir, "v.mkv"), snap.OutputPath)
	assert.False(t, snap.CompletedAt.IsZero())
	assert.Empty(t, snap.Error)

	assertValidLifecycle(t, statusesFor(msgs, task.ID), types.StatusCompleted)

	progress := progressFor(msgs, task.ID)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.True(t, last.Final, "final progress event is always delivered")
	assert.Equal(t, 100.0, last.Progress)

	_, queued := msgs[0].(events.TaskQueuedMsg)
	assert.True(t, queued, "first event announces the task")

	assert.Equal(t, 0, e.Outstanding())
	assert.Equal(t, 0, e.ActiveCount())
}

func TestEngine_RequestCarriesRuntimeAndIntent(t *testing.T) {
	fx := &fakeExtractor{}
	e := New(fx, Options{Runtime: &types.RuntimeConfig{
		Retries:           3,
		ProxyURL:          "http://fallback-proxy:3128",
		SpeedLimit:        1000,
		RestrictFilenames: true,
	}})

	task := newTask(t)
	task.Intent.Playlist = true
	task.Intent.Preset = types.PresetHigh
	task.Intent.SpeedLimit = 5000
	e.Submit(task)
	e.Wait()

	req := fx.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, task.Intent.URL, req.URL)
	assert.Equal(t, format.Resolve(task.Intent).Format, req.Format)
	assert.Equal(t, types.FormatMP4, req.MergeOutputFormat)
	assert.Equal(t, types.PlaylistTemplate, req.OutputTemplate)
	assert.Equal(t, 3, req.Retries)
	assert.Equal(t, types.FragmentRetries, req.FragmentRetries)
	assert.Equal(t, types.ConcurrentFragments, req.ConcurrentFragments)
	assert.Equal(t, "http://fallback-proxy:3128", req.Proxy)
	assert.Equal(t, int64(5000), req.RateLimit, "task limit wins over runtime default")
	assert.True(t, req.Playlist)
	assert.True(t, req.RestrictFilenames)
}

func TestEngine_ResubmittedTaskIsCopied(t *testing.T) {
	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 1, nil)

	first := e.Submit(newTask(t))
	e.Wait()
	second := e.Submit(first)
	e.Wait()

	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, types.StatusCompleted, second.Status())
	assert.Len(t, e.Tasks(), 2)
}

func TestEngine_DuplicateIDGetsFreshOne(t *testing.T) {
	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 2, nil)

	a := e.Submit(types.NewTask("same", types.DefaultIntent("u1")))
	b := e.Submit(types.NewTask("same", types.DefaultIntent("u2")))
	e.Wait()

	assert.Equal(t, "same", a.ID)
	assert.NotEqual(t, "same", b.ID)
	got, ok := e.Task(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)
}

// =============================================================================
// Concurrency bound
// =============================================================================

func TestEngine_ConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 2, nil)

	var peak atomic.Int32
	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for {
			select {
			case <-stopWatch:
				return
			default:
			}
			if n := int32(e.ActiveCount()); n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var tasks []*types.Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, e.Submit(newTask(t)))
	}

	require.Eventually(t, func() bool { return len(fx.attempts()) == 2 }, 2*time.Second, time.Millisecond)
	// Give any wrongly admitted worker a chance to show up.
	time.Sleep(50 * time.Millisecond)

	var downloading, waiting int
	for _, task := range tasks {
		switch task.Status() {
		case types.StatusDownloading:
			downloading++
		case types.StatusWaiting:
			waiting++
		}
	}
	assert.Equal(t, 2, downloading)
	assert.Equal(t, 3, waiting)
	assert.Equal(t, 2, e.ActiveCount())
	assert.Equal(t, 5, e.Outstanding())

	close(release)
	e.Wait()
	close(stopWatch)
	<-watchDone

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, task := range tasks {
		assert.Equal(t, types.StatusCompleted, task.Status())
	}
}

func TestEngine_BurstNeverExceedsLimit(t *testing.T) {
	var running, peak atomic.Int32
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 3, nil)
	for i := 0; i < 40; i++ {
		e.Submit(newTask(t))
	}
	e.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Len(t, fx.attempts(), 40)
}

// =============================================================================
// Classification and fallback
// =============================================================================

func TestEngine_PermanentFailureSkipsFallback(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			return fail("ERROR: [youtube] dQw4w9WgXcQ: Private video. Sign in if you've been granted access")
		},
	}
	e := newTestEngine(t, fx, 2, nil)
	rec := record(e.Bus())

	task := e.Submit(newTask(t))
	e.Wait()
	msgs := rec.stop()

	assert.Len(t, fx.attempts(), 1, "no fallback after a permanent failure")
	snap := task.Snapshot()
	assert.Equal(t, types.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "Private video")
	assert.Zero(t, snap.Retries)

	statuses := statusesFor(msgs, task.ID)
	assertValidLifecycle(t, statuses, types.StatusFailed)
	last := statuses[len(statuses)-1]
	require.Error(t, last.Err)
	assert.Contains(t, last.Err.Error(), "Private video")
}

func TestEngine_RetryableFailureWalksFallbackChain(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1", "fb2", "fb3"}}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			return fail("ERROR: unable to download video data: HTTP Error 429: Too Many Requests")
		},
	}
	e := newTestEngine(t, fx, 1, fb)

	task := e.Submit(newTask(t))
	e.Wait()

	attempts := fx.attempts()
	require.Len(t, attempts, 4, "primary plus N fallbacks")
	assert.Equal(t, format.MaximumChain, attempts[0])
	assert.Equal(t, []string{"fb1", "fb2", "fb3"}, attempts[1:])

	snap := task.Snapshot()
	assert.Equal(t, types.StatusFailed, snap.Status)
	assert.Equal(t, 3, snap.Retries)
	assert.Contains(t, snap.Error, "HTTP Error 429")
}

func TestEngine_FallbackStopsAtFirstSuccess(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1", "fb2", "fb3"}}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			if req.Format == "fb2" {
				return &Outcome{ExitCode: 0}, nil
			}
			return fail("The read operation timed out")
		},
	}
	e := newTestEngine(t, fx, 1, fb)

	task := e.Submit(newTask(t))
	e.Wait()

	assert.Equal(t, []string{format.MaximumChain, "fb1", "fb2"}, fx.attempts())
	assert.Equal(t, types.StatusCompleted, task.Status())
	assert.Equal(t, 2, task.Snapshot().Retries)
}

func TestEngine_PermanentFailureMidChainStops(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1", "fb2"}}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			if call == 0 {
				return fail("HTTP Error 503")
			}
			return fail("ERROR: Video unavailable")
		},
	}
	e := newTestEngine(t, fx, 1, fb)

	task := e.Submit(newTask(t))
	e.Wait()

	assert.Len(t, fx.attempts(), 2)
	assert.Equal(t, types.StatusFailed, task.Status())
	assert.Contains(t, task.Snapshot().Error, "Video unavailable")
}

func TestEngine_AudioUsesAudioFallbacks(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"v1"}, Audio: []string{"a1", "a2"}}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			return fail("Connection reset by peer")
		},
	}
	e := newTestEngine(t, fx, 1, fb)

	task := newTask(t)
	task.Intent.Preset = types.PresetAudioOnly
	e.Submit(task)
	e.Wait()

	assert.Equal(t, []string{"bestaudio/best", "a1", "a2"}, fx.attempts())
}

func TestEngine_EmptyErrorUsesDefaultMessage(t *testing.T) {
	fb := &format.FallbackTable{}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			return &Outcome{ExitCode: 1}, nil
		},
	}
	e := newTestEngine(t, fx, 1, fb)

	task := e.Submit(newTask(t))
	e.Wait()

	assert.Equal(t, types.StatusFailed, task.Status())
	assert.Equal(t, types.AllStrategiesFailed, task.Snapshot().Error)
}

func TestEngine_ExtractorErrorIsRetryable(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1"}}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			if call == 0 {
				return nil, errors.New("exec: yt-dlp: executable file not found")
			}
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 1, fb)

	task := e.Submit(newTask(t))
	e.Wait()

	assert.Len(t, fx.attempts(), 2)
	assert.Equal(t, types.StatusCompleted, task.Status())
}

// A nonzero exit that still recorded an output file counts as success.
// This can hide partial failures, so it is pinned here deliberately.
func TestEngine_NonzeroExitWithOutputPathIsSuccess(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseFinished, Filename: "/out/partial.mkv"}))
			return fail("ERROR: Postprocessing: Conversion failed!")
		},
	}
	e := newTestEngine(t, fx, 1, nil)
	rec := record(e.Bus())

	task := e.Submit(newTask(t))
	e.Wait()
	msgs := rec.stop()

	assert.Len(t, fx.attempts(), 1)
	assert.Equal(t, types.StatusCompleted, task.Status())
	assert.Equal(t, "/out/partial.mkv", task.Snapshot().OutputPath)

	var warned bool
	for _, m := range msgs {
		if l, ok := m.(events.TaskLogMsg); ok && l.Level == events.LevelWarning {
			warned = true
		}
	}
	assert.True(t, warned, "a success with nonzero exit is logged as a warning")
}

// =============================================================================
// Cancellation
// =============================================================================

func TestEngine_CancelUnknownOrTerminalIsNoop(t *testing.T) {
	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 1, nil)

	task := e.Submit(newTask(t))
	e.Wait()
	require.Equal(t, types.StatusCompleted, task.Status())

	rec := record(e.Bus())
	assert.False(t, e.Cancel("does-not-exist"))
	assert.False(t, e.Cancel(task.ID))
	assert.Zero(t, e.CancelAll())
	msgs := rec.stop()

	assert.Empty(t, msgs, "no event for a no-op cancel")
	assert.Equal(t, types.StatusCompleted, task.Status())
}

func TestEngine_CancelDuringDownload(t *testing.T) {
	started := make(chan struct{})
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			close(started)
			for {
				if err := hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: 1, Total: 100}); err != nil {
					return fail("Interrupted by user")
				}
				select {
				case <-ctx.Done():
					return fail("context canceled")
				case <-time.After(time.Millisecond):
				}
			}
		},
	}
	e := newTestEngine(t, fx, 1, nil)
	rec := record(e.Bus())

	task := e.Submit(newTask(t))
	<-started
	assert.True(t, e.Cancel(task.ID))
	e.Wait()
	msgs := rec.stop()

	assert.Equal(t, types.StatusCanceled, task.Status())
	assert.Len(t, fx.attempts(), 1, "no fallback after cancellation")
	assertValidLifecycle(t, statusesFor(msgs, task.ID), types.StatusCanceled)
}

func TestEngine_CancelWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			<-release
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 1, nil)
	rec := record(e.Bus())

	running := e.Submit(newTask(t))
	require.Eventually(t, func() bool { return len(fx.attempts()) == 1 }, time.Second, time.Millisecond)

	waiting := e.Submit(newTask(t))
	require.Equal(t, types.StatusWaiting, waiting.Status())
	assert.True(t, e.Cancel(waiting.ID))

	require.Eventually(t, func() bool { return waiting.Status() == types.StatusCanceled }, time.Second, time.Millisecond)
	assert.Equal(t, 1, e.ActiveCount(), "canceled waiter never took a slot")

	close(release)
	e.Wait()
	msgs := rec.stop()

	assert.Equal(t, types.StatusCompleted, running.Status())
	assert.Len(t, fx.attempts(), 1)
	assertValidLifecycle(t, statusesFor(msgs, waiting.ID), types.StatusCanceled)
}

func TestEngine_CancelMidFallbackChain(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1", "fb2", "fb3", "fb4"}}
	var e *Engine
	var id atomic.Value
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			if call == 2 {
				e.Cancel(id.Load().(string))
				if err := hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: 5, Total: 10}); err != nil {
					return fail("aborted")
				}
			}
			return fail("HTTP Error 403: Forbidden")
		},
	}
	e = newTestEngine(t, fx, 1, fb)

	task := newTask(t)
	task.ID = "mid-chain"
	id.Store(task.ID)
	e.Submit(task)
	e.Wait()

	assert.Equal(t, types.StatusCanceled, task.Status())
	assert.Len(t, fx.attempts(), 3, "no attempt after the cancellation point")
	assert.Equal(t, 2, task.Snapshot().Retries, "retry counter stops at cancellation")
}

func TestEngine_CancelBeforeAttemptCompletesWinsOverSuccess(t *testing.T) {
	var e *Engine
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			for _, task := range e.Tasks() {
				e.Cancel(task.ID)
			}
			// the extractor ignores the abort and reports a finished file
			_ = hooks.OnProgress(Progress{Phase: PhaseFinished, Filename: "/out/x.mp4"})
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e = newTestEngine(t, fx, 1, nil)

	task := e.Submit(newTask(t))
	e.Wait()

	assert.Equal(t, types.StatusCanceled, task.Status())
}

func TestEngine_CancelAll(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			<-ctx.Done()
			return fail("context canceled")
		},
	}
	e := newTestEngine(t, fx, 2, nil)

	var tasks []*types.Task
	for i := 0; i < 4; i++ {
		tasks = append(tasks, e.Submit(newTask(t)))
	}
	require.Eventually(t, func() bool { return e.ActiveCount() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 4, e.CancelAll())
	e.Wait()

	for _, task := range tasks {
		assert.Equal(t, types.StatusCanceled, task.Status())
	}
	assert.Equal(t, 0, e.Outstanding())
}

func TestEngine_Shutdown(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			<-ctx.Done()
			return fail("context canceled")
		},
	}
	e := newTestEngine(t, fx, 1, nil)
	task := e.Submit(newTask(t))
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, types.StatusCanceled, task.Status())
}

// =============================================================================
// Progress
// =============================================================================

func TestEngine_ProgressMonotonicAndResetPerAttempt(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1"}}
	fx := &fakeExtractor{
		fetchInfo: func(ctx context.Context, url string, net Network) (*types.VideoInfo, error) {
			return &types.VideoInfo{Title: "T"}, nil
		},
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			var steps []int64
			if call == 0 {
				steps = []int64{10, 50, 30, 80}
			} else {
				steps = []int64{20, 100}
			}
			for _, b := range steps {
				require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: b, Total: 100}))
			}
			if call == 0 {
				return fail("HTTP Error 503: Service Unavailable")
			}
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 1, fb)
	rec := record(e.Bus())

	task := e.Submit(newTask(t))
	e.Wait()
	msgs := rec.stop()

	var got []float64
	for _, p := range progressFor(msgs, task.ID) {
		if !p.Final {
			got = append(got, p.Progress)
		}
	}
	// metadata lookup, attempt 1 (30 is clamped), reset, attempt 2
	assert.Equal(t, []float64{0, 10, 50, 50, 80, 0, 20, 100}, got)
}

func TestEngine_ProgressIsThrottled(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			for i := int64(1); i <= 100; i++ {
				require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: i, Total: 100}))
			}
			return &Outcome{ExitCode: 0}, nil
		},
	}
	frozen := time.Unix(0, 0)
	e := New(fx, Options{
		Runtime: &types.RuntimeConfig{MaxConcurrentDownloads: 1},
		Clock:   func() time.Time { return frozen },
	})
	rec := record(e.Bus())

	task := e.Submit(newTask(t))
	e.Wait()
	msgs := rec.stop()

	var intermediate, final int
	for _, p := range progressFor(msgs, task.ID) {
		if p.Final {
			final++
		} else {
			intermediate++
		}
	}
	assert.Equal(t, 1, intermediate, "a frozen clock lets only the first event through")
	assert.Equal(t, 1, final)
}

func TestEngine_PlaylistProgress(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: 100, Total: 100, PlaylistIndex: 1, PlaylistCount: 4}))
			require.NoError(t, hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: 50, Total: 100, PlaylistIndex: 2, PlaylistCount: 4}))
			return &Outcome{ExitCode: 1}, nil
		},
	}
	e := newTestEngine(t, fx, 1, &format.FallbackTable{})

	task := newTask(t)
	task.Intent.Playlist = true
	e.Submit(task)
	e.Wait()

	snap := task.Snapshot()
	assert.Equal(t, 2, snap.PlaylistIndex)
	assert.Equal(t, 4, snap.PlaylistTotal)
	assert.InDelta(t, 37.5, snap.Progress, 0.001)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 50.0, percent(Progress{Downloaded: 5, Total: 10}))
	assert.Equal(t, 0.0, percent(Progress{Downloaded: 5}))
	assert.Equal(t, 100.0, percent(Progress{Downloaded: 20, Total: 10}))
	assert.Equal(t, 75.0, percent(Progress{Downloaded: 10, Total: 10, PlaylistIndex: 3, PlaylistCount: 4}))
}

// =============================================================================
// Post-processing, filesystem, metadata lookup, panics
// =============================================================================

func TestEngine_PostProcessingEntersMerging(t *testing.T) {
	var sawMerging atomic.Bool
	var task *types.Task
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			hooks.OnPostProcess(PostProcessEvent{Phase: PostProcessStarted, Name: "Merger"})
			sawMerging.Store(task.Status() == types.StatusMerging)
			hooks.OnPostProcess(PostProcessEvent{Phase: PostProcessFinished, Name: "Merger", Filepath: "/out/final.mkv"})
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 1, nil)
	rec := record(e.Bus())

	task = newTask(t)
	e.Submit(task)
	e.Wait()
	msgs := rec.stop()

	assert.True(t, sawMerging.Load())
	assert.Equal(t, "/out/final.mkv", task.Snapshot().OutputPath)

	statuses := statusesFor(msgs, task.ID)
	assertValidLifecycle(t, statuses, types.StatusCompleted)
	var path []types.Status
	for _, s := range statuses {
		path = append(path, s.To)
	}
	assert.Equal(t, []types.Status{
		types.StatusWaiting, types.StatusDownloading, types.StatusMerging,
		types.StatusDownloading, types.StatusCompleted,
	}, path)
}

func TestEngine_CreatesOutputDirectory(t *testing.T) {
	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 1, nil)

	task := newTask(t)
	task.Intent.OutputDir = filepath.Join(t.TempDir(), "nested", "dir")
	e.Submit(task)
	e.Wait()

	info, err := os.Stat(task.Intent.OutputDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, types.StatusCompleted, task.Status())
}

func TestEngine_OutputDirectoryFailureFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 1, nil)

	task := newTask(t)
	task.Intent.OutputDir = filepath.Join(blocker, "sub")
	e.Submit(task)
	e.Wait()

	assert.Equal(t, types.StatusFailed, task.Status())
	assert.Contains(t, task.Snapshot().Error, "cannot create output directory")
	assert.Empty(t, fx.attempts())
	assert.Equal(t, 0, e.ActiveCount())
}

func TestEngine_UnreadableCookieFileIgnored(t *testing.T) {
	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 1, nil)

	task := newTask(t)
	task.Intent.CookieFile = filepath.Join(t.TempDir(), "missing-cookies.txt")
	e.Submit(task)
	e.Wait()

	assert.Equal(t, types.StatusCompleted, task.Status())
	assert.Empty(t, fx.lastRequest().CookieFile)

	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File\n"), 0600))
	task = newTask(t)
	task.Intent.CookieFile = cookies
	e.Submit(task)
	e.Wait()
	assert.Equal(t, cookies, fx.lastRequest().CookieFile)
}

func TestEngine_MetadataLookupFailureIsSwallowed(t *testing.T) {
	fx := &fakeExtractor{
		fetchInfo: func(ctx context.Context, url string, net Network) (*types.VideoInfo, error) {
			return nil, errors.New("ERROR: unable to extract")
		},
	}
	e := newTestEngine(t, fx, 1, nil)

	task := e.Submit(newTask(t))
	e.Wait()

	assert.Equal(t, types.StatusCompleted, task.Status())
	assert.Equal(t, types.PendingTitle, task.Snapshot().Title)
	assert.Equal(t, int32(1), fx.fetches.Load())
}

func TestEngine_PanicIsRecovered(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			if strings.HasSuffix(req.URL, "panic") {
				panic("extractor blew up")
			}
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 1, nil)
	rec := record(e.Bus())

	badTask := newTask(t)
	badTask.Intent.URL = "https://youtu.be/panic"
	bad := e.Submit(badTask)
	good := e.Submit(newTask(t))
	e.Wait()
	msgs := rec.stop()

	assert.Equal(t, types.StatusFailed, bad.Status())
	assert.Contains(t, bad.Snapshot().Error, "extractor blew up")
	assert.Equal(t, types.StatusCompleted, good.Status(), "slot was released after the panic")
	assertValidLifecycle(t, statusesFor(msgs, bad.ID), types.StatusFailed)
}

func TestEngine_Analyze(t *testing.T) {
	var gotNet Network
	fx := &fakeExtractor{
		fetchInfo: func(ctx context.Context, url string, net Network) (*types.VideoInfo, error) {
			gotNet = net
			return &types.VideoInfo{Title: "Clip", Duration: 212, MaxResolution: 2160}, nil
		},
	}
	e := New(fx, Options{Runtime: &types.RuntimeConfig{ProxyURL: "http://p:1"}})

	info, err := e.Analyze(context.Background(), "https://youtu.be/x", "/nope/cookies.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "Clip", info.Title)
	assert.Equal(t, "http://p:1", gotNet.Proxy)
	assert.Empty(t, gotNet.CookieFile)
	assert.Empty(t, e.Tasks(), "analyze does not create tasks")

	fx.fetchInfo = func(ctx context.Context, url string, net Network) (*types.VideoInfo, error) {
		return nil, errors.New("boom")
	}
	_, err = e.Analyze(context.Background(), "https://youtu.be/x", "", "")
	assert.Error(t, err)
}

func TestEngine_Prune(t *testing.T) {
	fx := &fakeExtractor{}
	e := newTestEngine(t, fx, 2, nil)
	e.Submit(newTask(t))
	e.Submit(newTask(t))
	e.Wait()

	assert.Equal(t, 2, e.Prune())
	assert.Empty(t, e.Tasks())
}

func TestEngine_ManyTasksFollowStateMachine(t *testing.T) {
	fb := &format.FallbackTable{Video: []string{"fb1"}}
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			switch call % 4 {
			case 0:
				return &Outcome{ExitCode: 0}, nil
			case 1:
				return fail("Private video")
			case 2:
				hooks.OnPostProcess(PostProcessEvent{Phase: PostProcessStarted})
				hooks.OnPostProcess(PostProcessEvent{Phase: PostProcessFinished})
				return &Outcome{ExitCode: 0}, nil
			default:
				return fail("HTTP Error 429")
			}
		},
	}
	e := newTestEngine(t, fx, 3, fb)
	rec := record(e.Bus())

	var tasks []*types.Task
	for i := 0; i < 20; i++ {
		tasks = append(tasks, e.Submit(newTask(t)))
	}
	e.Cancel(tasks[7].ID)
	e.Wait()
	msgs := rec.stop()

	for _, task := range tasks {
		status := task.Status()
		require.True(t, status.IsTerminal())
		assertValidLifecycle(t, statusesFor(msgs, task.ID), status)

		finals := 0
		for _, p := range progressFor(msgs, task.ID) {
			if p.Final {
				finals++
			}
		}
		assert.Equal(t, 1, finals, "exactly one final progress event per task")
	}
}

func TestEngine_StalledSubscriberDoesNotBlock(t *testing.T) {
	fx := &fakeExtractor{
		download: func(ctx context.Context, req *Request, hooks Hooks, call int) (*Outcome, error) {
			_ = hooks.OnProgress(Progress{Phase: PhaseDownloading, Downloaded: 1, Total: 2})
			return &Outcome{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, fx, 2, nil)
	_, unsub := e.Bus().Subscribe(4) // never read
	defer unsub()

	tasks := make([]*types.Task, 100)
	for i := range tasks {
		tasks[i] = newTask(t)
	}

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for _, task := range tasks {
			e.Submit(task)
		}
	}()
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a subscriber that does not read")
	}

	finished := make(chan struct{})
	go func() {
		e.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatalf("workers stalled: active=%d outstanding=%d", e.ActiveCount(), e.Outstanding())
	}

	for _, task := range tasks {
		assert.Equal(t, types.StatusCompleted, task.Status())
	}
	assert.Zero(t, e.ActiveCount())
}
