// Package engine schedules download tasks under a global concurrency limit
// and drives each one through the extractor with format fallback.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tubeq/tubeq/internal/engine/classify"
	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/format"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

// Options configures an Engine. Zero fields get defaults.
type Options struct {
	Runtime    *types.RuntimeConfig
	Bus        *events.Bus
	Classifier *classify.Classifier
	Fallbacks  *format.FallbackTable
	Clock      func() time.Time
}

// token is the cancellation latch of one in-flight task.
type token struct {
	canceled atomic.Bool
	cancel   context.CancelFunc
}

func (tk *token) set() {
	tk.canceled.Store(true)
	tk.cancel()
}

// Engine owns the worker registry and the concurrency slots.
type Engine struct {
	extractor  Extractor
	runtime    *types.RuntimeConfig
	bus        *events.Bus
	classifier *classify.Classifier
	fallbacks  format.FallbackTable
	now        func() time.Time
	throttle   *events.Throttle

	slots  chan struct{}
	active atomic.Int32
	wg     sync.WaitGroup

	mu     sync.Mutex // guards tokens, tasks, order
	tokens map[string]*token
	tasks  map[string]*types.Task
	order  []string
}

// New creates an engine around extractor.
func New(extractor Extractor, opts Options) *Engine {
	rc := opts.Runtime
	if rc == nil {
		rc = &types.RuntimeConfig{WindowsFilenames: true}
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	cl := opts.Classifier
	if cl == nil {
		cl = classify.New()
	}
	fb := format.DefaultFallbacks()
	if opts.Fallbacks != nil {
		fb = *opts.Fallbacks
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Engine{
		extractor:  extractor,
		runtime:    rc,
		bus:        bus,
		classifier: cl,
		fallbacks:  fb,
		now:        now,
		throttle:   events.NewThrottle(rc.GetProgressInterval(), now),
		slots:      make(chan struct{}, rc.GetMaxConcurrentDownloads()),
		tokens:     make(map[string]*token),
		tasks:      make(map[string]*types.Task),
	}
}

// Bus returns the event bus the engine publishes to
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Limit returns the number of concurrency slots
func (e *Engine) Limit() int {
	return cap(e.slots)
}

// Submit registers the task and starts its worker. It never blocks and never
// fails; problems surface as the task's terminal state. A task that was
// already submitted is copied into a fresh one.
func (e *Engine) Submit(t *types.Task) *types.Task {
	if t == nil {
		return nil
	}
	if t.Status() != types.StatusQueued {
		t = types.NewTask("", t.Intent.Clone())
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &token{cancel: cancel}

	e.mu.Lock()
	if _, dup := e.tasks[t.ID]; t.ID == "" || dup {
		t.ID = uuid.New().String()
	}
	e.tokens[t.ID] = tk
	e.tasks[t.ID] = t
	e.order = append(e.order, t.ID)
	e.mu.Unlock()

	e.wg.Add(1)
	e.bus.Publish(events.TaskQueuedMsg{TaskID: t.ID, URL: t.Intent.URL, Title: t.Snapshot().Title})
	e.transition(t, types.StatusWaiting, nil)

	go e.run(ctx, t, tk)
	return t
}

// Cancel sets the task's cancellation token. It reports whether a live task
// was signaled; unknown and terminal ids are ignored.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	tk, ok := e.tokens[id]
	t := e.tasks[id]
	e.mu.Unlock()

	if !ok || t == nil || t.Status().IsTerminal() {
		return false
	}
	tk.set()
	return true
}

// CancelAll sets every outstanding token and returns how many were signaled.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	tks := make([]*token, 0, len(e.tokens))
	for _, tk := range e.tokens {
		tks = append(tks, tk)
	}
	e.mu.Unlock()

	for _, tk := range tks {
		tk.set()
	}
	return len(tks)
}

// ActiveCount is the number of workers holding a slot. It never exceeds Limit.
func (e *Engine) ActiveCount() int {
	return int(e.active.Load())
}

// Outstanding is the number of workers not yet finished, waiting or running.
func (e *Engine) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tokens)
}

// Task looks up a task by id
func (e *Engine) Task(id string) (*types.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	return t, ok
}

// Tasks returns every known task in submission order.
func (e *Engine) Tasks() []*types.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Task, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.tasks[id])
	}
	return out
}

// Prune forgets terminal tasks and returns how many were dropped.
func (e *Engine) Prune() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.order[:0]
	n := 0
	for _, id := range e.order {
		t := e.tasks[id]
		if _, live := e.tokens[id]; !live && t.Status().IsTerminal() {
			delete(e.tasks, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	return n
}

// Analyze fetches metadata for url without touching engine state.
func (e *Engine) Analyze(ctx context.Context, url, cookies, proxy string) (*types.VideoInfo, error) {
	if proxy == "" {
		proxy = e.runtime.ProxyURL
	}
	info, err := e.extractor.FetchInfo(ctx, url, Network{
		Proxy:         proxy,
		CookieFile:    readableFile(cookies),
		SocketTimeout: e.runtime.GetSocketTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", url, err)
	}
	return info, nil
}

// Wait blocks until every submitted worker has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels all tasks and waits for the workers, or for ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.CancelAll()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition applies a status change and publishes it if it took effect.
func (e *Engine) transition(t *types.Task, to types.Status, err error) bool {
	from, ok := t.SetStatus(to, e.now())
	if !ok {
		return false
	}
	e.bus.Publish(events.TaskStatusMsg{
		TaskID: t.ID,
		Title:  t.Snapshot().Title,
		From:   from,
		To:     to,
		Err:    err,
	})
	return true
}

func (e *Engine) logf(t *types.Task, level, tmpl string, args ...any) {
	msg := fmt.Sprintf(tmpl, args...)
	utils.Debug("[%s] %s: %s", t.ID, level, msg)
	e.bus.Publish(events.TaskLogMsg{TaskID: t.ID, Level: level, Message: msg, Time: e.now()})
}

func (e *Engine) deregister(id string) {
	e.mu.Lock()
	delete(e.tokens, id)
	e.mu.Unlock()
	e.throttle.Forget(id)
}
