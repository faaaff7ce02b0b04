package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/engine"
	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/history"
	"github.com/tubeq/tubeq/internal/utils"
)

// shutdownTimeout bounds how long Shutdown waits for workers to exit.
const shutdownTimeout = 30 * time.Second

// streamBuffer is the subscription buffer handed to event consumers.
const streamBuffer = 256

// LocalDownloadService implements DownloadService on an in-process engine.
// Finished tasks are written to the history store when one is configured.
type LocalDownloadService struct {
	engine   *engine.Engine
	store    *history.Store
	settings *config.Settings

	// OpenFolder is called with the output path of completed tasks when
	// the settings ask for it.
	OpenFolder func(path string) error

	unsub    func()
	recorded sync.WaitGroup
	once     sync.Once
}

// NewLocalDownloadService wires e to store. store may be nil; settings nil means defaults.
func NewLocalDownloadService(e *engine.Engine, store *history.Store, settings *config.Settings) *LocalDownloadService {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	s := &LocalDownloadService{
		engine:     e,
		store:      store,
		settings:   settings,
		OpenFolder: utils.OpenFolder,
	}

	ch, unsub := e.Bus().Subscribe(streamBuffer)
	s.unsub = unsub
	s.recorded.Add(1)
	go s.record(ch)
	return s
}

// Engine returns the underlying engine
func (s *LocalDownloadService) Engine() *engine.Engine {
	return s.engine
}

// record turns terminal status events into history entries.
func (s *LocalDownloadService) record(ch <-chan any) {
	defer s.recorded.Done()
	for msg := range ch {
		st, ok := msg.(events.TaskStatusMsg)
		if !ok || !st.To.IsTerminal() {
			continue
		}
		t, ok := s.engine.Task(st.TaskID)
		if !ok {
			continue
		}
		s.finished(t)
	}
}

func (s *LocalDownloadService) finished(t *types.Task) {
	entry := history.EntryFor(t)
	if entry.OutputPath != "" {
		if media, err := utils.DetectMedia(entry.OutputPath); err == nil {
			entry.MediaType = media.MIME
			entry.Size = media.Size
		} else {
			utils.Debug("[%s] cannot inspect output %s: %v", t.ID, entry.OutputPath, err)
		}
	}

	if s.store != nil {
		if _, err := s.store.Add(entry); err != nil {
			utils.Debug("[%s] failed to record history: %v", t.ID, err)
		}
	}

	if entry.Status == types.StatusCompleted && s.settings.General.OpenFolderWhenDone && s.OpenFolder != nil {
		target := entry.OutputPath
		if target == "" {
			target = t.Intent.OutputDir
		}
		if target != "" {
			if err := s.OpenFolder(target); err != nil {
				utils.Debug("[%s] open folder: %v", t.ID, err)
			}
		}
	}
}

// List returns the status of all tasks known to the engine.
func (s *LocalDownloadService) List() ([]types.TaskView, error) {
	tasks := s.engine.Tasks()
	out := make([]types.TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.View())
	}
	return out, nil
}

// History returns finished downloads matching query, newest first.
func (s *LocalDownloadService) History(query string) ([]types.HistoryEntry, error) {
	if s.store == nil {
		return []types.HistoryEntry{}, nil
	}
	entries, err := s.store.Search(query)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	return entries, nil
}

// Add queues a new download. An empty output directory falls back to the
// configured default.
func (s *LocalDownloadService) Add(intent types.Intent) (string, error) {
	in := intent.Clone()
	if in.OutputDir == "" {
		in.OutputDir = s.settings.General.DefaultDownloadDir
	}
	if in.CookieFile == "" {
		in.CookieFile = s.settings.Network.CookieFile
	}
	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("invalid download: %w", err)
	}
	t := s.engine.Submit(types.NewTask("", in))
	utils.Debug("Queued %s as %s", in.URL, t.ID)
	return t.ID, nil
}

// Cancel signals a task to stop.
func (s *LocalDownloadService) Cancel(id string) error {
	if _, ok := s.engine.Task(id); !ok {
		return ErrNotFound
	}
	s.engine.Cancel(id)
	return nil
}

// CancelAll signals every live task.
func (s *LocalDownloadService) CancelAll() (int, error) {
	return s.engine.CancelAll(), nil
}

// Prune drops finished tasks from the listing. Their history entries stay.
func (s *LocalDownloadService) Prune() (int, error) {
	return s.engine.Prune(), nil
}

// GetStatus returns a status for a single download by id.
func (s *LocalDownloadService) GetStatus(id string) (*types.TaskView, error) {
	t, ok := s.engine.Task(id)
	if !ok {
		return nil, ErrNotFound
	}
	v := t.View()
	return &v, nil
}

// Analyze fetches metadata with the configured cookies and proxy.
func (s *LocalDownloadService) Analyze(ctx context.Context, url string) (*types.VideoInfo, error) {
	return s.engine.Analyze(ctx, url, s.settings.Network.CookieFile, s.settings.Network.ProxyURL)
}

// StreamEvents subscribes to the engine bus. The returned func unsubscribes.
// The subscription also ends when ctx is done.
func (s *LocalDownloadService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	ch, unsub := s.engine.Bus().Subscribe(streamBuffer)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			unsub()
		}()
	}
	return ch, unsub, nil
}

// Publish emits an event into the engine bus.
func (s *LocalDownloadService) Publish(msg any) error {
	s.engine.Bus().Publish(msg)
	return nil
}

// Shutdown cancels all tasks, waits for the workers and the history writer,
// then closes the bus and the history store.
func (s *LocalDownloadService) Shutdown() error {
	var err error
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.engine.Shutdown(ctx)

		// Close hands the recorder every pending terminal event before its
		// channel ends
		s.engine.Bus().Close()
		s.recorded.Wait()
		s.unsub()

		if s.store != nil {
			if cerr := s.store.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
