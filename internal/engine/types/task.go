package types

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Intent is the immutable description of what a task should download.
type Intent struct {
	URL           string       `json:"url"`
	OutputDir     string       `json:"output_dir"`
	Preset        Preset       `json:"preset"`
	Format        OutputFormat `json:"format"`
	AudioCodec    AudioCodec   `json:"audio_codec,omitempty"`
	AudioBitrate  int          `json:"audio_bitrate,omitempty"` // kbps
	Subtitles     bool         `json:"subtitles"`
	SubtitleLangs []string     `json:"subtitle_langs,omitempty"`
	Thumbnail     bool         `json:"thumbnail"`
	Metadata      bool         `json:"metadata"`
	Chapters      bool         `json:"chapters"`
	SponsorBlock  bool         `json:"sponsorblock"`
	Playlist      bool         `json:"playlist"`
	Proxy         string       `json:"proxy,omitempty"`
	SpeedLimit    int64        `json:"speed_limit,omitempty"` // bytes/sec, 0 = unlimited
	CookieFile    string       `json:"cookie_file,omitempty"`
}

// DefaultIntent returns an intent with the stock defaults for url.
func DefaultIntent(url string) Intent {
	return Intent{
		URL:           url,
		Preset:        PresetMaximum,
		Format:        FormatMP4,
		AudioCodec:    CodecMP3,
		AudioBitrate:  DefaultAudioBitrate,
		SubtitleLangs: []string{"en", "en-US"},
		Thumbnail:     true,
		Metadata:      true,
		Chapters:      true,
	}
}

// Clone returns a deep copy; slices are not shared with the receiver.
func (i Intent) Clone() Intent {
	c := i
	c.SubtitleLangs = slices.Clone(i.SubtitleLangs)
	return c
}

// Validate checks the fields the engine relies on.
func (i Intent) Validate() error {
	if i.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, ok := ParsePreset(string(i.Preset)); !ok {
		return fmt.Errorf("unknown preset %q", i.Preset)
	}
	if _, ok := ParseOutputFormat(string(i.Format)); !ok {
		return fmt.Errorf("unknown output format %q", i.Format)
	}
	if i.AudioCodec != "" {
		if _, ok := ParseAudioCodec(string(i.AudioCodec)); !ok {
			return fmt.Errorf("unknown audio codec %q", i.AudioCodec)
		}
	}
	if i.SpeedLimit < 0 {
		return fmt.Errorf("speed limit must not be negative")
	}
	return nil
}

// TaskState is the mutable part of a task. Copies are returned by Snapshot.
type TaskState struct {
	Status        Status    `json:"status"`
	Title         string    `json:"title"`
	Progress      float64   `json:"progress"` // 0-100
	Speed         float64   `json:"speed"`    // bytes/sec
	ETA           int64     `json:"eta"`      // seconds
	Downloaded    int64     `json:"downloaded"`
	Total         int64     `json:"total"`
	Error         string    `json:"error,omitempty"`
	Retries       int       `json:"retries"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
	PlaylistIndex int       `json:"playlist_index,omitempty"`
	PlaylistTotal int       `json:"playlist_total,omitempty"`
	OutputPath    string    `json:"output_path,omitempty"`
}

// Task is one download job. Intent is fixed at creation; runtime state is
// owned by the engine and guarded by mu.
type Task struct {
	ID     string
	Intent Intent

	mu    sync.RWMutex
	state TaskState
}

// NewTask creates a queued task. An empty id is filled in at submission.
func NewTask(id string, intent Intent) *Task {
	return &Task{
		ID:     id,
		Intent: intent,
		state: TaskState{
			Status: StatusQueued,
			Title:  PendingTitle,
		},
	}
}

// Snapshot returns a copy of the runtime state.
func (t *Task) Snapshot() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Status returns the current status
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Status
}

// SetStatus applies a transition. It returns the previous status and whether
// the state changed. Same-state and illegal transitions are ignored.
func (t *Task) SetStatus(to Status, now time.Time) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.state.Status
	if from == to || !CanTransition(from, to) {
		return from, false
	}
	t.state.Status = to
	switch {
	case to == StatusDownloading && t.state.StartedAt.IsZero():
		t.state.StartedAt = now
	case to.IsTerminal():
		t.state.CompletedAt = now
		t.state.Speed = 0
		t.state.ETA = 0
		if to == StatusCompleted {
			t.state.Progress = 100
			if t.state.Total > 0 {
				t.state.Downloaded = t.state.Total
			}
		}
	}
	return from, true
}

// Update mutates runtime state unless the task is terminal.
func (t *Task) Update(fn func(s *TaskState)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status.IsTerminal() {
		return false
	}
	status := t.state.Status
	fn(&t.state)
	t.state.Status = status // status only moves through SetStatus
	return true
}

// Fail records an error message and moves the task to failed.
func (t *Task) Fail(msg string, now time.Time) (Status, bool) {
	t.Update(func(s *TaskState) { s.Error = msg })
	return t.SetStatus(StatusFailed, now)
}
