package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tubeq/tubeq/internal/engine/types"
)

// Log levels carried by TaskLogMsg
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
	LevelSuccess = "SUCCESS"
)

// TaskQueuedMsg is sent once when a task is accepted by the engine
type TaskQueuedMsg struct {
	TaskID string
	URL    string
	Title  string
}

// TaskStatusMsg reports one state machine transition
type TaskStatusMsg struct {
	TaskID string
	Title  string
	From   types.Status
	To     types.Status
	Err    error
}

func (m TaskStatusMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		TaskID string       `json:"TaskID"`
		Title  string       `json:"Title,omitempty"`
		From   types.Status `json:"From"`
		To     types.Status `json:"To"`
		Err    string       `json:"Err,omitempty"`
	}

	out := encoded{
		TaskID: m.TaskID,
		Title:  m.Title,
		From:   m.From,
		To:     m.To,
	}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}

	return json.Marshal(out)
}

func (m *TaskStatusMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		TaskID string          `json:"TaskID"`
		Title  string          `json:"Title"`
		From   types.Status    `json:"From"`
		To     types.Status    `json:"To"`
		Err    json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.TaskID = aux.TaskID
	m.Title = aux.Title
	m.From = aux.From
	m.To = aux.To
	m.Err = nil

	if len(aux.Err) == 0 {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Err, &errStr); err == nil {
		if errStr != "" {
			m.Err = errors.New(errStr)
		}
		return nil
	}

	// Accept non-string payloads (e.g. {})
	raw := string(aux.Err)
	if raw != "" && raw != "null" {
		m.Err = errors.New(raw)
	}
	return nil
}

// TaskProgressMsg is a throttled progress snapshot. Final is set on the
// last message of a task, which is never dropped.
type TaskProgressMsg struct {
	TaskID        string
	Title         string
	Status        types.Status
	Progress      float64 // 0-100
	Speed         float64 // bytes per second
	ETA           int64   // seconds
	Downloaded    int64
	Total         int64
	Retries       int
	PlaylistIndex int
	PlaylistTotal int
	OutputPath    string
	Final         bool
}

// TaskLogMsg is a human readable line attached to a task
type TaskLogMsg struct {
	TaskID  string
	Level   string
	Message string
	Time    time.Time
}

// ProgressFromTask builds a progress message from a task snapshot.
func ProgressFromTask(t *types.Task, final bool) TaskProgressMsg {
	s := t.Snapshot()
	return TaskProgressMsg{
		TaskID:        t.ID,
		Title:         s.Title,
		Status:        s.Status,
		Progress:      s.Progress,
		Speed:         s.Speed,
		ETA:           s.ETA,
		Downloaded:    s.Downloaded,
		Total:         s.Total,
		Retries:       s.Retries,
		PlaylistIndex: s.PlaylistIndex,
		PlaylistTotal: s.PlaylistTotal,
		OutputPath:    s.OutputPath,
		Final:         final,
	}
}

// Reliable reports whether msg must reach every subscriber. Only
// intermediate progress messages may be coalesced.
func Reliable(msg any) bool {
	if p, ok := msg.(TaskProgressMsg); ok {
		return p.Final
	}
	return true
}

// Event names used on the wire (SSE "event:" field)
const (
	NameQueued   = "queued"
	NameStatus   = "status"
	NameProgress = "progress"
	NameLog      = "log"
)

// Name returns the wire name of a message, or "" for unknown types.
func Name(msg any) string {
	switch msg.(type) {
	case TaskQueuedMsg:
		return NameQueued
	case TaskStatusMsg:
		return NameStatus
	case TaskProgressMsg:
		return NameProgress
	case TaskLogMsg:
		return NameLog
	}
	return ""
}

// Decode parses a wire event back into its message type.
func Decode(name string, data []byte) (any, error) {
	switch name {
	case NameQueued:
		var m TaskQueuedMsg
		err := json.Unmarshal(data, &m)
		return m, err
	case NameStatus:
		var m TaskStatusMsg
		err := json.Unmarshal(data, &m)
		return m, err
	case NameProgress:
		var m TaskProgressMsg
		err := json.Unmarshal(data, &m)
		return m, err
	case NameLog:
		var m TaskLogMsg
		err := json.Unmarshal(data, &m)
		return m, err
	}
	return nil, fmt.Errorf("unknown event %q", name)
}
