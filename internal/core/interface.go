package core

import (
	"context"
	"errors"

	"github.com/tubeq/tubeq/internal/engine/types"
)

// ErrNotFound is returned for task ids the service does not know.
var ErrNotFound = errors.New("download not found")

// DownloadService defines the interface for interacting with the download engine.
// This abstraction allows the CLI to switch between a local embedded backend
// and a remote daemon connection.
type DownloadService interface {
	// List returns the status of all tasks known to the engine.
	List() ([]types.TaskView, error)

	// History returns finished downloads whose title or URL contains query.
	History(query string) ([]types.HistoryEntry, error)

	// Add queues a new download and returns its id.
	Add(intent types.Intent) (string, error)

	// Cancel signals a task to stop. Finished tasks are left alone.
	Cancel(id string) error

	// CancelAll signals every live task and returns how many were signaled.
	CancelAll() (int, error)

	// Prune forgets finished tasks and returns how many were dropped.
	Prune() (int, error)

	// GetStatus returns a status for a single download by id.
	GetStatus(id string) (*types.TaskView, error)

	// Analyze fetches metadata for a URL without downloading it.
	Analyze(ctx context.Context, url string) (*types.VideoInfo, error)

	// StreamEvents returns a channel that receives real-time download events.
	// For local mode, this is a bus subscription.
	// For remote mode, this is sourced from SSE.
	StreamEvents(ctx context.Context) (<-chan any, func(), error)

	// Publish emits an event into the service's event stream.
	Publish(msg any) error

	// Shutdown cancels outstanding work and releases resources.
	Shutdown() error
}
