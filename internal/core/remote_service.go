package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

// RemoteDownloadService implements DownloadService for a remote daemon.
type RemoteDownloadService struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	SSEClient *http.Client
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRemoteDownloadService creates a new remote service instance.
func NewRemoteDownloadService(baseURL string, token string) *RemoteDownloadService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteDownloadService{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Client:    &http.Client{Timeout: 30 * time.Second},
		SSEClient: &http.Client{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *RemoteDownloadService) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return resp, nil
}

// getJSON performs a request and decodes the JSON response into out.
func (s *RemoteDownloadService) getJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := s.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// List returns the status of all tasks known to the daemon.
func (s *RemoteDownloadService) List() ([]types.TaskView, error) {
	var statuses []types.TaskView
	if err := s.getJSON(s.ctx, http.MethodGet, "/list", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// History returns finished downloads matching query.
func (s *RemoteDownloadService) History(query string) ([]types.HistoryEntry, error) {
	path := "/history"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var history []types.HistoryEntry
	if err := s.getJSON(s.ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// GetStatus returns a status for a single download by id.
func (s *RemoteDownloadService) GetStatus(id string) (*types.TaskView, error) {
	var status types.TaskView
	if err := s.getJSON(s.ctx, http.MethodGet, "/status?id="+url.QueryEscape(id), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Add queues a new download.
func (s *RemoteDownloadService) Add(intent types.Intent) (string, error) {
	var result map[string]string
	if err := s.getJSON(s.ctx, http.MethodPost, "/download", intent, &result); err != nil {
		return "", err
	}
	return result["id"], nil
}

// Cancel signals a task to stop.
func (s *RemoteDownloadService) Cancel(id string) error {
	return s.getJSON(s.ctx, http.MethodPost, "/cancel?id="+url.QueryEscape(id), nil, nil)
}

// CancelAll signals every live task.
func (s *RemoteDownloadService) CancelAll() (int, error) {
	var result struct {
		Canceled int `json:"canceled"`
	}
	if err := s.getJSON(s.ctx, http.MethodPost, "/cancel-all", nil, &result); err != nil {
		return 0, err
	}
	return result.Canceled, nil
}

// Prune asks the daemon to forget finished tasks.
func (s *RemoteDownloadService) Prune() (int, error) {
	var result struct {
		Pruned int `json:"pruned"`
	}
	if err := s.getJSON(s.ctx, http.MethodPost, "/prune", nil, &result); err != nil {
		return 0, err
	}
	return result.Pruned, nil
}

// Analyze asks the daemon for metadata about url.
func (s *RemoteDownloadService) Analyze(ctx context.Context, rawURL string) (*types.VideoInfo, error) {
	if ctx == nil {
		ctx = s.ctx
	}
	var info types.VideoInfo
	if err := s.getJSON(ctx, http.MethodPost, "/analyze", map[string]string{"url": rawURL}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Shutdown stops the service.
func (s *RemoteDownloadService) Shutdown() error {
	s.cancel()
	return nil
}

// StreamEvents returns a channel that receives real-time download events via SSE.
func (s *RemoteDownloadService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan any, 100)
	go s.streamWithReconnect(ctx, ch)
	return ch, cancel, nil
}

// Publish emits an event into the service's event stream.
// Remote services do not accept client-side event injection.
func (s *RemoteDownloadService) Publish(msg any) error {
	return fmt.Errorf("publish not supported for remote service")
}

func (s *RemoteDownloadService) streamWithReconnect(ctx context.Context, ch chan any) {
	defer close(ch)
	backoff := 1 * time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectSSE(ctx, ch)
		if err == nil {
			return
		}
		utils.Debug("event stream disconnected: %v", err)

		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *RemoteDownloadService) connectSSE(ctx context.Context, ch chan any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/events", nil)
	if err != nil {
		return err
	}

	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := s.SSEClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to connect to event stream: %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		name, data, err := readEvent(reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if name == "" || data == "" {
			continue
		}

		msg, err := events.Decode(name, []byte(data))
		if err != nil {
			utils.Debug("skipping event %q: %v", name, err)
			continue
		}

		if events.Reliable(msg) {
			select {
			case ch <- msg:
			case <-ctx.Done():
				return nil
			}
			continue
		}
		// Intermediate progress is dropped when the consumer lags
		select {
		case ch <- msg:
		default:
		}
	}
}

// readEvent reads one SSE event block. Comments are skipped.
func readEvent(r *bufio.Reader) (string, string, error) {
	eventType := ""
	var dataLines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line dispatches event
		if line == "" {
			return eventType, strings.Join(dataLines, "\n"), nil
		}
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
