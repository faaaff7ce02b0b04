package cmd

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/core"
	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

// sseKeepAlive is the interval of comment lines sent on idle event streams.
const sseKeepAlive = 15 * time.Second

// sseWriteTimeout bounds each write to an event stream client.
const sseWriteTimeout = 10 * time.Second

// apiHandler serves the daemon's control API on top of a DownloadService.
type apiHandler struct {
	service  core.DownloadService
	settings *config.Settings
	port     int
}

// newHTTPHandler returns the full API with CORS and bearer auth applied.
// An empty token disables auth.
func newHTTPHandler(service core.DownloadService, settings *config.Settings, port int, token string) http.Handler {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	h := &apiHandler{service: service, settings: settings, port: port}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/download", h.handleDownload)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/cancel", h.handleCancel)
	mux.HandleFunc("/cancel-all", h.handleCancelAll)
	mux.HandleFunc("/prune", h.handlePrune)
	mux.HandleFunc("/list", h.handleList)
	mux.HandleFunc("/history", h.handleHistory)
	mux.HandleFunc("/analyze", h.handleAnalyze)
	mux.HandleFunc("/events", h.handleEvents)

	return corsMiddleware(authMiddleware(token, mux))
}

// startHTTPServer serves the API on ln until the returned server is shut down.
func startHTTPServer(ln net.Listener, handler http.Handler) *http.Server {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Debug("HTTP server error: %v", err)
		}
	}()
	return server
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires "Authorization: Bearer <token>" on everything but /health.
func authMiddleware(token string, next http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("Failed to encode response: %v", err)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *apiHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"port":    h.port,
		"version": Version,
	})
}

// handleDownload answers GET with a task status and queues a task on POST.
// The POST body is an intent; omitted fields take the daemon's defaults.
func (h *apiHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.handleStatus(w, r)
		return
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	defer r.Body.Close()

	intent := types.NewIntent(h.settings, "")
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	intent.URL = strings.TrimSpace(intent.URL)
	if intent.URL == "" {
		http.Error(w, "URL is required", http.StatusBadRequest)
		return
	}
	if strings.Contains(intent.OutputDir, "..") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	utils.Debug("Received download request: URL=%s, Path=%s", intent.URL, intent.OutputDir)

	id, err := h.service.Add(intent)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "queued",
		"message": "Download queued successfully",
		"id":      id,
	})
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}
	status, err := h.service.GetStatus(id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *apiHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}
	if err := h.service.Cancel(id); err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled", "id": id})
}

func (h *apiHandler) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	n, err := h.service.CancelAll()
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}

func (h *apiHandler) handlePrune(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	n, err := h.service.Prune()
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

func (h *apiHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	statuses, err := h.service.List()
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if statuses == nil {
		statuses = []types.TaskView{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *apiHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	entries, err := h.service.History(r.URL.Query().Get("q"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *apiHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	defer r.Body.Close()

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "URL is required", http.StatusBadRequest)
		return
	}
	info, err := h.service.Analyze(r.Context(), req.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEvents streams bus messages as server-sent events named after
// their message type.
func (h *apiHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, cleanup, err := h.service.StreamEvents(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// A client that stops reading is cut off instead of holding the handler
	rc := http.NewResponseController(w)
	send := func(format string, args ...any) bool {
		_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(": connected\n\n") {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send(": ping\n\n") {
				return
			}
		case msg, ok := <-stream:
			if !ok {
				return
			}
			name := events.Name(msg)
			if name == "" {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				utils.Debug("Failed to encode %s event: %v", name, err)
				continue
			}
			if !send("event: %s\ndata: %s\n\n", name, data) {
				return
			}
		}
	}
}

func (h *apiHandler) serviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
