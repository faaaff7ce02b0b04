package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/core"
	"github.com/tubeq/tubeq/internal/utils"
)

func portFile() string {
	return filepath.Join(config.GetRuntimeDir(), "port")
}

// readActivePort reads the port from the port file
func readActivePort() int {
	data, err := os.ReadFile(portFile())
	if err != nil {
		return 0
	}
	var port int
	_, _ = fmt.Sscanf(string(data), "%d", &port)
	return port
}

// saveActivePort records the daemon port for CLI discovery
func saveActivePort(port int) {
	if err := os.WriteFile(portFile(), []byte(fmt.Sprintf("%d", port)), 0o644); err != nil {
		utils.Debug("Error writing port file: %v", err)
	}
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	if err := os.Remove(portFile()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

// readURLsFromFile reads URLs from a file, one per line.
// Blank lines and lines starting with # are skipped.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)

	// Long URLs with tracking parameters overflow the default 64KB line
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxCapacity)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return urls, nil
}

// readClipboard is swapped out in tests.
var readClipboard = clipboard.ReadAll

// collectURLs merges positional args with the batch file and clipboard sources.
func collectURLs(args []string, batchFile string, fromClipboard bool) ([]string, error) {
	var urls []string
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			urls = append(urls, a)
		}
	}

	if batchFile != "" {
		fileURLs, err := readURLsFromFile(batchFile)
		if err != nil {
			return nil, fmt.Errorf("batch file: %w", err)
		}
		urls = append(urls, fileURLs...)
	}

	if fromClipboard {
		text, err := readClipboard()
		if err != nil {
			return nil, fmt.Errorf("read clipboard: %w", err)
		}
		text = strings.TrimSpace(text)
		if !utils.IsValidVideoURL(text) {
			return nil, fmt.Errorf("clipboard does not hold a video URL")
		}
		urls = append(urls, text)
	}

	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out, nil
}

func resolveLocalToken() string {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv("TUBEQ_TOKEN")); token != "" {
		return token
	}
	return ensureAuthToken()
}

func resolveHostTarget() string {
	if host := strings.TrimSpace(globalHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv("TUBEQ_HOST"))
}

// resolveTokenForTarget picks the token for a remote target. The local token
// file is only offered to loopback hosts.
func resolveTokenForTarget(target string) (string, error) {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv("TUBEQ_TOKEN")); token != "" {
		return token, nil
	}
	host := hostnameFromTarget(target)
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if isLoopbackHost(host) {
		return ensureAuthToken(), nil
	}
	return "", errors.New("no token provided. use --token or set TUBEQ_TOKEN")
}

// resolveAPIConnection returns the daemon base URL and token. With
// requireServer false an empty base URL means no daemon is reachable.
func resolveAPIConnection(requireServer bool) (string, string, error) {
	target := resolveHostTarget()
	if target == "" {
		port := readActivePort()
		if port > 0 {
			return fmt.Sprintf("http://127.0.0.1:%d", port), resolveLocalToken(), nil
		}
		if !requireServer {
			return "", "", nil
		}
		return "", "", errors.New("tubeq server is not running locally. start it with 'tubeq server start' or pass --host (or set TUBEQ_HOST)")
	}

	baseURL, err := resolveConnectBaseURL(target, false)
	if err != nil {
		return "", "", err
	}
	token, err := resolveTokenForTarget(target)
	if err != nil {
		return "", "", err
	}
	return baseURL, token, nil
}

// connectRemote returns a client for the daemon, or an error when none is reachable.
func connectRemote() (*core.RemoteDownloadService, error) {
	baseURL, token, err := resolveAPIConnection(true)
	if err != nil {
		return nil, err
	}
	return core.NewRemoteDownloadService(baseURL, token), nil
}

func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid target: missing host")
		}
		if u.Scheme == "http" && !allowInsecureHTTP && !isLoopbackHost(u.Hostname()) {
			return "", fmt.Errorf("refusing insecure HTTP for non-loopback target, use https://")
		}
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
	}

	scheme := "https"
	if isLoopbackHost(hostnameFromTarget(target)) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, target), nil
}

func hostnameFromTarget(target string) string {
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	host := target
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	h := strings.ToLower(host)
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// resolveDownloadID expands a unique id prefix using the daemon's task list.
func resolveDownloadID(service core.DownloadService, partialID string) (string, error) {
	if len(partialID) >= 32 {
		return partialID, nil // Already a full UUID
	}
	tasks, err := service.List()
	if err != nil {
		return "", fmt.Errorf("failed to list downloads: %w", err)
	}
	candidates := make([]string, 0, len(tasks))
	for _, t := range tasks {
		candidates = append(candidates, t.ID)
	}
	return resolveIDFromCandidates(partialID, candidates)
}

func resolveIDFromCandidates(partialID string, candidates []string) (string, error) {
	var matches []string
	seen := make(map[string]bool)

	for _, id := range candidates {
		if strings.HasPrefix(id, partialID) && !seen[id] {
			matches = append(matches, id)
			seen[id] = true
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d downloads", partialID, len(matches))
	}

	return partialID, nil // No match, use as-is (will fail with "not found" later)
}

// shortID trims a task id for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
