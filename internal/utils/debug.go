package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	debugMu   sync.Mutex
	debugDir  string
	debugFile *os.File
	debugOnce sync.Once
)

const logPrefix = "debug-"

// ConfigureDebug sets the directory where this run's log file is created.
// Until it is called, Debug discards its output.
func ConfigureDebug(dir string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugDir = dir
}

// Debug writes a message to this run's log file
func Debug(format string, args ...any) {
	// add timestamp to each debug message
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	debugMu.Lock()
	defer debugMu.Unlock()
	if debugDir == "" {
		return
	}
	debugOnce.Do(func() {
		name := fmt.Sprintf("%s%s.log", logPrefix, time.Now().Format("20060102-150405"))
		debugFile, _ = os.Create(filepath.Join(debugDir, name))
	})
	if debugFile != nil {
		fmt.Fprintf(debugFile, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
		debugFile.Sync() // Flush immediately
	}
}

// CleanupLogs keeps the newest keep log files in the configured directory.
func CleanupLogs(keep int) {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()
	if dir == "" || keep < 0 {
		return
	}
	for _, path := range staleLogs(dir, keep) {
		_ = os.Remove(path)
	}
}

// staleLogs lists log files beyond the newest keep, oldest last.
// File names embed a sortable timestamp.
func staleLogs(dir string, keep int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var logs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), logPrefix) || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		logs = append(logs, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(logs)))
	if len(logs) <= keep {
		return nil
	}
	var stale []string
	for _, name := range logs[keep:] {
		stale = append(stale, filepath.Join(dir, name))
	}
	return stale
}
