package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// OpenFolder opens path, or the directory containing it, in the system file manager.
func OpenFolder(path string) error {
	folder := path
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		folder = filepath.Dir(path)
	}
	if fi, err := os.Stat(folder); err != nil || !fi.IsDir() {
		return fmt.Errorf("folder not found: %s", folder)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", folder)
	case "darwin":
		cmd = exec.Command("open", folder)
	default:
		cmd = exec.Command("xdg-open", folder)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", folder, err)
	}
	go cmd.Wait()
	return nil
}

// FFmpegPath returns the ffmpeg binary on PATH, or "".
func FFmpegPath() string {
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ""
	}
	return p
}
