package utils

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count with binary units, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// FormatSpeed renders a transfer rate in bytes per second.
func FormatSpeed(bps float64) string {
	if bps <= 0 || math.IsNaN(bps) || math.IsInf(bps, 0) {
		return "-- /s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

// FormatETA renders remaining seconds as m:ss or h:mm:ss.
func FormatETA(seconds int64) string {
	if seconds <= 0 {
		return "--:--"
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatDuration renders a media length as "3m 12s" or "1h 2m 3s".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "Unknown"
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// FormatCount renders a view or like count compactly, e.g. "1.2M".
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	}
	return humanize.Comma(n)
}
