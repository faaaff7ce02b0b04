// Package classify decides whether a finished extractor attempt succeeded,
// failed for good, or may be retried with another format expression.
package classify

import (
	"strings"
	"sync"
)

// Class is the verdict for one attempt.
type Class int

const (
	Retryable Class = iota
	Success
	Permanent
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Permanent:
		return "permanent"
	default:
		return "retryable"
	}
}

// Outcome is what an attempt left behind.
type Outcome struct {
	ExitCode   int
	OutputPath string
	ErrText    string
}

// Default error signatures, matched case-insensitively as substrings
var (
	DefaultPermanent = []string{
		"Video unavailable",
		"Private video",
		"This video is not available",
		"copyright",
		"has been removed",
		"is not available in your country",
	}
	DefaultTransient = []string{
		"HTTP Error 403",
		"HTTP Error 429",
		"HTTP Error 503",
		"urlopen error",
		"timed out",
		"Connection reset",
		"Incomplete data",
		"Got server HTTP error",
	}
)

// Classifier is a table of error signatures. The zero value knows no
// signatures; use New for the defaults. Safe for concurrent use.
type Classifier struct {
	mu        sync.RWMutex
	permanent []string
	transient []string
}

// New returns a classifier seeded with the default signatures.
func New() *Classifier {
	c := &Classifier{}
	c.AddPermanent(DefaultPermanent...)
	c.AddTransient(DefaultTransient...)
	return c
}

// AddPermanent registers signatures that stop the fallback chain.
func (c *Classifier) AddPermanent(markers ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permanent = appendLower(c.permanent, markers)
}

// AddTransient registers signatures known to be worth retrying.
func (c *Classifier) AddTransient(markers ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transient = appendLower(c.transient, markers)
}

func appendLower(dst, markers []string) []string {
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			dst = append(dst, m)
		}
	}
	return dst
}

// Classify returns the verdict for an attempt. A recorded output path counts
// as success even with a nonzero exit code. Permanent signatures are checked
// before transient ones; unmatched text is Retryable.
func (c *Classifier) Classify(o Outcome) Class {
	if o.ExitCode == 0 || o.OutputPath != "" {
		return Success
	}
	if c.IsPermanent(o.ErrText) {
		return Permanent
	}
	return Retryable
}

// IsPermanent reports whether text matches a permanent signature.
func (c *Classifier) IsPermanent(text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matchAny(strings.ToLower(text), c.permanent)
}

// IsTransient reports whether text matches a known transient signature.
func (c *Classifier) IsTransient(text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matchAny(strings.ToLower(text), c.transient)
}

func matchAny(text string, markers []string) bool {
	if text == "" {
		return false
	}
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
