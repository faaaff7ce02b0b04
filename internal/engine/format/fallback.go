package format

import "slices"

// FallbackTable lists the format expressions tried after the primary
// selection fails, most specific first.
type FallbackTable struct {
	Video []string
	Audio []string
}

// DefaultFallbacks returns the stock fallback chains.
func DefaultFallbacks() FallbackTable {
	return FallbackTable{
		Video: []string{
			MaximumChain,
			"bestvideo+bestaudio/best",
			"best[height>=1080]/best[height>=720]/best",
			"best",
		},
		Audio: []string{
			"bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best",
			"bestaudio/best",
			"best",
		},
	}
}

// For returns a copy of the chain for the given media kind.
func (t FallbackTable) For(isAudio bool) []string {
	if isAudio {
		return slices.Clone(t.Audio)
	}
	return slices.Clone(t.Video)
}

// FallbacksFor returns the stock chain for the given media kind.
func FallbacksFor(isAudio bool) []string {
	return DefaultFallbacks().For(isAudio)
}

// Attempts returns the primary expression followed by the fallback chain.
// A fallback equal to the primary is kept; transient failures often clear on retry.
func (t FallbackTable) Attempts(primary string, isAudio bool) []string {
	return append([]string{primary}, t.For(isAudio)...)
}
