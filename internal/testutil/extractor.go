package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tubeq/tubeq/internal/engine"
	"github.com/tubeq/tubeq/internal/engine/types"
)

// MP4Header is the start of an ISO base media file, enough for type sniffing.
var MP4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}

// FakeFile is the name FakeExtractor writes into the output directory.
const FakeFile = "clip.mp4"

// FakeExtractor stands in for yt-dlp. Downloads write a small mp4 into the
// output directory. URLs containing "private" fail permanently and URLs
// containing "block" (or every URL when Block is set) run until canceled.
type FakeExtractor struct {
	Block bool
	Info  *types.VideoInfo

	downloads atomic.Int32
}

var _ engine.Extractor = (*FakeExtractor)(nil)

// Downloads returns how many attempts were started
func (f *FakeExtractor) Downloads() int {
	return int(f.downloads.Load())
}

func (f *FakeExtractor) Download(ctx context.Context, req *engine.Request, hooks engine.Hooks) (*engine.Outcome, error) {
	f.downloads.Add(1)
	switch {
	case f.Block || strings.Contains(req.URL, "block"):
		_ = hooks.OnProgress(engine.Progress{Phase: engine.PhaseDownloading, Downloaded: 1, Total: 100})
		<-ctx.Done()
		return &engine.Outcome{ExitCode: -1, ErrText: "interrupted"}, nil
	case strings.Contains(req.URL, "private"):
		return &engine.Outcome{ExitCode: 1, ErrText: "ERROR: [youtube] abc: Private video. Sign in if you've been granted access"}, nil
	}

	out := filepath.Join(req.OutputDir, FakeFile)
	data := append(append([]byte(nil), MP4Header...), make([]byte, 40)...)
	if err := os.WriteFile(out, data, 0644); err != nil {
		return nil, err
	}
	_ = hooks.OnProgress(engine.Progress{Phase: engine.PhaseDownloading, Downloaded: int64(len(data)), Total: int64(len(data))})
	return &engine.Outcome{ExitCode: 0, OutputPath: out}, nil
}

func (f *FakeExtractor) FetchInfo(ctx context.Context, url string, net engine.Network) (*types.VideoInfo, error) {
	if f.Info == nil {
		return nil, errors.New("no info")
	}
	info := *f.Info
	return &info, nil
}
