package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/core"
	"github.com/tubeq/tubeq/internal/engine"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/history"
	"github.com/tubeq/tubeq/internal/testutil"
)

// testSettings returns defaults that download into a temp dir and skip the
// free space lookup.
func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.DefaultSettings()
	s.General.DefaultDownloadDir = t.TempDir()
	s.General.CheckDiskSpace = false
	return s
}

// newTestService wires a fake extractor to a temp history store.
func newTestService(t *testing.T, x *testutil.FakeExtractor, settings *config.Settings) *core.LocalDownloadService {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	e := engine.New(x, engine.Options{Runtime: &types.RuntimeConfig{MaxConcurrentDownloads: 2}})
	svc := core.NewLocalDownloadService(e, store, settings)
	svc.OpenFolder = nil
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc
}
