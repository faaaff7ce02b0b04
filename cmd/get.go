package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/core"
	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

var getCmd = &cobra.Command{
	Use:   "get [url]...",
	Short: "Download videos in the foreground",
	Long: `get downloads one or more URLs with this process and shows progress until
every download has finished. Ctrl+C cancels all downloads.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		fromClipboard, _ := cmd.Flags().GetBool("clipboard")

		urls, err := collectURLs(args, batchFile, fromClipboard)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			return errors.New("no URLs given (pass URLs, --batch or --clipboard)")
		}

		settings := loadSettings()
		intents, err := buildIntents(cmd, settings, urls, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		service, err := newLocalService(settings)
		if err != nil {
			return err
		}
		defer func() {
			if err := service.Shutdown(); err != nil {
				utils.Debug("Shutdown: %v", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		failed, err := runDownloads(ctx, service, settings, intents, newPrinter(cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d downloads did not complete", failed, len(intents))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	getCmd.Flags().Bool("clipboard", false, "Download the URL currently in the clipboard")
	addIntentFlags(getCmd)
}

// buildIntents turns URLs into intents. URLs that do not look like video
// links are passed on with a warning.
func buildIntents(cmd *cobra.Command, settings *config.Settings, urls []string, warn io.Writer) ([]types.Intent, error) {
	intents := make([]types.Intent, 0, len(urls))
	for _, u := range urls {
		if !utils.IsValidVideoURL(u) {
			fmt.Fprintln(warn, warningStyle.Render("Warning: "+u+" is not a recognised video URL, trying anyway"))
		}
		in, err := intentFromFlags(cmd, settings, u)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, nil
}

// runDownloads queues intents and blocks until each queued task has reported
// its final progress. Canceling ctx cancels every task. It returns the number of
// downloads that did not complete.
func runDownloads(ctx context.Context, service core.DownloadService, settings *config.Settings, intents []types.Intent, p *printer) (int, error) {
	stream, cleanup, err := service.StreamEvents(context.Background())
	if err != nil {
		return 0, err
	}
	defer cleanup()

	failed := 0
	pending := make(map[string]bool, len(intents))
	for _, in := range intents {
		if settings.General.CheckDiskSpace {
			if err := checkSpace(ctx, service, in); err != nil {
				p.line(errorStyle.Render(err.Error()))
				failed++
				continue
			}
		}
		id, err := service.Add(in)
		if err != nil {
			p.line(errorStyle.Render(fmt.Sprintf("Error adding %s: %v", in.URL, err)))
			failed++
			continue
		}
		pending[id] = true
	}

	done := ctx.Done()
	for len(pending) > 0 {
		select {
		case <-done:
			done = nil
			p.line(warningStyle.Render("Interrupted, canceling downloads..."))
			if _, err := service.CancelAll(); err != nil {
				utils.Debug("CancelAll: %v", err)
			}
		case msg, ok := <-stream:
			if !ok {
				return failed + len(pending), errors.New("event stream closed")
			}
			p.print(msg)
			// The final progress message follows the terminal status and
			// carries the saved path
			fin, ok := msg.(events.TaskProgressMsg)
			if !ok || !fin.Final || !pending[fin.TaskID] {
				continue
			}
			delete(pending, fin.TaskID)
			if fin.Status != types.StatusCompleted {
				failed++
			}
		}
	}
	return failed, nil
}

// checkSpace refuses an intent whose estimated size does not fit in its
// output directory. Metadata lookup failures let the download proceed.
func checkSpace(ctx context.Context, service core.DownloadService, in types.Intent) error {
	info, err := service.Analyze(ctx, in.URL)
	if err != nil {
		utils.Debug("Space check skipped for %s: %v", in.URL, err)
		return nil
	}
	if !utils.HasEnoughSpace(in.OutputDir, info.FilesizeApprox) {
		return fmt.Errorf("not enough free space in %s for %s (~%s)", in.OutputDir, in.URL, utils.FormatBytes(info.FilesizeApprox))
	}
	return nil
}

// printer writes rendered events. On a terminal, intermediate progress is
// redrawn in place; otherwise only final progress lines are written.
type printer struct {
	out      io.Writer
	live     bool
	progress bool // last write was an in-place progress line
}

func newPrinter(out io.Writer) *printer {
	live := false
	if f, ok := out.(*os.File); ok {
		live = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{out: out, live: live}
}

func (p *printer) line(s string) {
	if p.progress {
		fmt.Fprint(p.out, "\r\033[K")
		p.progress = false
	}
	fmt.Fprintln(p.out, s)
}

func (p *printer) print(msg any) {
	switch m := msg.(type) {
	case events.TaskProgressMsg:
		if !m.Final {
			if p.live {
				fmt.Fprint(p.out, "\r\033[K"+renderProgress(m))
				p.progress = true
			}
			return
		}
		if m.Status == types.StatusCompleted && m.OutputPath != "" {
			p.line(fmt.Sprintf("%s %s %s", idStyle.Render("["+shortID(m.TaskID)+"]"), successStyle.Render("Saved"), m.OutputPath))
		}
	case events.TaskLogMsg:
		// Status changes already cover info lines
		if m.Level == events.LevelInfo {
			utils.Debug("[%s] %s", m.TaskID, m.Message)
			return
		}
		p.line(renderEvent(m))
	default:
		if s := renderEvent(msg); s != "" {
			p.line(s)
		}
	}
}
