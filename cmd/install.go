package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/engine/ytdlp"
	"github.com/tubeq/tubeq/internal/utils"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download or update the yt-dlp binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		path, version, err := ytdlp.Install(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s yt-dlp %s at %s\n", successStyle.Render("Ready:"), version, path)

		if ff := utils.FFmpegPath(); ff != "" {
			fmt.Fprintf(out, "%s ffmpeg at %s\n", successStyle.Render("Ready:"), ff)
		} else {
			fmt.Fprintln(out, warningStyle.Render("Warning: ffmpeg not found on PATH; merging, audio extraction and embedding will fail"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
