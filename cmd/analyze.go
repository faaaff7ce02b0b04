package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Show metadata for a URL without downloading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		cookies, _ := cmd.Flags().GetString("cookies")
		proxy, _ := cmd.Flags().GetString("proxy")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		settings := loadSettings()
		if cookies == "" {
			cookies = settings.Network.CookieFile
		}
		info, err := newEngine(settings).Analyze(ctx, args[0], cookies, proxy)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		printInfo(out, info)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().Bool("json", false, "Print the metadata as JSON")
	analyzeCmd.Flags().String("cookies", "", "Netscape cookie file")
	analyzeCmd.Flags().String("proxy", "", "Proxy URL")
}

func printInfo(out io.Writer, info *types.VideoInfo) {
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), value)
		}
	}

	fmt.Fprintln(out, titleStyle.Render(info.Title))
	row("Uploader", info.Uploader)
	if info.IsPlaylist {
		row("Playlist", fmt.Sprintf("%d items", info.PlaylistCount))
	} else {
		row("Duration", utils.FormatDuration(info.Duration))
	}
	if info.ViewCount > 0 {
		row("Views", utils.FormatCount(info.ViewCount))
	}
	if info.LikeCount > 0 {
		row("Likes", utils.FormatCount(info.LikeCount))
	}
	row("Uploaded", info.UploadDate)
	if info.MaxResolution > 0 {
		quality := fmt.Sprintf("%dp", info.MaxResolution)
		if info.MaxFPS > 0 {
			quality += fmt.Sprintf(" %dfps", info.MaxFPS)
		}
		if info.HasHDR {
			quality += " HDR"
		}
		row("Best", quality)
	}
	if len(info.AvailableResolutions) > 0 {
		res := make([]string, 0, len(info.AvailableResolutions))
		for _, h := range info.AvailableResolutions {
			res = append(res, fmt.Sprintf("%dp", h))
		}
		row("Resolutions", strings.Join(res, ", "))
	}
	if info.FilesizeApprox > 0 {
		row("Size", "~"+utils.FormatBytes(info.FilesizeApprox))
	}
	if info.Error != "" {
		row("Warning", warningStyle.Render(info.Error))
	}
}
