package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [url]...",
	Short: "Queue downloads on the running tubeq server",
	Args:  cobra.ArbitraryArgs,
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

		intents, err := buildIntents(cmd, loadSettings(), urls, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		service, err := connectRemote()
		if err != nil {
			return err
		}
		defer func() { _ = service.Shutdown() }()

		out := cmd.OutOrStdout()
		added := 0
		for _, in := range intents {
			id, err := service.Add(in)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(fmt.Sprintf("Error adding %s: %v", in.URL, err)))
				continue
			}
			added++
			fmt.Fprintf(out, "%s %s %s\n", idStyle.Render("["+shortID(id)+"]"), mutedStyle.Render("Queued"), in.URL)
		}
		if added == 0 {
			return errors.New("no downloads were queued")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	addCmd.Flags().Bool("clipboard", false, "Queue the URL currently in the clipboard")
	addIntentFlags(addCmd)
}
