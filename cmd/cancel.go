package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]...",
	Short: "Cancel downloads on the running tubeq server",
	Long:  `cancel stops downloads by id. Any unique id prefix works.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("pass at least one download id, or --all")
		}

		service, err := connectRemote()
		if err != nil {
			return err
		}
		defer func() { _ = service.Shutdown() }()

		out := cmd.OutOrStdout()
		if all {
			n, err := service.CancelAll()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Canceled %d downloads\n", n)
			return nil
		}

		var failed error
		for _, arg := range args {
			id, err := resolveDownloadID(service, arg)
			if err == nil {
				err = service.Cancel(id)
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(fmt.Sprintf("Error canceling %s: %v", arg, err)))
				failed = errors.Join(failed, err)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", idStyle.Render("["+shortID(id)+"]"), warningStyle.Render("Cancel requested"))
		}
		return failed
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	cancelCmd.Flags().Bool("all", false, "Cancel every download")
}
