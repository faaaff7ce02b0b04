package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List downloads on the running tubeq server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		prune, _ := cmd.Flags().GetBool("prune")

		service, err := connectRemote()
		if err != nil {
			return err
		}
		defer func() { _ = service.Shutdown() }()

		out := cmd.OutOrStdout()
		if prune {
			n, err := service.Prune()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d finished downloads.\n", n)
			return nil
		}

		tasks, err := service.List()
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		}
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No downloads.")
			return nil
		}
		fmt.Fprintln(out, renderTasks(tasks))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "Print the list as JSON")
	lsCmd.Flags().Bool("prune", false, "Forget finished downloads instead of listing")
}
