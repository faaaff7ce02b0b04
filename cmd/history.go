package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [query]",
	Short: "Show, search, export or clear the download history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		clearAll, _ := cmd.Flags().GetBool("clear")
		export, _ := cmd.Flags().GetString("export")
		asJSON, _ := cmd.Flags().GetBool("json")
		query := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		if resolveHostTarget() != "" {
			if clearAll || export != "" {
				return errors.New("--clear and --export only work on the local history")
			}
			service, err := connectRemote()
			if err != nil {
				return err
			}
			defer func() { _ = service.Shutdown() }()
			entries, err := service.History(query)
			if err != nil {
				return err
			}
			return printHistory(out, entries, limit, asJSON)
		}

		store, err := history.Open(config.GetHistoryPath(), loadSettings().General.HistoryLimit)
		if err != nil {
			return err
		}
		defer store.Close()

		return runHistory(out, store, query, limit, clearAll, export, asJSON)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Show at most n entries (0 for all)")
	historyCmd.Flags().Bool("clear", false, "Delete every history entry")
	historyCmd.Flags().String("export", "", "Write the full history as JSON to a file (- for stdout)")
	historyCmd.Flags().Bool("json", false, "Print entries as JSON")
}

func runHistory(out io.Writer, store *history.Store, query string, limit int, clearAll bool, export string, asJSON bool) error {
	if clearAll {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		fmt.Fprintln(out, "History cleared.")
		return nil
	}

	if export != "" {
		if export == "-" {
			return store.Export(out)
		}
		f, err := os.Create(export)
		if err != nil {
			return fmt.Errorf("export history: %w", err)
		}
		if err := store.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("export history: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(out, "History exported to %s\n", export)
		return nil
	}

	var (
		entries []types.HistoryEntry
		err     error
	)
	if query != "" {
		entries, err = store.Search(query)
	} else {
		entries, err = store.List(limit)
	}
	if err != nil {
		return err
	}
	return printHistory(out, entries, limit, asJSON)
}

func printHistory(out io.Writer, entries []types.HistoryEntry, limit int, asJSON bool) error {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if asJSON {
		if entries == nil {
			entries = []types.HistoryEntry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	fmt.Fprintln(out, renderHistory(entries))
	return nil
}
