package commands

import (
	"errors"
	"fmt"
	"time"

	"atsumare/internal/config"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "How many transfers to list, 0 lists all of them.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Lists the most recent transfers recorded in the history database.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, nil)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if !cfg.History.Enabled() {
			return errors.New("no history database is configured, set history.file or history.url in atsumare.json5")
		}

		store, err := cfg.History.Open(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		transfers, err := store.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Completed", "Source", "File", "Size"})
		for _, transfer := range transfers {
			t.AppendRow(table.Row{
				transfer.CompletedAt.Local().Format(time.DateTime),
				transfer.Source,
				transfer.Filename,
				formatBytes(transfer.Bytes),
			})
		}
		t.Render()
		return nil
	},
}
