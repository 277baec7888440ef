package commands

import (
	"context"
	"fmt"
	"os"

	"atsumare/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "atsumare [--datomatic] [--tosec] [--redump] <output>",
	Short: "atsumare downloads the latest DAT files from DAT-o-Matic, TOSEC and Redump.",
	Long: `atsumare downloads the latest DAT files from DAT-o-Matic, TOSEC and Redump
into the output directory.

Logins are read from ATSUMARE_DOM_USER / ATSUMARE_DOM_PASS (DAT-o-Matic) and
ATSUMARE_REDUMP_USER / ATSUMARE_REDUMP_PASS (Redump), or from atsumare.json5.
Sources without a login are downloaded anonymously.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
	RunE: runFetch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file, atsumare.json5 is searched for from the working directory upwards by default.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug information.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
