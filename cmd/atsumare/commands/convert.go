package commands

import (
	"fmt"
	"os"

	"atsumare/internal/datfile"

	"github.com/spf13/cobra"
)

var (
	convertHomepage string
	convertOutput   string
)

func init() {
	convertCmd.Flags().StringVar(&convertHomepage, "homepage", "", "The homepage written into the header of the converted datafile.")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Write the converted datafile here instead of stdout.")
	rootCmd.AddCommand(convertCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert <input.dat> [--homepage <homepage>] [-o <output.xml>]",
	Short: "Converts a ClrMamePro datfile into Logiqx XML.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		converted, err := datfile.Convert(string(input), convertHomepage)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		if convertOutput == "" {
			_, err = cmd.OutOrStdout().Write(converted)
			return err
		}
		return os.WriteFile(convertOutput, converted, 0o644)
	},
}
