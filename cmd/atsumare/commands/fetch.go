package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"atsumare/internal/components/restyutil"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/config"
	"atsumare/internal/scrapers/nointro"
	"atsumare/internal/scrapers/redump"
	"atsumare/internal/scrapers/tosec"
	"atsumare/internal/transfer"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	fetchNoIntro bool
	fetchTosec   bool
	fetchRedump  bool
	keepGoing    bool
	dumpHttp     string
)

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&fetchNoIntro, "datomatic", false, "Download DATs from DAT-o-Matic.")
	flags.BoolVar(&fetchTosec, "tosec", false, "Download DATs from TOSEC.")
	flags.BoolVar(&fetchRedump, "redump", false, "Download DATs from Redump.")
	flags.BoolVar(&keepGoing, "keep-going", false, "Continue with the next source when one fails.")
	flags.StringVar(&dumpHttp, "dump-http", "", "Write every http request and response to this directory.")
	rootCmd.MarkFlagsOneRequired("datomatic", "tosec", "redump")
}

// buildJobs creates the selected sources in the order they always run in:
// DAT-o-Matic, TOSEC, Redump.
func buildJobs(cfg config.Config, httpOpts restyutil.Options, tel telemetry.API) ([]transfer.Job, error) {
	var jobs []transfer.Job

	if fetchNoIntro {
		client, err := nointro.NewClient(nointro.Options{
			Throttle: cfg.NoIntro.Throttle(),
			Http:     httpOpts,
		}, tel)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, transfer.Job{Source: client, Credentials: cfg.NoIntro.Credentials()})
	}

	if fetchTosec {
		client := tosec.NewClient(tosec.Options{
			Url:  cfg.Tosec.Url,
			Http: httpOpts,
		}, tel)
		jobs = append(jobs, transfer.Job{Source: client})
	}

	if fetchRedump {
		client, err := redump.NewClient(redump.Options{
			Throttle: cfg.Redump.Throttle(),
			Http:     httpOpts,
		}, tel)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, transfer.Job{Source: client, Credentials: cfg.Redump.Credentials()})
	}

	return jobs, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	output := cfg.Output
	if len(args) > 0 {
		output = args[0]
	}
	if output == "" {
		return errors.New("an output directory is required")
	}
	err = os.MkdirAll(output, 0o755)
	if err != nil {
		return err
	}

	otel, err := telemetry.Setup(ctx, "atsumare", cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to flush telemetry", "err", err.Error())
		}
	}()

	tel := telemetry.SlogAPI{}

	httpOpts := cfg.Http.Options()
	if dumpHttp != "" {
		out, err := telemetry.NewDirectoryOutput(dumpHttp)
		if err != nil {
			return err
		}
		httpOpts.Dump = out
	}

	jobs, err := buildJobs(cfg, httpOpts, tel)
	if err != nil {
		return err
	}

	opts := transfer.Options{
		Output:    output,
		KeepGoing: keepGoing,
	}
	if cfg.History.Enabled() {
		store, err := cfg.History.Open(ctx)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		opts.History = store
	}

	bars := newProgress(os.Stderr)
	opts.Progress = bars

	runner := transfer.NewRunner(opts, tel)
	results, err := runner.Run(ctx, jobs)
	bars.Stop()

	renderResults(results)
	return err
}

func renderResults(results []transfer.Result) {
	if len(results) == 0 {
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"Source", "File", "Size", "Time"})
	var total uint64
	for _, result := range results {
		t.AppendRow(table.Row{
			result.Source,
			result.Filename,
			formatBytes(result.Bytes),
			result.Duration.Round(time.Millisecond).String(),
		})
		total += result.Bytes
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d files", len(results)), formatBytes(total), ""})
	t.Render()
}

func formatBytes(n uint64) string {
	return progress.UnitsBytes.Sprint(int64(n))
}
