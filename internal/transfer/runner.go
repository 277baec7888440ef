// Package transfer drives sources through authentication, discovery and
// download, writing every fetched resource to the output directory.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atsumare/internal/components/assert"
	"atsumare/internal/components/chrono"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/history"
	"atsumare/internal/scraper"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("atsumare.transfer")
var meter = otel.Meter("atsumare.transfer")

var transferredBytes, _ = meter.Int64Counter(
	"atsumare.transfer.bytes",
	metric.WithUnit("By"),
	metric.WithDescription("bytes written to the output directory"),
)

const (
	report_runner_authenticate = "runner.authenticate"
	report_runner_record       = "runner.record"
	report_runner_run          = "runner.run"
)

// Job is one source to run. Credentials is nil for an anonymous run.
type Job struct {
	Source      scraper.Source
	Credentials *scraper.Credentials
}

// Tracker follows a single transfer.
type Tracker interface {
	Update(written uint64)
	Done(err error)
}

// Progress creates a Tracker for every transfer that starts.
type Progress interface {
	Track(source string, res scraper.Resource) Tracker
}

// HistoryRecorder is implemented by *history.Store.
type HistoryRecorder interface {
	Record(ctx context.Context, t history.Transfer) error
}

var _ HistoryRecorder = (*history.Store)(nil)

// Result describes a completed transfer.
type Result struct {
	Source   string
	Filename string
	Path     string
	Bytes    uint64
	Duration time.Duration
}

type Options struct {
	// Output is the directory every resource is written to, it must exist.
	Output string
	// KeepGoing runs the remaining jobs after one fails, all failures are
	// returned joined together.
	KeepGoing bool
	Clock     chrono.API
	Progress  Progress
	History   HistoryRecorder
}

type Runner struct {
	output    string
	keepGoing bool
	clock     chrono.API
	progress  Progress
	history   HistoryRecorder
	tel       telemetry.API
}

func NewRunner(opts Options, tel telemetry.API) *Runner {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.Output)

	if opts.Clock == nil {
		opts.Clock = chrono.StandardImpl{}
	}
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}

	return &Runner{
		output:    opts.Output,
		keepGoing: opts.KeepGoing,
		clock:     opts.Clock,
		progress:  opts.Progress,
		history:   opts.History,
		tel:       telemetry.NewScopedAPI("transfer", tel),
	}
}

// Run runs jobs in order. The results of the transfers that completed are
// returned even when an error is.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	var results []Result
	var errlist []error
	for _, job := range jobs {
		jobResults, err := r.runJob(ctx, job)
		results = append(results, jobResults...)
		if err == nil {
			continue
		}
		r.tel.ReportBroken(report_runner_run, err)
		if !r.keepGoing || ctx.Err() != nil {
			return results, err
		}
		errlist = append(errlist, err)
	}
	return results, errors.Join(errlist...)
}

func (r *Runner) runJob(ctx context.Context, job Job) ([]Result, error) {
	name := job.Source.Name()

	ctx, span := tracer.Start(ctx, "source")
	span.SetAttributes(attribute.String("source", name))
	defer span.End()

	fail := func(stage scraper.Stage, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &scraper.StageError{Source: name, Stage: stage, Err: err}
	}

	var session scraper.Session
	if job.Credentials != nil {
		authenticated, err := job.Source.Authenticate(ctx, *job.Credentials)
		if err != nil {
			// the source still serves its public content
			r.tel.ReportWarning(
				report_runner_authenticate,
				fmt.Sprintf("%s: continuing anonymously", name),
				err,
			)
		} else {
			session = authenticated
			r.tel.ReportDebug("logged in", name, job.Credentials.Username)
		}
	}

	targets, err := job.Source.Locate(ctx, session)
	if err != nil {
		return nil, fail(scraper.StageLocate, err)
	}
	r.tel.ReportDebug("located targets", name, len(targets))

	var results []Result
	for i, target := range targets {
		result, stage, err := r.transfer(ctx, job.Source, target, session)
		if err != nil {
			return results, fail(stage, err)
		}
		results = append(results, result)

		if i == len(targets)-1 {
			break
		}
		throttle := job.Source.Throttle()
		if throttle > 0 {
			r.tel.ReportDebug("waiting to avoid throttling", name, throttle.String())
		}
		err = r.clock.Sleep(ctx, throttle)
		if err != nil {
			return results, fail(scraper.StageTransfer, err)
		}
	}

	return results, nil
}

func (r *Runner) transfer(ctx context.Context, source scraper.Source, target scraper.Target, session scraper.Session) (Result, scraper.Stage, error) {
	ctx, span := tracer.Start(ctx, "target")
	span.SetAttributes(
		attribute.String("source", source.Name()),
		attribute.String("target", target.Name),
		attribute.String("url", target.Url),
	)
	defer span.End()

	res, err := source.Fetch(ctx, target, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, scraper.StageFetch, err
	}
	span.SetAttributes(attribute.String("filename", res.Filename))

	start := r.clock.Now()
	tracker := r.progress.Track(source.Name(), res)
	path, written, err := Drain(ctx, res, r.output, tracker.Update)
	tracker.Done(err)
	transferredBytes.Add(ctx, int64(written), metric.WithAttributes(attribute.String("source", source.Name())))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, scraper.StageTransfer, err
	}

	result := Result{
		Source:   source.Name(),
		Filename: res.Filename,
		Path:     path,
		Bytes:    written,
		Duration: r.clock.Now().Sub(start),
	}
	r.tel.ReportCount("runner.written", int64(written))

	if r.history != nil {
		err := r.history.Record(ctx, history.Transfer{
			Source:      result.Source,
			Filename:    result.Filename,
			Path:        result.Path,
			Bytes:       result.Bytes,
			CompletedAt: r.clock.Now(),
		})
		if err != nil {
			r.tel.ReportWarning(report_runner_record, err)
		}
	}

	return result, "", nil
}

type nopProgress struct{}

func (nopProgress) Track(string, scraper.Resource) Tracker {
	return nopTracker{}
}

type nopTracker struct{}

func (nopTracker) Update(uint64) {}
func (nopTracker) Done(error)    {}
