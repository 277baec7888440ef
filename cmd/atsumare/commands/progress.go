package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"atsumare/internal/scraper"
	"atsumare/internal/transfer"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
)

const progressFrequency = 100 * time.Millisecond

// progressBars renders one tracker per transfer, "<file>: <written> of
// <total>".
type progressBars struct {
	writer progress.Writer
}

func newProgress(w io.Writer) *progressBars {
	pw := progress.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(progressFrequency)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = true
	go pw.Render()
	return &progressBars{writer: pw}
}

func (p *progressBars) Track(source string, res scraper.Resource) transfer.Tracker {
	tracker := &progress.Tracker{
		Message: fmt.Sprintf("%s: %s", source, res.Filename),
		Total:   int64(res.Length),
		Units:   progress.UnitsBytes,
	}
	p.writer.AppendTracker(tracker)
	return barTracker{tracker: tracker}
}

// Stop waits for the final frame to be drawn.
func (p *progressBars) Stop() {
	time.Sleep(progressFrequency)
	p.writer.Stop()
	for p.writer.IsRenderInProgress() {
		time.Sleep(progressFrequency / 10)
	}
}

type barTracker struct {
	tracker *progress.Tracker
}

func (b barTracker) Update(written uint64) {
	b.tracker.SetValue(int64(written))
}

func (b barTracker) Done(err error) {
	if err != nil {
		b.tracker.MarkAsErrored()
		return
	}
	b.tracker.MarkAsDone()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
