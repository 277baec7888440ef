package telemetry

import "sync"

// Report is a single call made on a Recorder.
type Report struct {
	Kind   string
	Id     string
	Params []any
}

// Recorder is an API that keeps every report in memory, it is meant for tests
// that assert on what a component reported.
type Recorder struct {
	mutex   sync.Mutex
	reports []Report
}

func (r *Recorder) push(kind, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, Id: id, Params: params})
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.push("broken", id, params)
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.push("warning", id, params)
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.push("debug", msg, params)
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.push("count", id, []any{count})
}

// Reports returns the recorded reports of the given kind ("broken",
// "warning", "debug" or "count").
func (r *Recorder) Reports(kind string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, report := range r.reports {
		if report.Kind == kind {
			out = append(out, report)
		}
	}
	return out
}
