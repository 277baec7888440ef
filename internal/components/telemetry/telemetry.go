package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics, components receive one instead
// of writing to a global logger so that tests can observe what was reported.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that failed in a way that aborts the
	// current operation.
	//
	// The `id` names the component that broke, formatted as
	// `<struct or intf>.<method>` in lowercase with dashes, for example
	// `client.authenticate` or `runner.drain`. Use NewScopedAPI to prefix the
	// package so ids do not need to carry it.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something that does not abort the current
	// operation but should be visible, like a login that fell back to an
	// anonymous session.
	ReportWarning(id string, params ...any)

	// ReportDebug reports information that is only useful while debugging.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current value of a counter, these are points of
	// data over time and should not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI attaches a namespace to every id reported through it, similar to
// the prefix of a sub logger.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
