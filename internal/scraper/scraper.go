// Package scraper defines what every DAT source implements and the pieces of
// the final download step that sources share.
//
// A source is stateless aside from the Session it hands back from
// Authenticate, each call is independent and the output depends only on its
// inputs and the implied login state carried by the session.
package scraper

import (
	"context"
	"io"
	"time"
)

type Credentials struct {
	Username string
	Password string
}

// Session is the opaque cookie value that identifies a login with one source,
// the empty Session is an anonymous one.
type Session string

func (s Session) Anonymous() bool {
	return s == ""
}

// Target is one downloadable catalogue discovered by Source.Locate.
type Target struct {
	Url string
	// Form, when non-nil, is posted to Url instead of issuing a GET.
	Form map[string]string
	// Session, when non-empty, replaces the run's session for this target.
	Session Session
	// Name identifies the target in reports and fallback filenames.
	Name string
}

// Resource is a response body ready to be written to disk. Whoever receives a
// Resource owns Body and must close it.
type Resource struct {
	Filename string
	// Length is the declared size of Body, 0 means unknown.
	Length uint64
	Body   io.ReadCloser
}

// Source is one DAT provider.
type Source interface {
	Name() string
	// Authenticate logs in and returns the resulting session. Sources
	// without logins return an anonymous session and no error.
	Authenticate(ctx context.Context, creds Credentials) (Session, error)
	// Locate discovers the targets available to session, an empty result is
	// not an error.
	Locate(ctx context.Context, session Session) ([]Target, error)
	// Fetch issues the final request for target.
	Fetch(ctx context.Context, target Target, session Session) (Resource, error)
	// Throttle is the delay between two consecutive transfers of this
	// source.
	Throttle() time.Duration
}
