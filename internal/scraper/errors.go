package scraper

import (
	"errors"
	"fmt"
)

// authentication
var (
	ErrMissingSessionCookie = errors.New("missing session cookie")
	ErrMissingRedirect      = errors.New("missing login redirect")
	ErrMissingCsrf          = errors.New("missing csrf token")
	ErrRejected             = errors.New("credentials were rejected")
)

// discovery
var (
	ErrUnexpectedLocation = errors.New("unexpected download location")
	ErrNoRedirect         = errors.New("missing download redirect")
)

// download
var (
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrMalformedDisposition  = errors.New("malformed content disposition")
)

type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StageLocate       Stage = "locate"
	StageFetch        Stage = "fetch"
	StageTransfer     Stage = "transfer"
)

// StageError attributes an error to the source and stage that produced it.
type StageError struct {
	Source string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Stage, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	return e.Err
}
