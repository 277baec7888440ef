package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"atsumare/internal/components/chrono"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/history"
	"atsumare/internal/scraper"

	"github.com/stretchr/testify/require"
)

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

// chunkedReader returns at most size bytes per read.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.size, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

type fakeSource struct {
	name     string
	throttle time.Duration
	authErr  error
	locErr   error
	fetchErr error
	files    map[string]string
	order    []string

	mutex           sync.Mutex
	locateSessions  []scraper.Session
	fetchSessions   []scraper.Session
	authentications int
}

func (s *fakeSource) Name() string {
	return s.name
}

func (s *fakeSource) Throttle() time.Duration {
	return s.throttle
}

func (s *fakeSource) Authenticate(ctx context.Context, creds scraper.Credentials) (scraper.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.authentications++
	if s.authErr != nil {
		return "", s.authErr
	}
	return scraper.Session("session-" + creds.Username), nil
}

func (s *fakeSource) Locate(ctx context.Context, session scraper.Session) ([]scraper.Target, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.locateSessions = append(s.locateSessions, session)
	if s.locErr != nil {
		return nil, s.locErr
	}
	var targets []scraper.Target
	for _, name := range s.order {
		targets = append(targets, scraper.Target{Url: "https://example.com/" + name, Name: name})
	}
	return targets, nil
}

func (s *fakeSource) Fetch(ctx context.Context, target scraper.Target, session scraper.Session) (scraper.Resource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.fetchSessions = append(s.fetchSessions, session)
	if s.fetchErr != nil {
		return scraper.Resource{}, s.fetchErr
	}
	contents := s.files[target.Name]
	return scraper.Resource{
		Filename: target.Name,
		Length:   uint64(len(contents)),
		Body:     io.NopCloser(strings.NewReader(contents)),
	}, nil
}

func newFakeSource(name string, files ...string) *fakeSource {
	source := &fakeSource{name: name, files: map[string]string{}}
	for i, file := range files {
		source.files[file] = fmt.Sprintf("contents of %s #%d", file, i)
		source.order = append(source.order, file)
	}
	return source
}

type fakeHistory struct {
	transfers []history.Transfer
	err       error
}

func (h *fakeHistory) Record(ctx context.Context, t history.Transfer) error {
	h.transfers = append(h.transfers, t)
	return h.err
}

type recordingProgress struct {
	mutex   sync.Mutex
	updates map[string][]uint64
	done    map[string]error
}

func (p *recordingProgress) Track(source string, res scraper.Resource) Tracker {
	return recordingTracker{progress: p, filename: res.Filename}
}

type recordingTracker struct {
	progress *recordingProgress
	filename string
}

func (t recordingTracker) Update(written uint64) {
	t.progress.mutex.Lock()
	defer t.progress.mutex.Unlock()
	if t.progress.updates == nil {
		t.progress.updates = map[string][]uint64{}
	}
	t.progress.updates[t.filename] = append(t.progress.updates[t.filename], written)
}

func (t recordingTracker) Done(err error) {
	t.progress.mutex.Lock()
	defer t.progress.mutex.Unlock()
	if t.progress.done == nil {
		t.progress.done = map[string]error{}
	}
	t.progress.done[t.filename] = err
}

func readFile(t *testing.T, path string) string {
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(contents)
}

func TestDrain(t *testing.T) {
	dir := t.TempDir()
	data := strings.Repeat("0123456789", 10_000)
	body := &trackedBody{Reader: &chunkedReader{data: []byte(data), size: 4096}}

	var updates []uint64
	path, written, err := Drain(context.Background(), scraper.Resource{
		Filename: "dat.zip",
		Length:   uint64(len(data)),
		Body:     body,
	}, dir, func(n uint64) {
		updates = append(updates, n)
	})
	require.NoError(t, err)
	require.True(t, body.closed)
	require.Equal(t, filepath.Join(dir, "dat.zip"), path)
	require.Equal(t, uint64(len(data)), written)
	require.Equal(t, data, readFile(t, path))

	require.NotEmpty(t, updates)
	for i := 1; i < len(updates); i++ {
		require.Greater(t, updates[i], updates[i-1])
	}
	require.Equal(t, uint64(len(data)), updates[len(updates)-1])
}

func TestDrainEmptyBody(t *testing.T) {
	dir := t.TempDir()
	var updates []uint64
	path, written, err := Drain(context.Background(), scraper.Resource{
		Filename: "empty.zip",
		Body:     io.NopCloser(strings.NewReader("")),
	}, dir, func(n uint64) {
		updates = append(updates, n)
	})
	require.NoError(t, err)
	require.Zero(t, written)
	require.Empty(t, updates)
	require.Equal(t, "", readFile(t, path))
}

func TestDrainCollision(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "dat.zip")
	require.NoError(t, os.WriteFile(existing, []byte("previous run"), 0o644))

	body := &trackedBody{Reader: strings.NewReader("new contents")}
	_, _, err := Drain(context.Background(), scraper.Resource{Filename: "dat.zip", Body: body}, dir, nil)
	require.ErrorIs(t, err, fs.ErrExist)
	require.True(t, body.closed)
	require.Equal(t, "previous run", readFile(t, existing))
}

func TestDrainFilenames(t *testing.T) {
	cases := []struct {
		filename string
		expected string
	}{
		{filename: "No-Intro Love Pack (PC XML) (2024-01-01).zip", expected: "No-Intro Love Pack (PC XML) (2024-01-01).zip"},
		{filename: "../../escape.zip", expected: "escape.zip"},
		{filename: "/etc/passwd", expected: "passwd"},
		{filename: "nested/dir/pack.zip", expected: "pack.zip"},
	}

	for _, test := range cases {
		t.Run(test.filename, func(t *testing.T) {
			dir := t.TempDir()
			path, _, err := Drain(context.Background(), scraper.Resource{
				Filename: test.filename,
				Body:     io.NopCloser(strings.NewReader("x")),
			}, dir, nil)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(dir, test.expected), path)
		})
	}

	for _, invalid := range []string{"", "..", "/", "."} {
		_, _, err := Drain(context.Background(), scraper.Resource{
			Filename: invalid,
			Body:     io.NopCloser(strings.NewReader("x")),
		}, t.TempDir(), nil)
		require.ErrorIs(t, err, ErrInvalidFilename, "filename %q", invalid)
	}
}

func TestDrainCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, written, err := Drain(ctx, scraper.Resource{
		Filename: "partial.zip",
		Body:     io.NopCloser(&chunkedReader{data: []byte("abcdefgh"), size: 2}),
	}, dir, func(n uint64) {
		if n >= 4 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, uint64(4), written)
	require.Equal(t, "abcd", readFile(t, filepath.Join(dir, "partial.zip")))
}

// brokenReader fails once data has been read.
type brokenReader struct {
	data []byte
	err  error
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDrainBodyError(t *testing.T) {
	dir := t.TempDir()
	reset := errors.New("connection reset by peer")
	body := &trackedBody{Reader: &brokenReader{data: []byte("PK\x03\x04partial"), err: reset}}

	var updates []uint64
	path, written, err := Drain(context.Background(), scraper.Resource{
		Filename: "broken.zip",
		Length:   1 << 20,
		Body:     body,
	}, dir, func(n uint64) {
		updates = append(updates, n)
	})
	require.ErrorIs(t, err, reset)
	require.True(t, body.closed)
	require.Equal(t, uint64(11), written)
	require.Equal(t, []uint64{11}, updates)
	require.Equal(t, "PK\x03\x04partial", readFile(t, path))
}

func TestRunThrottlesBetweenTargets(t *testing.T) {
	dir := t.TempDir()
	clock := chrono.NewFakeImpl(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	progress := &recordingProgress{}
	hist := &fakeHistory{}

	source := newFakeSource("nointro", "public.zip", "private.zip", "extra.zip")
	source.throttle = 30 * time.Second

	runner := NewRunner(Options{
		Output:   dir,
		Clock:    clock,
		Progress: progress,
		History:  hist,
	}, &telemetry.Recorder{})

	results, err := runner.Run(context.Background(), []Job{{Source: source}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clock.Sleeps())

	for _, name := range source.order {
		require.Equal(t, source.files[name], readFile(t, filepath.Join(dir, name)))
		require.NoError(t, progress.done[name])
		updates := progress.updates[name]
		require.Equal(t, uint64(len(source.files[name])), updates[len(updates)-1])
	}

	require.Len(t, hist.transfers, 3)
	require.Equal(t, "nointro", hist.transfers[0].Source)
	require.Equal(t, "public.zip", hist.transfers[0].Filename)
	require.Equal(t, uint64(len(source.files["public.zip"])), hist.transfers[0].Bytes)
}

func TestRunSingleTargetDoesNotSleep(t *testing.T) {
	clock := chrono.NewFakeImpl(time.Now())
	source := newFakeSource("tosec", "pack.zip")
	source.throttle = time.Minute

	runner := NewRunner(Options{Output: t.TempDir(), Clock: clock}, &telemetry.Recorder{})
	_, err := runner.Run(context.Background(), []Job{{Source: source}})
	require.NoError(t, err)
	require.Empty(t, clock.Sleeps())
}

func TestRunSessions(t *testing.T) {
	t.Run("authenticated", func(t *testing.T) {
		source := newFakeSource("redump", "psx.zip")
		tel := &telemetry.Recorder{}
		runner := NewRunner(Options{Output: t.TempDir(), Clock: chrono.NewFakeImpl(time.Now())}, tel)

		_, err := runner.Run(context.Background(), []Job{{
			Source:      source,
			Credentials: &scraper.Credentials{Username: "alice", Password: "hunter2"},
		}})
		require.NoError(t, err)
		require.Equal(t, []scraper.Session{"session-alice"}, source.locateSessions)
		require.Equal(t, []scraper.Session{"session-alice"}, source.fetchSessions)
		require.Empty(t, tel.Reports("warning"))
	})

	t.Run("degrades to anonymous", func(t *testing.T) {
		source := newFakeSource("redump", "psx.zip")
		source.authErr = scraper.ErrRejected
		tel := &telemetry.Recorder{}
		runner := NewRunner(Options{Output: t.TempDir(), Clock: chrono.NewFakeImpl(time.Now())}, tel)

		results, err := runner.Run(context.Background(), []Job{{
			Source:      source,
			Credentials: &scraper.Credentials{Username: "alice", Password: "wrong"},
		}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, []scraper.Session{""}, source.locateSessions)
		require.Equal(t, []scraper.Session{""}, source.fetchSessions)

		warnings := tel.Reports("warning")
		require.Len(t, warnings, 1)
		require.Equal(t, "transfer: runner.authenticate", warnings[0].Id)
	})

	t.Run("anonymous", func(t *testing.T) {
		source := newFakeSource("redump", "psx.zip")
		runner := NewRunner(Options{Output: t.TempDir(), Clock: chrono.NewFakeImpl(time.Now())}, &telemetry.Recorder{})

		_, err := runner.Run(context.Background(), []Job{{Source: source}})
		require.NoError(t, err)
		require.Zero(t, source.authentications)
		require.Equal(t, []scraper.Session{""}, source.locateSessions)
	})
}

func TestRunStageErrors(t *testing.T) {
	t.Run("locate", func(t *testing.T) {
		source := newFakeSource("nointro", "public.zip")
		source.locErr = scraper.ErrNoRedirect
		runner := NewRunner(Options{Output: t.TempDir(), Clock: chrono.NewFakeImpl(time.Now())}, &telemetry.Recorder{})

		_, err := runner.Run(context.Background(), []Job{{Source: source}})
		require.ErrorIs(t, err, scraper.ErrNoRedirect)

		var stageErr *scraper.StageError
		require.True(t, errors.As(err, &stageErr))
		require.Equal(t, "nointro", stageErr.Source)
		require.Equal(t, scraper.StageLocate, stageErr.Stage)
		require.Equal(t, "nointro: locate: missing download redirect", err.Error())
	})

	t.Run("content type writes nothing", func(t *testing.T) {
		dir := t.TempDir()
		source := newFakeSource("tosec", "pack.zip")
		source.fetchErr = fmt.Errorf("%w: %q", scraper.ErrUnexpectedContentType, "text/html")
		runner := NewRunner(Options{Output: dir, Clock: chrono.NewFakeImpl(time.Now())}, &telemetry.Recorder{})

		_, err := runner.Run(context.Background(), []Job{{Source: source}})
		require.ErrorIs(t, err, scraper.ErrUnexpectedContentType)

		var stageErr *scraper.StageError
		require.True(t, errors.As(err, &stageErr))
		require.Equal(t, scraper.StageFetch, stageErr.Stage)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("collision aborts the run", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.zip"), []byte("keep me"), 0o644))

		first := newFakeSource("nointro", "a.zip", "b.zip", "c.zip")
		second := newFakeSource("tosec", "pack.zip")
		hist := &fakeHistory{}
		runner := NewRunner(Options{Output: dir, Clock: chrono.NewFakeImpl(time.Now()), History: hist}, &telemetry.Recorder{})

		results, err := runner.Run(context.Background(), []Job{{Source: first}, {Source: second}})
		require.ErrorIs(t, err, fs.ErrExist)

		var stageErr *scraper.StageError
		require.True(t, errors.As(err, &stageErr))
		require.Equal(t, scraper.StageTransfer, stageErr.Stage)

		require.Len(t, results, 1)
		require.Equal(t, "keep me", readFile(t, filepath.Join(dir, "b.zip")))
		require.NoFileExists(t, filepath.Join(dir, "c.zip"))
		require.NoFileExists(t, filepath.Join(dir, "pack.zip"))
		require.Len(t, hist.transfers, 1)
	})
}

func TestRunKeepGoing(t *testing.T) {
	dir := t.TempDir()
	failing := newFakeSource("nointro", "public.zip")
	failing.locErr = scraper.ErrUnexpectedLocation
	working := newFakeSource("tosec", "pack.zip")
	alsoFailing := newFakeSource("redump", "psx.zip")
	alsoFailing.fetchErr = scraper.ErrMalformedDisposition

	tel := &telemetry.Recorder{}
	runner := NewRunner(Options{Output: dir, KeepGoing: true, Clock: chrono.NewFakeImpl(time.Now())}, tel)

	results, err := runner.Run(context.Background(), []Job{
		{Source: failing},
		{Source: working},
		{Source: alsoFailing},
	})
	require.ErrorIs(t, err, scraper.ErrUnexpectedLocation)
	require.ErrorIs(t, err, scraper.ErrMalformedDisposition)
	require.Len(t, results, 1)
	require.Equal(t, "tosec", results[0].Source)
	require.FileExists(t, filepath.Join(dir, "pack.zip"))
	require.Len(t, tel.Reports("broken"), 2)
}

func TestRunHistoryFailureIsNotFatal(t *testing.T) {
	source := newFakeSource("tosec", "pack.zip")
	tel := &telemetry.Recorder{}
	runner := NewRunner(Options{
		Output:  t.TempDir(),
		Clock:   chrono.NewFakeImpl(time.Now()),
		History: &fakeHistory{err: errors.New("database is locked")},
	}, tel)

	results, err := runner.Run(context.Background(), []Job{{Source: source}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, tel.Reports("warning"), 1)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := newFakeSource("nointro", "public.zip", "private.zip")
	source.throttle = 30 * time.Second
	runner := NewRunner(Options{Output: t.TempDir(), Clock: chrono.NewFakeImpl(time.Now()), KeepGoing: true}, &telemetry.Recorder{})

	_, err := runner.Run(ctx, []Job{{Source: source}, {Source: newFakeSource("tosec", "pack.zip")}})
	require.ErrorIs(t, err, context.Canceled)
}
