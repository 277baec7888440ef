package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"atsumare/internal/scraper"
)

const chunkSize = 32 * 1024

var ErrInvalidFilename = errors.New("invalid filename")

// LocalName reduces a server supplied filename to a single path element.
func LocalName(filename string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return name, nil
}

// Drain writes the body of res to a new file in dir and closes the body.
// progress, when non-nil, receives the running total after every chunk. An
// existing file is never overwritten, the error then wraps fs.ErrExist.
// Whatever was written before a failure is left on disk.
func Drain(ctx context.Context, res scraper.Resource, dir string, progress func(written uint64)) (string, uint64, error) {
	defer res.Body.Close()

	name, err := LocalName(res.Filename)
	if err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return path, 0, err
	}

	written, err := copyChunks(ctx, out, res.Body, progress)
	closeErr := out.Close()
	if err != nil {
		return path, written, err
	}
	if closeErr != nil {
		return path, written, closeErr
	}
	return path, written, nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, progress func(uint64)) (uint64, error) {
	buf := make([]byte, chunkSize)
	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			_, err := dst.Write(buf[:n])
			if err != nil {
				return written, err
			}
			written += uint64(n)
			if progress != nil {
				progress(written)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
