package scraper

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"atsumare/internal/datfile"

	"golang.org/x/net/html/charset"
)

var dispositionFilename = regexp.MustCompile(`filename="([^"]+)"`)

// DispositionFilename extracts the quoted filename parameter of a
// content-disposition header.
func DispositionFilename(header string) (string, bool) {
	groups := dispositionFilename.FindStringSubmatch(header)
	if len(groups) < 2 {
		return "", false
	}
	return groups[1], true
}

// MediaType returns the lowercased media type of a content-type header
// without its parameters.
func MediaType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType, _, _ = strings.Cut(header, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// ContentLength converts the declared length of res, unknown lengths are 0.
func ContentLength(res *http.Response) uint64 {
	if res.ContentLength < 0 {
		return 0
	}
	return uint64(res.ContentLength)
}

// Policy describes how a source interprets the response to its final
// request.
type Policy struct {
	// Archives are media types passed through untouched.
	Archives []string
	// Legacy are media types holding a ClrMamePro catalogue, those are
	// converted to Logiqx XML with Homepage.
	Legacy   []string
	Homepage string
	// Fallback names the file when the response carries no usable
	// content-disposition. When nil the header is required.
	Fallback func(converted bool) string
}

// Resource turns res into a Resource, it takes ownership of res.Body and
// closes it on every error path. Nothing is read from the body when the
// content type is not accepted.
func (p Policy) Resource(res *http.Response) (Resource, error) {
	contentType := res.Header.Get("Content-Type")
	mediaType := MediaType(contentType)

	archive := slices.Contains(p.Archives, mediaType)
	legacy := slices.Contains(p.Legacy, mediaType)
	if !archive && !legacy {
		res.Body.Close()
		return Resource{}, fmt.Errorf("%w: %q (status %s)", ErrUnexpectedContentType, contentType, res.Status)
	}

	disposition := res.Header.Get("Content-Disposition")
	filename, ok := DispositionFilename(disposition)
	if !ok {
		if p.Fallback == nil {
			res.Body.Close()
			return Resource{}, fmt.Errorf("%w: %q", ErrMalformedDisposition, disposition)
		}
		filename = p.Fallback(legacy)
	}

	if archive {
		return Resource{
			Filename: filename,
			Length:   ContentLength(res),
			Body:     res.Body,
		}, nil
	}

	defer res.Body.Close()
	decoded, err := charset.NewReader(res.Body, contentType)
	if err != nil {
		return Resource{}, fmt.Errorf("decode %q: %w", contentType, err)
	}
	text, err := io.ReadAll(decoded)
	if err != nil {
		return Resource{}, err
	}
	converted, err := datfile.Convert(string(text), p.Homepage)
	if err != nil {
		return Resource{}, err
	}
	return Resource{
		Filename: filename,
		Length:   uint64(len(converted)),
		Body:     io.NopCloser(bytes.NewReader(converted)),
	}, nil
}
