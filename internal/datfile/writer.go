package datfile

import (
	"bytes"
	"io"
	"strings"
)

const (
	DtdPublicId = "-//Logiqx//DTD ROM Management Datafile//EN"
	DtdSystemId = "http://www.logiqx.com/Dats/datafile.dtd"
)

const (
	xmlDeclaration = `<?xml version="1.0"?>`
	xmlDoctype     = `<!DOCTYPE datafile PUBLIC "` + DtdPublicId + `" "` + DtdSystemId + `">`
)

// xmlWriter writes one line per call, indented with a tab per depth, and
// keeps the first error so callers can check once at the end.
type xmlWriter struct {
	w   io.Writer
	err error
}

func (x *xmlWriter) line(depth int, parts ...string) {
	if x.err != nil {
		return
	}
	var b strings.Builder
	for i := 0; i < depth; i++ {
		b.WriteByte('\t')
	}
	for _, p := range parts {
		b.WriteString(p)
	}
	b.WriteByte('\n')
	_, x.err = io.WriteString(x.w, b.String())
}

// escaper uses the named entities, whitespace is written as is.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func escape(s string) string {
	return escaper.Replace(s)
}

func (x *xmlWriter) text(depth int, name, value string) {
	x.line(depth, "<", name, ">", escape(value), "</", name, ">")
}

func attr(name, value string) string {
	return " " + name + `="` + escape(value) + `"`
}

// Write serializes df as a Logiqx datafile.
func Write(w io.Writer, df Datafile) error {
	x := &xmlWriter{w: w}

	x.line(0, xmlDeclaration)
	x.line(0, xmlDoctype)
	x.line(0, "<datafile>")

	x.line(1, "<header>")
	x.text(2, "name", df.Header.Name)
	x.text(2, "description", df.Header.Description)
	x.text(2, "version", df.Header.Version)
	x.text(2, "author", df.Header.Author)
	x.text(2, "homepage", df.Header.Homepage)
	x.line(1, "</header>")

	for _, game := range df.Games {
		x.line(1, "<game", attr("name", game.Name), ">")
		x.text(2, "category", game.Category)
		x.text(2, "description", game.Description)
		for _, rom := range game.Roms {
			x.line(
				2, "<rom",
				attr("name", rom.Name),
				attr("size", rom.Size),
				attr("crc", rom.Crc),
				attr("md5", rom.Md5),
				attr("sha1", rom.Sha1),
				"/>",
			)
		}
		x.line(1, "</game>")
	}

	x.line(0, "</datafile>")

	if x.err != nil {
		return &WriteError{Err: x.err}
	}
	return nil
}

// Convert parses a ClrMamePro document and returns it as Logiqx XML with the
// given homepage. It returns a *ParseError or *WriteError on failure.
func Convert(document string, homepage string) ([]byte, error) {
	doc, err := Parse(document)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	err = Write(&out, Canonicalize(doc, homepage))
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
