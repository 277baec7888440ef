// Package datfile converts ClrMamePro catalogues into Logiqx datafile XML.
package datfile

import "fmt"

// Document is a parsed ClrMamePro catalogue. Sizes and hashes are kept as the
// text found in the source so conversion never changes them.
type Document struct {
	Header Header
	Games  []Game
}

type Header struct {
	Name        string
	Description string
	Category    string
	Version     string
	Author      string
}

type Game struct {
	Name        string
	Description string
	Roms        []Rom
}

type Rom struct {
	Name string
	Size string
	Crc  string
	Md5  string
	Sha1 string
}

// Datafile is the Logiqx form of a catalogue, the header gains a homepage and
// every game carries a copy of the header category.
type Datafile struct {
	Header DatafileHeader
	Games  []DatafileGame
}

type DatafileHeader struct {
	Name        string
	Description string
	Version     string
	Author      string
	Homepage    string
}

type DatafileGame struct {
	Name        string
	Category    string
	Description string
	Roms        []Rom
}

// Canonicalize reshapes doc into its Logiqx form.
func Canonicalize(doc Document, homepage string) Datafile {
	out := Datafile{
		Header: DatafileHeader{
			Name:        doc.Header.Name,
			Description: doc.Header.Description,
			Version:     doc.Header.Version,
			Author:      doc.Header.Author,
			Homepage:    homepage,
		},
		Games: make([]DatafileGame, len(doc.Games)),
	}
	for i, game := range doc.Games {
		out.Games[i] = DatafileGame{
			Name:        game.Name,
			Category:    doc.Header.Category,
			Description: game.Description,
			Roms:        game.Roms,
		}
	}
	return out
}

// ParseError reports a ClrMamePro document that could not be parsed, no
// output is produced when it is returned.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("datfile: parse: line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// WriteError wraps a failure of the destination while writing XML.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("datfile: write: %s", e.Err.Error())
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
