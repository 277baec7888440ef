package datfile

import "fmt"

const (
	blockHeader = "clrmamepro"
	blockGame   = "game"
	blockRom    = "rom"
)

func closerFor(open rune) rune {
	if open == '{' {
		return '}'
	}
	return ')'
}

type parser struct {
	lex *lexer
}

func errorAt(tok token, format string, args ...any) *ParseError {
	return &ParseError{Line: tok.line, Column: tok.col, Msg: fmt.Sprintf(format, args...)}
}

// field is a `key value` pair seen inside a block.
type field struct {
	key   token
	value token
}

// blockVisitor is called for every entry of a block, value is the zero token
// when the entry is a nested block, in which case the visitor must consume
// it (see parser.skipBlock).
type blockVisitor func(key token, value token, nested *token) error

// Parse parses a ClrMamePro document. Fields may appear in any order, unknown
// fields and blocks are ignored, a repeated field keeps its last value.
func Parse(src string) (Document, error) {
	p := parser{lex: newLexer(src)}

	var doc Document
	seenHeader := false

	err := p.entries(nil, func(key, value token, nested *token) error {
		if nested == nil {
			return nil
		}
		switch key.text {
		case blockHeader:
			if seenHeader {
				return errorAt(key, "duplicate %s block", blockHeader)
			}
			seenHeader = true
			header, err := p.header(key, *nested)
			if err != nil {
				return err
			}
			doc.Header = header
		case blockGame:
			game, err := p.game(key, *nested)
			if err != nil {
				return err
			}
			doc.Games = append(doc.Games, game)
		default:
			return p.skipBlock(*nested)
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	if !seenHeader {
		return Document{}, &ParseError{Line: 1, Column: 1, Msg: fmt.Sprintf("missing %s block", blockHeader)}
	}
	return doc, nil
}

// entries walks the entries of a block until its closer, or until the end of
// the document when open is nil.
func (p *parser) entries(open *token, visit blockVisitor) error {
	for {
		key, err := p.lex.next()
		if err != nil {
			return err
		}

		switch key.kind {
		case tokenEOF:
			if open != nil {
				return errorAt(*open, "unterminated block")
			}
			return nil
		case tokenClose:
			if open == nil {
				return errorAt(key, "unexpected %q", key.delim)
			}
			if key.delim != closerFor(open.delim) {
				return errorAt(key, "expected %q to close block opened at line %d, got %q", closerFor(open.delim), open.line, key.delim)
			}
			return nil
		case tokenOpen, tokenString:
			return errorAt(key, "expected a field name, got %s", key.kind)
		}

		value, err := p.lex.next()
		if err != nil {
			return err
		}
		switch value.kind {
		case tokenOpen:
			err = visit(key, token{}, &value)
		case tokenWord, tokenString:
			err = visit(key, value, nil)
		default:
			return errorAt(value, "expected a value for %q, got %s", key.text, value.kind)
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) skipBlock(open token) error {
	return p.entries(&open, func(_, _ token, nested *token) error {
		if nested != nil {
			return p.skipBlock(*nested)
		}
		return nil
	})
}

// fields collects the flat fields of a block, nested blocks are handed to
// onBlock.
func (p *parser) fields(open token, onBlock func(key, nested token) error) (map[string]field, error) {
	out := map[string]field{}
	err := p.entries(&open, func(key, value token, nested *token) error {
		if nested != nil {
			return onBlock(key, *nested)
		}
		out[key.text] = field{key: key, value: value}
		return nil
	})
	return out, err
}

func requireFields(block token, fields map[string]field, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		f, ok := fields[name]
		if !ok {
			return nil, errorAt(block, "%s block is missing required field %q", block.text, name)
		}
		out[i] = f.value.text
	}
	return out, nil
}

func (p *parser) header(key, open token) (Header, error) {
	fields, err := p.fields(open, func(_, nested token) error {
		return p.skipBlock(nested)
	})
	if err != nil {
		return Header{}, err
	}
	values, err := requireFields(key, fields, "name", "description", "category", "version", "author")
	if err != nil {
		return Header{}, err
	}
	return Header{
		Name:        values[0],
		Description: values[1],
		Category:    values[2],
		Version:     values[3],
		Author:      values[4],
	}, nil
}

func (p *parser) game(key, open token) (Game, error) {
	var roms []Rom
	fields, err := p.fields(open, func(nestedKey, nested token) error {
		if nestedKey.text != blockRom {
			return p.skipBlock(nested)
		}
		rom, err := p.rom(nestedKey, nested)
		if err != nil {
			return err
		}
		roms = append(roms, rom)
		return nil
	})
	if err != nil {
		return Game{}, err
	}
	values, err := requireFields(key, fields, "name", "description")
	if err != nil {
		return Game{}, err
	}
	return Game{Name: values[0], Description: values[1], Roms: roms}, nil
}

func (p *parser) rom(key, open token) (Rom, error) {
	fields, err := p.fields(open, func(_, nested token) error {
		return p.skipBlock(nested)
	})
	if err != nil {
		return Rom{}, err
	}
	values, err := requireFields(key, fields, "name", "size", "crc", "md5", "sha1")
	if err != nil {
		return Rom{}, err
	}
	return Rom{
		Name: values[0],
		Size: values[1],
		Crc:  values[2],
		Md5:  values[3],
		Sha1: values[4],
	}, nil
}
