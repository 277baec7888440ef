package datfile

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenOpen
	tokenClose
	tokenWord
	tokenString
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of document"
	case tokenOpen:
		return "block opener"
	case tokenClose:
		return "block closer"
	case tokenWord:
		return "word"
	case tokenString:
		return "string"
	}
	return "unknown token"
}

type token struct {
	kind  tokenKind
	text  string
	line  int
	col   int
	delim rune
}

// lexer splits a ClrMamePro document into words, quoted strings and block
// delimiters. Both `( )` and `{ }` open and close blocks.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	src = strings.TrimPrefix(src, "\ufeff")
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peekRune() (rune, int) {
	if l.pos >= len(l.src) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(l.src[l.pos:])
}

func (l *lexer) advance(r rune, size int) {
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
		return
	}
	l.col++
}

func isDelimiter(r rune) bool {
	switch r {
	case '(', ')', '{', '}', '"':
		return true
	}
	return unicode.IsSpace(r)
}

func (l *lexer) next() (token, error) {
	for {
		r, size := l.peekRune()
		if size == 0 || !unicode.IsSpace(r) {
			break
		}
		l.advance(r, size)
	}

	r, size := l.peekRune()
	tok := token{line: l.line, col: l.col}
	if size == 0 {
		tok.kind = tokenEOF
		return tok, nil
	}

	switch r {
	case '(', '{':
		l.advance(r, size)
		tok.kind = tokenOpen
		tok.delim = r
		return tok, nil
	case ')', '}':
		l.advance(r, size)
		tok.kind = tokenClose
		tok.delim = r
		return tok, nil
	case '"':
		l.advance(r, size)
		text, err := l.quoted(tok)
		tok.kind = tokenString
		tok.text = text
		return tok, err
	}

	start := l.pos
	for {
		r, size := l.peekRune()
		if size == 0 || isDelimiter(r) {
			break
		}
		l.advance(r, size)
	}
	tok.kind = tokenWord
	tok.text = l.src[start:l.pos]
	return tok, nil
}

// quoted reads the rest of a string whose opening quote was consumed, `\"`
// and `\\` are the only escapes.
func (l *lexer) quoted(open token) (string, error) {
	var out strings.Builder
	for {
		r, size := l.peekRune()
		if size == 0 {
			return "", &ParseError{Line: open.line, Column: open.col, Msg: "unterminated string"}
		}
		l.advance(r, size)

		switch r {
		case '"':
			return out.String(), nil
		case '\\':
			escaped, size := l.peekRune()
			if size > 0 && (escaped == '"' || escaped == '\\') {
				l.advance(escaped, size)
				out.WriteRune(escaped)
				continue
			}
		}
		out.WriteRune(r)
	}
}
