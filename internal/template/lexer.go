package template

import (
	"strings"
	"unicode/utf8"
)

// TokenType classifies a lexed template token.
type TokenType int

const (
	TokenText    TokenType = iota // literal SQL between markers
	TokenExpr                     // body of a {{ ... }} expression
	TokenStmt                     // body of a {% ... %} statement
	TokenComment                  // body of a {# ... #} comment, dropped by the parser
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenStmt:
		return "STMT"
	case TokenComment:
		return "COMMENT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token is one lexed unit. For marker tokens, Value is the trimmed body and
// Pos points at the opening delimiter, so errors land on the marker the
// user wrote rather than inside it.
type Token struct {
	Type  TokenType
	Value string
	Pos   Position
}

// marker is one delimiter pair the lexer recognizes. Only expressions nest:
// dict literals put bare braces inside {{ ... }}, so the closer counts
// brace depth before it matches.
type marker struct {
	open  string
	close string
	typ   TokenType
	noun  string
	nests bool
}

var markers = [...]marker{
	{open: "{{", close: "}}", typ: TokenExpr, noun: "expression", nests: true},
	{open: "{%", close: "%}", typ: TokenStmt, noun: "statement"},
	{open: "{#", close: "#}", typ: TokenComment, noun: "comment"},
}

// Lexer splits a template into text and marker tokens.
type Lexer struct {
	input string
	file  string
	pos   int
	line  int
	col   int
}

// NewLexer creates a lexer over input. file is used in positions and may
// be empty for string templates.
func NewLexer(input, file string) *Lexer {
	return &Lexer{input: input, file: file, line: 1, col: 1}
}

// Tokenize scans the whole input. The returned slice always ends with a
// TokenEOF entry.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for l.pos < len(l.input) {
		if m := l.markerAt(); m != nil {
			tok, err := l.scanMarked(m)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			continue
		}
		tokens = append(tokens, l.scanText())
	}
	return append(tokens, Token{Type: TokenEOF, Pos: l.here()}), nil
}

// scanText consumes literal text up to the next marker or end of input.
// Callers guarantee at least one rune before the next marker.
func (l *Lexer) scanText() Token {
	start := l.here()
	from := l.pos
	for l.pos < len(l.input) && l.markerAt() == nil {
		l.advance()
	}
	return Token{Type: TokenText, Value: l.input[from:l.pos], Pos: start}
}

// scanMarked consumes one delimited token, open marker through close
// marker, and returns its trimmed body.
func (l *Lexer) scanMarked(m *marker) (Token, error) {
	start := l.here()
	l.skip(len(m.open))

	from := l.pos
	depth := 0
	for l.pos < len(l.input) {
		if depth == 0 && strings.HasPrefix(l.input[l.pos:], m.close) {
			body := strings.TrimSpace(l.input[from:l.pos])
			l.skip(len(m.close))
			return Token{Type: m.typ, Value: body, Pos: start}, nil
		}
		if m.nests {
			switch l.peek() {
			case '{':
				depth++
			case '}':
				if depth > 0 {
					depth--
				}
			}
		}
		l.advance()
	}
	return Token{}, NewLexError(start, "unclosed "+m.noun+": missing '"+m.close+"'")
}

// markerAt reports which marker opens at the current offset, if any.
func (l *Lexer) markerAt() *marker {
	rest := l.input[l.pos:]
	for i := range markers {
		if strings.HasPrefix(rest, markers[i].open) {
			return &markers[i]
		}
	}
	return nil
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// advance consumes one rune and keeps line/column tracking current.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

// skip consumes n bytes known to be delimiter characters, which never
// contain newlines.
func (l *Lexer) skip(n int) {
	l.pos += n
	l.col += n
}

func (l *Lexer) here() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}
