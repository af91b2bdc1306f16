package template

import "fmt"

// prefixed formats msg behind the pos prefix every template error shares.
// Positions from string templates have no file; the line:column still
// points into the template text.
func prefixed(pos Position, msg string) string {
	if pos.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", pos.File, pos.Line, pos.Column, msg)
	}
	return fmt.Sprintf("%d:%d: %s", pos.Line, pos.Column, msg)
}

// LexError reports invalid template syntax caught while scanning, such as
// an unterminated {{ or {%.
type LexError struct {
	Pos Position
	Msg string
}

// NewLexError creates a lexer error at pos.
func NewLexError(pos Position, msg string) *LexError {
	return &LexError{Pos: pos, Msg: msg}
}

func (e *LexError) Error() string      { return prefixed(e.Pos, e.Msg) }
func (e *LexError) Position() Position { return e.Pos }

// ParseError reports a malformed expression or statement.
type ParseError struct {
	Pos Position
	Msg string
}

// NewParseError creates a parser error at pos.
func NewParseError(pos Position, msg string) *ParseError {
	return &ParseError{Pos: pos, Msg: msg}
}

// NewParseErrorf creates a parser error at pos with a formatted message.
func NewParseErrorf(pos Position, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *ParseError) Error() string      { return prefixed(e.Pos, e.Msg) }
func (e *ParseError) Position() Position { return e.Pos }

// RenderError reports a failure while evaluating a template against its
// context. Cause carries the underlying evaluation error when there is
// one; Unwrap exposes it so errors.Is sees through, cancellation included.
type RenderError struct {
	Pos   Position
	Msg   string
	Cause error
}

// NewRenderErrorf creates a render error at pos with a formatted message.
func NewRenderErrorf(pos Position, format string, args ...any) *RenderError {
	return &RenderError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// WrapRenderError attaches a position and message to an underlying error.
func WrapRenderError(pos Position, msg string, cause error) *RenderError {
	return &RenderError{Pos: pos, Msg: msg, Cause: cause}
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", prefixed(e.Pos, e.Msg), e.Cause)
	}
	return prefixed(e.Pos, e.Msg)
}

func (e *RenderError) Position() Position { return e.Pos }
func (e *RenderError) Unwrap() error      { return e.Cause }

// UnmatchedBlockError reports a control-flow block missing its counterpart,
// in either direction: an opener with no closer or a closer with no opener.
type UnmatchedBlockError struct {
	Pos       Position
	BlockKind StmtKind
}

// NewUnmatchedBlockError creates an unmatched-block error for the given
// statement kind at pos.
func NewUnmatchedBlockError(pos Position, kind StmtKind) *UnmatchedBlockError {
	return &UnmatchedBlockError{Pos: pos, BlockKind: kind}
}

func (e *UnmatchedBlockError) Error() string {
	var msg string
	switch e.BlockKind {
	case StmtFor:
		msg = "unclosed 'for' block (missing 'endfor')"
	case StmtIf:
		msg = "unclosed 'if' block (missing 'endif')"
	case StmtEndFor:
		msg = "'endfor' without matching 'for'"
	case StmtEndIf:
		msg = "'endif' without matching 'if'"
	case StmtElse:
		msg = "'else' without matching 'if'"
	case StmtElif:
		msg = "'elif' without matching 'if'"
	default:
		msg = fmt.Sprintf("unmatched block: %s", e.BlockKind)
	}
	return prefixed(e.Pos, msg)
}

func (e *UnmatchedBlockError) Position() Position { return e.Pos }
