// Package template implements the model-file template dialect: {{ expr }}
// substitution, {% stmt %} control flow (if/elif/else, for, set) and
// {# comment #} blocks. Expressions are Starlark, evaluated against the
// render context supplied by the caller.
package template

// Position locates a token or node in its source file. File is empty for
// templates parsed from strings.
type Position struct {
	File   string
	Line   int
	Column int
}

// Template is a parsed model file, ready to render any number of times.
type Template struct {
	Nodes []Node
	File  string
}

// Node is one piece of a parsed template. The renderer walks the node list
// top to bottom, emitting text and evaluating the rest.
type Node interface {
	Pos() Position
	node()
}

// nodeBase carries the position every node reports.
type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

// TextNode is literal SQL, emitted unchanged.
type TextNode struct {
	nodeBase
	Text string
}

// ExprNode is a {{ ... }} substitution. Expr holds the Starlark source
// between the delimiters.
type ExprNode struct {
	nodeBase
	Expr string
}

// StmtKind names the control-flow keyword a {% ... %} marker starts with.
type StmtKind int

const (
	StmtUnknown StmtKind = iota
	StmtFor
	StmtEndFor
	StmtIf
	StmtElif
	StmtElse
	StmtEndIf
	StmtSet
)

var stmtKindNames = [...]string{
	StmtUnknown: "unknown",
	StmtFor:     "for",
	StmtEndFor:  "endfor",
	StmtIf:      "if",
	StmtElif:    "elif",
	StmtElse:    "else",
	StmtEndIf:   "endif",
	StmtSet:     "set",
}

func (k StmtKind) String() string {
	if k < 0 || int(k) >= len(stmtKindNames) {
		return "unknown"
	}
	return stmtKindNames[k]
}

// StmtNode is a single {% ... %} marker as lexed, before the parser folds
// openers and closers into blocks. Expr is the condition (if/elif), the
// iterable (for), or the bound value (set); VarName is set for for and set.
type StmtNode struct {
	nodeBase
	Kind    StmtKind
	Expr    string
	VarName string
}

// SetNode binds an expression's value to a name for the rest of the
// template, or of the enclosing loop body.
type SetNode struct {
	nodeBase
	VarName string
	Expr    string
}

// ForBlock is a matched for/endfor pair with its body.
type ForBlock struct {
	nodeBase
	VarName  string
	IterExpr string
	Body     []Node
}

// IfBlock is a matched if/endif with any elif and else branches between.
type IfBlock struct {
	nodeBase
	Condition string
	Body      []Node
	ElseIfs   []Branch
	Else      []Node
}

// Branch is one elif arm of an IfBlock.
type Branch struct {
	Condition string
	Body      []Node
	pos       Position
}
