package template

import (
	"strings"
)

// ParseString tokenizes and parses a template source into its AST.
func ParseString(input, file string) (*Template, error) {
	tokens, err := NewLexer(input, file).Tokenize()
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	nodes, _, err := p.parseBody(nil)
	if err != nil {
		return nil, err
	}
	return &Template{Nodes: nodes, File: file}, nil
}

// parser assembles the flat token stream into nested blocks.
type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// parseBody consumes nodes until it hits a statement that terminates the
// enclosing block (endfor for a for, elif/else/endif for an if). opener is
// the statement that opened the block, nil at top level. It returns the body
// along with the terminating statement.
func (p *parser) parseBody(opener *StmtNode) ([]Node, *StmtNode, error) {
	var nodes []Node

	for {
		tok := p.next()
		switch tok.Type {
		case TokenEOF:
			if opener != nil {
				return nil, nil, NewUnmatchedBlockError(opener.Pos(), opener.Kind)
			}
			return nodes, nil, nil

		case TokenText:
			nodes = append(nodes, &TextNode{nodeBase: nodeBase{pos: tok.Pos}, Text: tok.Value})

		case TokenExpr:
			if tok.Value == "" {
				return nil, nil, NewParseError(tok.Pos, "empty expression")
			}
			nodes = append(nodes, &ExprNode{nodeBase: nodeBase{pos: tok.Pos}, Expr: tok.Value})

		case TokenComment:
			// Comments render to nothing.

		case TokenStmt:
			stmt, err := parseStmt(tok)
			if err != nil {
				return nil, nil, err
			}

			if terminates(opener, stmt.Kind) {
				return nodes, stmt, nil
			}

			switch stmt.Kind {
			case StmtFor:
				block, err := p.parseForBlock(stmt)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, block)
			case StmtIf:
				block, err := p.parseIfBlock(stmt)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, block)
			case StmtSet:
				nodes = append(nodes, &SetNode{
					nodeBase: nodeBase{pos: stmt.Pos()},
					VarName:  stmt.VarName,
					Expr:     stmt.Expr,
				})
			default:
				// A closer with no matching opener at this level.
				return nil, nil, NewUnmatchedBlockError(stmt.Pos(), stmt.Kind)
			}
		}
	}
}

// terminates reports whether kind closes (or continues) the block opened by
// opener.
func terminates(opener *StmtNode, kind StmtKind) bool {
	if opener == nil {
		return false
	}
	switch opener.Kind {
	case StmtFor:
		return kind == StmtEndFor
	case StmtIf, StmtElif:
		return kind == StmtEndIf || kind == StmtElif || kind == StmtElse
	case StmtElse:
		return kind == StmtEndIf
	default:
		return false
	}
}

// parseForBlock assembles a for loop after its opening statement was read.
func (p *parser) parseForBlock(opener *StmtNode) (*ForBlock, error) {
	body, _, err := p.parseBody(opener)
	if err != nil {
		return nil, err
	}
	return &ForBlock{
		nodeBase: nodeBase{pos: opener.Pos()},
		VarName:  opener.VarName,
		IterExpr: opener.Expr,
		Body:     body,
	}, nil
}

// parseIfBlock assembles an if/elif/else chain after its opening statement
// was read.
func (p *parser) parseIfBlock(opener *StmtNode) (*IfBlock, error) {
	body, term, err := p.parseBody(opener)
	if err != nil {
		return nil, err
	}

	block := &IfBlock{
		nodeBase:  nodeBase{pos: opener.Pos()},
		Condition: opener.Expr,
		Body:      body,
	}

	for term != nil && term.Kind == StmtElif {
		branchBody, next, err := p.parseBody(term)
		if err != nil {
			return nil, err
		}
		block.ElseIfs = append(block.ElseIfs, Branch{
			Condition: term.Expr,
			Body:      branchBody,
			pos:       term.Pos(),
		})
		term = next
	}

	if term != nil && term.Kind == StmtElse {
		elseBody, next, err := p.parseBody(term)
		if err != nil {
			return nil, err
		}
		block.Else = elseBody
		term = next
	}

	if term == nil || term.Kind != StmtEndIf {
		return nil, NewUnmatchedBlockError(opener.Pos(), StmtIf)
	}
	return block, nil
}

// parseStmt classifies one statement token. A trailing colon is tolerated on
// block statements so Starlark-habituated templates keep working.
func parseStmt(tok Token) (*StmtNode, error) {
	content := strings.TrimSuffix(strings.TrimSpace(tok.Value), ":")
	keyword, rest, _ := strings.Cut(content, " ")
	rest = strings.TrimSpace(rest)

	stmt := &StmtNode{nodeBase: nodeBase{pos: tok.Pos}}

	switch keyword {
	case "for":
		varName, iterExpr, ok := strings.Cut(rest, " in ")
		varName = strings.TrimSpace(varName)
		iterExpr = strings.TrimSpace(iterExpr)
		if !ok || varName == "" || iterExpr == "" {
			return nil, NewParseError(tok.Pos, "malformed 'for' statement: expected 'for <var> in <expr>'")
		}
		if !isIdentifier(varName) {
			return nil, NewParseErrorf(tok.Pos, "invalid loop variable name %q", varName)
		}
		stmt.Kind = StmtFor
		stmt.VarName = varName
		stmt.Expr = iterExpr

	case "endfor":
		if rest != "" {
			return nil, NewParseError(tok.Pos, "'endfor' takes no arguments")
		}
		stmt.Kind = StmtEndFor

	case "if":
		if rest == "" {
			return nil, NewParseError(tok.Pos, "'if' requires a condition")
		}
		stmt.Kind = StmtIf
		stmt.Expr = rest

	case "elif":
		if rest == "" {
			return nil, NewParseError(tok.Pos, "'elif' requires a condition")
		}
		stmt.Kind = StmtElif
		stmt.Expr = rest

	case "else":
		if rest != "" {
			return nil, NewParseError(tok.Pos, "'else' takes no arguments")
		}
		stmt.Kind = StmtElse

	case "endif":
		if rest != "" {
			return nil, NewParseError(tok.Pos, "'endif' takes no arguments")
		}
		stmt.Kind = StmtEndIf

	case "set":
		varName, expr, ok := strings.Cut(rest, "=")
		varName = strings.TrimSpace(varName)
		expr = strings.TrimSpace(expr)
		if !ok || varName == "" || expr == "" {
			return nil, NewParseError(tok.Pos, "malformed 'set' statement: expected 'set <name> = <expr>'")
		}
		if !isIdentifier(varName) {
			return nil, NewParseErrorf(tok.Pos, "invalid variable name %q", varName)
		}
		stmt.Kind = StmtSet
		stmt.VarName = varName
		stmt.Expr = expr

	default:
		return nil, NewParseErrorf(tok.Pos, "unknown statement %q", keyword)
	}

	return stmt, nil
}

// isIdentifier reports whether s is a valid template variable name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
