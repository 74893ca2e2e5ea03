package rack

import (
	"strconv"
	"strings"
)

// Parse compiles a query string into its AST. The grammar is
//
//	query     := target ':' condition (';' condition)*
//	condition := operand (op operand)+
//	operand   := FIELD_REF | literal | list
//	list      := literal (',' literal)*      // optionally parenthesized
//
// Quoted strings are string literals; True/False are booleans; any other
// bare identifier is a field reference resolved at evaluation time.
func Parse(query string) (*Query, error) {
	p := &parser{lex: lexer{input: query}, src: query}
	if err := p.advance(); err != nil {
		return nil, err
	}

	target, err := p.expect(tokIdent, "target type or tag name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon, ""); err != nil {
		return nil, err
	}

	q := &Query{Target: target.val, src: query}
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		q.Conds = append(q.Conds, *cond)
		if p.tok.typ == tokSemi {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.tok.typ != tokEOF {
		return nil, parseErrf(p.src, p.tok.off, []string{tokSemi.String(), tokEOF.String()}, "trailing input")
	}
	return q, nil
}

// MustParse is Parse for statically-known queries.
func MustParse(query string) *Query {
	return must(Parse(query))
}

type parser struct {
	lex lexer
	tok token
	src string
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(typ tokenType, what string) (token, error) {
	tok := p.tok
	if tok.typ != typ {
		expected := typ.String()
		if what != "" {
			expected = what
		}
		return token{}, parseErrf(p.src, tok.off, []string{expected}, "unexpected %v", tok.typ)
	}
	return tok, p.advance()
}

func (p *parser) parseCondition() (*Condition, error) {
	cond := &Condition{}

	first, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cond.Operands = append(cond.Operands, *first)

	if p.tok.typ != tokOp {
		return nil, parseErrf(p.src, p.tok.off, []string{tokOp.String()}, "condition needs at least one operator")
	}
	for p.tok.typ == tokOp {
		cond.Ops = append(cond.Ops, p.tok.op)
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		cond.Operands = append(cond.Operands, *operand)
	}
	return cond, nil
}

func (p *parser) parseOperand() (*Operand, error) {
	off := p.tok.off

	if p.tok.typ == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ""); err != nil {
			return nil, err
		}
		return &Operand{Lit: list, off: off}, nil
	}

	if p.tok.typ == tokIdent && !isBoolIdent(p.tok.val) {
		name := p.tok.val
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.typ == tokComma {
			return nil, parseErrf(p.src, p.tok.off, nil, "lists may contain only literals, not field references")
		}
		return &Operand{IsField: true, Field: name, off: off}, nil
	}

	first, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if p.tok.typ != tokComma {
		return &Operand{Lit: first, off: off}, nil
	}
	list := []Value{first}
	for p.tok.typ == tokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		next, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		list = append(list, next)
	}
	return &Operand{Lit: List(list...), off: off}, nil
}

func (p *parser) parseList() (Value, error) {
	var list []Value
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return Value{}, err
		}
		list = append(list, v)
		if p.tok.typ != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return Value{}, err
		}
	}
	return List(list...), nil
}

func (p *parser) parseLiteral() (Value, error) {
	tok := p.tok
	switch tok.typ {
	case tokString:
		return Str(tok.val), p.advance()
	case tokNumber:
		if strings.ContainsRune(tok.val, '.') {
			f, err := strconv.ParseFloat(tok.val, 64)
			if err != nil {
				return Value{}, parseErrf(p.src, tok.off, nil, "malformed number %q", tok.val)
			}
			return Float(f), p.advance()
		}
		n, err := strconv.ParseInt(tok.val, 10, 64)
		if err != nil {
			return Value{}, parseErrf(p.src, tok.off, nil, "malformed number %q", tok.val)
		}
		return Int(n), p.advance()
	case tokIdent:
		if isBoolIdent(tok.val) {
			return Bool(tok.val == "True"), p.advance()
		}
	}
	return Value{}, parseErrf(p.src, tok.off, []string{"literal"}, "unexpected %v", tok.typ)
}

func isBoolIdent(s string) bool {
	return s == "True" || s == "False"
}
