package selector

import (
	"errors"
	"strings"
)

type parser struct {
	src  string
	toks []token
	pos  int
	exts *Registry
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(t token, format string, args ...any) *ParseError {
	return newParseError(p.src, t.pos, format, args...)
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", what, describe(t))
	}
	return p.advance(), nil
}

func describe(t token) string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return "'" + t.text + "'"
}

func (p *parser) parse() (node, error) {
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", describe(t))
	}
	return n, nil
}

func (p *parser) or() (node, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = fold(orNode{l: l, r: r}, l, r)
	}
	return l, nil
}

func (p *parser) and() (node, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = fold(andNode{l: l, r: r}, l, r)
	}
	return l, nil
}

func (p *parser) not() (node, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return fold(notNode{x: x}, x), nil
	}
	return p.predicate()
}

func (p *parser) predicate() (node, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "=", "<>", "<", "<=", ">", ">=":
			p.advance()
			r, err := p.additive()
			if err != nil {
				return nil, err
			}
			return fold(compareNode{op: cmpOp(t.text), l: l, r: r}, l, r), nil
		}
	}
	negate := false
	if p.isKeyword("NOT") {
		next := p.toks[p.pos+1]
		if next.kind == tokKeyword && (next.text == "BETWEEN" || next.text == "IN" || next.text == "LIKE") {
			p.advance()
			negate = true
		}
	}
	var n node
	switch {
	case p.acceptKeyword("BETWEEN"):
		n, err = p.between(l)
	case p.acceptKeyword("IN"):
		n, err = p.in(l)
	case p.acceptKeyword("LIKE"):
		n, err = p.like(l)
	case !negate && p.acceptKeyword("IS"):
		isNot := p.acceptKeyword("NOT")
		if !p.acceptKeyword("NULL") {
			return nil, p.errorf(p.peek(), "expected NULL, found %s", describe(p.peek()))
		}
		return fold(isNullNode{x: l, negate: isNot}, l), nil
	default:
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	if negate {
		n = fold(notNode{x: n}, n)
	}
	return n, nil
}

func (p *parser) between(x node) (node, error) {
	lo, err := p.additive()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("AND") {
		return nil, p.errorf(p.peek(), "expected AND in BETWEEN, found %s", describe(p.peek()))
	}
	hi, err := p.additive()
	if err != nil {
		return nil, err
	}
	return fold(betweenNode{x: x, lo: lo, hi: hi}, x, lo, hi), nil
}

func (p *parser) in(x node) (node, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var values []any
	for {
		v, err := p.inItem()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return fold(newInNode(x, values), x), nil
}

func (p *parser) inItem() (any, error) {
	t := p.peek()
	neg := false
	if t.kind == tokOp && t.text == "-" {
		neg = true
		p.advance()
		t = p.peek()
	}
	switch t.kind {
	case tokString:
		if !neg {
			p.advance()
			return t.val, nil
		}
	case tokInt:
		p.advance()
		if neg {
			return -t.val.(int64), nil
		}
		return t.val, nil
	case tokFloat:
		p.advance()
		if neg {
			return -t.val.(float64), nil
		}
		return t.val, nil
	case tokKeyword:
		if !neg && (t.text == "TRUE" || t.text == "FALSE") {
			p.advance()
			return t.text == "TRUE", nil
		}
	}
	return nil, p.errorf(t, "expected literal in IN list, found %s", describe(t))
}

func (p *parser) like(x node) (node, error) {
	pt, err := p.expect(tokString, "pattern string")
	if err != nil {
		return nil, err
	}
	escape, hasEscape := "", false
	if p.acceptKeyword("ESCAPE") {
		et, err := p.expect(tokString, "escape string")
		if err != nil {
			return nil, err
		}
		escape, hasEscape = et.text, true
	}
	pat, err := compileLike(pt.text, escape, hasEscape)
	if err != nil {
		pe := p.errorf(pt, "%v", err)
		pe.Err = err
		return nil, pe
	}
	return fold(likeNode{x: x, pattern: pat}, x), nil
}

func (p *parser) additive() (node, error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return l, nil
		}
		p.advance()
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = fold(arithNode{op: t.text[0], l: l, r: r}, l, r)
	}
}

func (p *parser) multiplicative() (node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return l, nil
		}
		p.advance()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = fold(arithNode{op: t.text[0], l: l, r: r}, l, r)
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.advance()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return x, nil
		}
		return fold(negNode{x: x}, x), nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.advance()
	switch t.kind {
	case tokInt, tokFloat, tokString:
		return literal{v: t.val}, nil
	case tokIdent:
		return identifier{name: t.text}, nil
	case tokLParen:
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			return literal{v: true}, nil
		case "FALSE":
			return literal{v: false}, nil
		case "NULL":
			return literal{v: nil}, nil
		case "PARSER":
			return p.extractor(t)
		}
	}
	return nil, p.errorf(t, "unexpected %s", describe(t))
}

func (p *parser) extractor(at token) (node, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	n := extractNode{exts: p.exts}
	first := p.advance()
	switch first.kind {
	case tokString:
		n.name = first.text
	case tokIdent:
		n.nameIdent = identifier{name: first.text}
	default:
		return nil, p.errorf(first, "expected parser name, found %s", describe(first))
	}
	for p.peek().kind == tokComma {
		p.advance()
		a := p.advance()
		switch a.kind {
		case tokString, tokInt, tokFloat:
			n.args = append(n.args, strings.TrimSpace(textOf(a.val)))
		default:
			return nil, p.errorf(a, "expected parser argument, found %s", describe(a))
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	if n.nameIdent == nil {
		ext, ok := p.exts.lookup(n.name)
		if !ok {
			pe := p.errorf(at, "unknown parser %q", n.name)
			pe.Err = ErrUnknownExtension
			return nil, pe
		}
		ex, err := ext.New(n.args)
		if err != nil {
			pe := p.errorf(at, "%v", err)
			pe.Err = err
			return nil, pe
		}
		n.fixed = ex
	}
	return n, nil
}

// IsParseError reports whether err came from malformed filter text.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
