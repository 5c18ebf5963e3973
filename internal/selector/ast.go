package selector

import (
	"math"
	"sort"
	"strings"
)

// node is one operator in a compiled tree. String is the canonical form used
// for structural equality and hashing.
type node interface {
	eval(r Resolver) any
	String() string
}

type literal struct{ v any }

func (n literal) eval(Resolver) any { return n.v }
func (n literal) String() string    { return literalString(n.v) }

type identifier struct{ name string }

func (n identifier) eval(r Resolver) any {
	if r == nil {
		return nil
	}
	v, ok := r.Get(n.name)
	if !ok {
		return nil
	}
	return Normalize(v)
}

func (n identifier) String() string { return n.name }

func isLiteral(n node) bool {
	_, ok := n.(literal)
	return ok
}

// fold replaces n with its value when every operand is a literal.
func fold(n node, operands ...node) node {
	for _, o := range operands {
		if !isLiteral(o) {
			return n
		}
	}
	return literal{v: n.eval(nil)}
}

// ---- boolean ----

type andNode struct{ l, r node }

func (n andNode) eval(r Resolver) any {
	lv, lk := truth(n.l.eval(r))
	if lk && !lv {
		return false
	}
	rv, rk := truth(n.r.eval(r))
	if rk && !rv {
		return false
	}
	if !lk || !rk {
		return nil
	}
	return true
}

func (n andNode) String() string { return "(" + n.l.String() + " AND " + n.r.String() + ")" }

type orNode struct{ l, r node }

func (n orNode) eval(r Resolver) any {
	lv, lk := truth(n.l.eval(r))
	if lk && lv {
		return true
	}
	rv, rk := truth(n.r.eval(r))
	if rk && rv {
		return true
	}
	if !lk || !rk {
		return nil
	}
	return false
}

func (n orNode) String() string { return "(" + n.l.String() + " OR " + n.r.String() + ")" }

type notNode struct{ x node }

func (n notNode) eval(r Resolver) any {
	v, ok := truth(n.x.eval(r))
	if !ok {
		return nil
	}
	return !v
}

func (n notNode) String() string { return "(NOT " + n.x.String() + ")" }

// ---- comparison ----

type cmpOp string

const (
	opEq cmpOp = "="
	opNe cmpOp = "<>"
	opLt cmpOp = "<"
	opLe cmpOp = "<="
	opGt cmpOp = ">"
	opGe cmpOp = ">="
)

type compareNode struct {
	op   cmpOp
	l, r node
}

func (n compareNode) eval(r Resolver) any {
	lv := n.l.eval(r)
	if lv == nil {
		return nil
	}
	rv := n.r.eval(r)
	if rv == nil {
		return nil
	}
	return compare(n.op, lv, rv)
}

func compare(op cmpOp, lv, rv any) any {
	switch op {
	case opEq:
		return equalValues(lv, rv)
	case opNe:
		return !equalValues(lv, rv)
	}
	c, ok := compareValues(lv, rv)
	if !ok {
		return nil
	}
	switch op {
	case opLt:
		return c < 0
	case opLe:
		return c <= 0
	case opGt:
		return c > 0
	default:
		return c >= 0
	}
}

func (n compareNode) String() string {
	return "(" + n.l.String() + " " + string(n.op) + " " + n.r.String() + ")"
}

// ---- arithmetic ----

type arithNode struct {
	op   byte
	l, r node
}

func (n arithNode) eval(r Resolver) any {
	lv, ok := numeric(n.l.eval(r))
	if !ok {
		return nil
	}
	rv, ok := numeric(n.r.eval(r))
	if !ok {
		return nil
	}
	return arith(n.op, lv, rv)
}

func arith(op byte, lv, rv any) any {
	li, lInt := lv.(int64)
	ri, rInt := rv.(int64)
	if lInt && rInt {
		switch op {
		case '+':
			return li + ri
		case '-':
			return li - ri
		case '*':
			return li * ri
		case '/':
			if ri == 0 {
				return math.NaN()
			}
			return li / ri
		}
	}
	lf, rf := toFloat(lv), toFloat(rv)
	switch op {
	case '+':
		return lf + rf
	case '-':
		return lf - rf
	case '*':
		return lf * rf
	default:
		if rf == 0 {
			return math.NaN()
		}
		return lf / rf
	}
}

func (n arithNode) String() string {
	return "(" + n.l.String() + " " + string(n.op) + " " + n.r.String() + ")"
}

type negNode struct{ x node }

func (n negNode) eval(r Resolver) any {
	v, ok := numeric(n.x.eval(r))
	if !ok {
		return nil
	}
	if i, ok := v.(int64); ok {
		return -i
	}
	return -toFloat(v)
}

func (n negNode) String() string { return "(-" + n.x.String() + ")" }

// ---- predicates ----

type betweenNode struct{ x, lo, hi node }

func (n betweenNode) eval(r Resolver) any {
	v := n.x.eval(r)
	if v == nil {
		return nil
	}
	lower := compareNode{op: opGe, l: literal{v}, r: n.lo}.eval(r)
	if b, ok := truth(lower); ok && !b {
		return false
	}
	upper := compareNode{op: opLe, l: literal{v}, r: n.hi}.eval(r)
	return andNode{l: literal{lower}, r: literal{upper}}.eval(r)
}

func (n betweenNode) String() string {
	return "(" + n.x.String() + " BETWEEN " + n.lo.String() + " AND " + n.hi.String() + ")"
}

type inNode struct {
	x     node
	set   map[string]struct{}
	items []string // canonical, sorted
}

func newInNode(x node, values []any) inNode {
	n := inNode{x: x, set: make(map[string]struct{}, len(values))}
	for _, v := range values {
		key := textOf(v)
		if _, dup := n.set[key]; dup {
			continue
		}
		n.set[key] = struct{}{}
		n.items = append(n.items, literalString(v))
	}
	sort.Strings(n.items)
	return n
}

func (n inNode) eval(r Resolver) any {
	v := n.x.eval(r)
	if v == nil {
		return false
	}
	_, ok := n.set[textOf(v)]
	return ok
}

func (n inNode) String() string {
	return "(" + n.x.String() + " IN (" + strings.Join(n.items, ", ") + "))"
}

type isNullNode struct {
	x      node
	negate bool
}

func (n isNullNode) eval(r Resolver) any {
	absent := n.x.eval(r) == nil
	return absent != n.negate
}

func (n isNullNode) String() string {
	if n.negate {
		return "(" + n.x.String() + " IS NOT NULL)"
	}
	return "(" + n.x.String() + " IS NULL)"
}

type likeNode struct {
	x       node
	pattern *likePattern
}

func (n likeNode) eval(r Resolver) any {
	v := n.x.eval(r)
	if v == nil {
		return false
	}
	return n.pattern.match(textOf(v))
}

func (n likeNode) String() string {
	return "(" + n.x.String() + " LIKE " + n.pattern.String() + ")"
}

// ---- extractor ----

type extractNode struct {
	name      string // literal extension name, empty when dynamic
	nameIdent node   // identifier resolving to the extension name
	args      []string
	fixed     Extractor
	exts      *Registry
}

func (n extractNode) eval(r Resolver) any {
	if r == nil {
		return nil
	}
	ex := n.fixed
	if ex == nil {
		name, ok := n.nameIdent.eval(r).(string)
		if !ok {
			return nil
		}
		ext, found := n.exts.lookup(name)
		if !found {
			return nil
		}
		var err error
		if ex, err = ext.New(n.args); err != nil {
			return nil
		}
	}
	return Normalize(ex.Extract(r))
}

func (n extractNode) String() string {
	var b strings.Builder
	b.WriteString("PARSER(")
	if n.fixed != nil {
		b.WriteString(literalString(strings.ToLower(n.name)))
	} else {
		b.WriteString(n.nameIdent.String())
	}
	for _, a := range n.args {
		b.WriteString(", ")
		b.WriteString(literalString(a))
	}
	b.WriteString(")")
	return b.String()
}
