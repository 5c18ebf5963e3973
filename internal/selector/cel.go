package selector

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/zeebo/xxh3"
)

// PropertySource is implemented by resolvers that can expose all of their
// properties at once. CEL filters need it to bind the props variable.
type PropertySource interface {
	Properties() map[string]any
}

// CELFilter evaluates a CEL expression over props, text, json and size.
type CELFilter struct {
	expr string
	prog cel.Program
	hash uint64
}

// CompileCEL compiles a CEL expression that must yield a bool.
func CompileCEL(expr string) (*CELFilter, error) {
	expr = strings.TrimSpace(expr)
	env, err := cel.NewEnv(
		cel.Variable("props", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("text", cel.StringType),
		// parsed JSON payload
		cel.Variable("json", cel.DynType),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, &ParseError{Text: expr, Msg: iss.Err().Error(), Err: iss.Err()}
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, &ParseError{Text: expr, Msg: "expression must evaluate to bool"}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CELFilter{expr: expr, prog: prog, hash: xxh3.HashString("cel:" + expr)}, nil
}

// Evaluate returns false on evaluation errors.
func (f *CELFilter) Evaluate(r Resolver) bool {
	if f == nil {
		return true
	}
	props := map[string]any{}
	if ps, ok := r.(PropertySource); ok {
		for k, v := range ps.Properties() {
			props[k] = Normalize(v)
		}
	}
	payload := r.Payload()
	var doc any
	_ = json.Unmarshal(payload, &doc)
	out, _, err := f.prog.Eval(map[string]any{
		"props": props,
		"text":  string(payload),
		"json":  doc,
		"size":  int64(len(payload)),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (f *CELFilter) Equal(other Executor) bool {
	o, ok := other.(*CELFilter)
	return ok && o.expr == f.expr
}

func (f *CELFilter) Hash() uint64 { return f.hash }

func (f *CELFilter) String() string { return f.expr }
