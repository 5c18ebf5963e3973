package selector

import (
	"strings"

	"github.com/zeebo/xxh3"
)

// Resolver exposes message properties and payload to a filter.
type Resolver interface {
	// Get returns the named property. ok is false when it is absent.
	Get(key string) (any, bool)
	Payload() []byte
}

// Executor is a compiled filter.
type Executor interface {
	Evaluate(r Resolver) bool
	Equal(other Executor) bool
	Hash() uint64
	String() string
}

// Filter is a compiled selector expression. A nil *Filter matches everything.
type Filter struct {
	text      string
	root      node
	canonical string
	hash      uint64
}

// Evaluate reports whether r satisfies the filter. Unknown results do not match.
func (f *Filter) Evaluate(r Resolver) bool {
	if f == nil {
		return true
	}
	b, ok := truth(f.root.eval(r))
	return ok && b
}

// Equal reports structural equality of the folded trees.
func (f *Filter) Equal(other Executor) bool {
	if f == nil || other == nil {
		return f == nil && other == nil
	}
	return other.Hash() == f.hash && other.String() == f.canonical
}

func (f *Filter) Hash() uint64 {
	if f == nil {
		return 0
	}
	return f.hash
}

// String returns the canonical form of the folded tree.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.canonical
}

// Text returns the source the filter was compiled from.
func (f *Filter) Text() string {
	if f == nil {
		return ""
	}
	return f.text
}

// Compiler turns selector text into filters, resolving PARSER(...) calls
// through its extension registry.
type Compiler struct {
	exts *Registry
}

// NewCompiler returns a compiler using exts. A nil registry disables PARSER.
func NewCompiler(exts *Registry) *Compiler {
	return &Compiler{exts: exts}
}

// Extensions returns the compiler's registry.
func (c *Compiler) Extensions() *Registry { return c.exts }

// Compile parses text. Blank text compiles to a nil filter, which matches everything.
func (c *Compiler) Compile(text string) (*Filter, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	toks, err := (&lexer{src: text}).all()
	if err != nil {
		return nil, err
	}
	p := &parser{src: text, toks: toks, exts: c.exts}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	canonical := root.String()
	return &Filter{
		text:      text,
		root:      root,
		canonical: canonical,
		hash:      xxh3.HashString(canonical),
	}, nil
}

var defaultCompiler = NewCompiler(NewRegistry(JSONExtension{}))

// Default returns the shared compiler with the json extension registered.
func Default() *Compiler { return defaultCompiler }

// Compile parses text with the default compiler.
func Compile(text string) (*Filter, error) {
	return defaultCompiler.Compile(text)
}

// MustCompile is like Compile but panics on error.
func MustCompile(text string) *Filter {
	f, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return f
}

// MapResolver resolves properties from a map.
type MapResolver struct {
	Props map[string]any
	Body  []byte
}

func (m MapResolver) Get(key string) (any, bool) {
	v, ok := m.Props[key]
	return v, ok
}

func (m MapResolver) Payload() []byte { return m.Body }

func (m MapResolver) Properties() map[string]any { return m.Props }
