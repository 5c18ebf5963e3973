package selector

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPatternBytes bounds LIKE patterns.
const MaxPatternBytes = 100 * 1024

type likeKind uint8

const (
	likeLit likeKind = iota
	likeOne
	likeAny
)

type likeElem struct {
	kind likeKind
	r    rune
}

type likePattern struct {
	source    string // collapsed pattern text
	escape    rune
	hasEscape bool
	elems     []likeElem
}

func compileLike(pattern string, escape string, hasEscape bool) (*likePattern, error) {
	if len(pattern) > MaxPatternBytes {
		return nil, ErrPatternTooLarge
	}
	p := &likePattern{hasEscape: hasEscape}
	if hasEscape {
		if utf8.RuneCountInString(escape) != 1 {
			return nil, fmt.Errorf("escape must be a single character, got %q", escape)
		}
		p.escape, _ = utf8.DecodeRuneInString(escape)
	}
	p.source = collapseWildcards(pattern, p.escape, hasEscape)

	runes := []rune(p.source)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case hasEscape && r == p.escape:
			if i+1 >= len(runes) {
				return nil, errors.New("pattern ends with escape character")
			}
			i++
			p.elems = append(p.elems, likeElem{kind: likeLit, r: runes[i]})
		case r == '%':
			p.elems = append(p.elems, likeElem{kind: likeAny})
		case r == '_':
			p.elems = append(p.elems, likeElem{kind: likeOne})
		default:
			p.elems = append(p.elems, likeElem{kind: likeLit, r: r})
		}
	}
	return p, nil
}

// collapseWildcards rewrites every run of unescaped wildcards that contains a
// '%' into a single '%'. Runs made only of '_' are kept.
func collapseWildcards(pattern string, escape rune, hasEscape bool) string {
	var b strings.Builder
	b.Grow(len(pattern))
	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		if strings.ContainsRune(string(run), '%') {
			b.WriteRune('%')
		} else {
			b.WriteString(string(run))
		}
		run = run[:0]
	}
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case hasEscape && r == escape:
			flush()
			b.WriteRune(r)
			if i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			}
		case r == '%' || r == '_':
			run = append(run, r)
		default:
			flush()
			b.WriteRune(r)
		}
	}
	flush()
	return b.String()
}

// match is a backtracking matcher that remembers only the most recent '%'.
func (p *likePattern) match(s string) bool {
	in := []rune(s)
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(in) {
		if pi < len(p.elems) {
			e := p.elems[pi]
			switch {
			case e.kind == likeAny:
				star, mark = pi, si
				pi++
				continue
			case e.kind == likeOne || e.r == in[si]:
				pi++
				si++
				continue
			}
		}
		if star < 0 {
			return false
		}
		mark++
		pi, si = star+1, mark
	}
	for pi < len(p.elems) && p.elems[pi].kind == likeAny {
		pi++
	}
	return pi == len(p.elems)
}

func (p *likePattern) String() string {
	s := literalString(p.source)
	if p.hasEscape {
		s += " ESCAPE " + literalString(string(p.escape))
	}
	return s
}
