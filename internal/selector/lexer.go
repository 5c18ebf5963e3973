package selector

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokKeyword
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string // keyword text is upper-cased
	pos  int
	val  any
}

var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "BETWEEN": true, "IN": true,
	"LIKE": true, "ESCAPE": true, "IS": true, "NULL": true, "TRUE": true,
	"FALSE": true, "PARSER": true,
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) *ParseError {
	return newParseError(l.src, pos, format, args...)
}

func (l *lexer) all() ([]token, error) {
	var out []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])
	switch {
	case r == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case r == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case r == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case r == '\'':
		return l.str()
	case r == '<' || r == '>' || r == '=' || r == '!':
		return l.comparison()
	case r == '+' || r == '-' || r == '*' || r == '/':
		l.pos++
		return token{kind: tokOp, text: string(r), pos: start}, nil
	case unicode.IsDigit(r) || (r == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.number()
	case isIdentStart(r):
		l.pos += w
		for l.pos < len(l.src) {
			r, w := utf8.DecodeRuneInString(l.src[l.pos:])
			if !isIdentPart(r) {
				break
			}
			l.pos += w
		}
		text := l.src[start:l.pos]
		if up := strings.ToUpper(text); keywords[up] {
			return token{kind: tokKeyword, text: up, pos: start}, nil
		}
		return token{kind: tokIdent, text: text, pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected character %q", r)
}

func (l *lexer) comparison() (token, error) {
	start := l.pos
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "<=", ">=", "<>", "==":
		l.pos += 2
		if two == "==" {
			two = "="
		}
		return token{kind: tokOp, text: two, pos: start}, nil
	case "!=":
		l.pos += 2
		return token{kind: tokOp, text: "<>", pos: start}, nil
	}
	c := l.src[l.pos]
	if c == '!' {
		return token{}, l.errorf(start, "unexpected character '!'")
	}
	l.pos++
	return token{kind: tokOp, text: string(c), pos: start}, nil
}

func (l *lexer) str() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start, val: b.String()}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, l.errorf(start, "unterminated string literal")
}

func (l *lexer) number() (token, error) {
	start := l.pos
	src := l.src
	if strings.HasPrefix(src[l.pos:], "0x") || strings.HasPrefix(src[l.pos:], "0X") {
		l.pos += 2
		for l.pos < len(src) && isHex(src[l.pos]) {
			l.pos++
		}
		if l.pos < len(src) && (src[l.pos] == 'l' || src[l.pos] == 'L') {
			l.pos++
		}
		digits := strings.TrimRight(src[start+2:l.pos], "lL")
		v, err := strconv.ParseInt(digits, 16, 64)
		if err != nil {
			return token{}, l.errorf(start, "invalid hex literal %q", src[start:l.pos])
		}
		return token{kind: tokInt, text: src[start:l.pos], pos: start, val: v}, l.noIdentAfter()
	}
	isFloat := false
	for l.pos < len(src) && isDigit(src[l.pos]) {
		l.pos++
	}
	if l.pos < len(src) && src[l.pos] == '.' {
		isFloat = true
		l.pos++
		for l.pos < len(src) && isDigit(src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(src) && (src[l.pos] == 'e' || src[l.pos] == 'E') {
		p := l.pos + 1
		if p < len(src) && (src[p] == '+' || src[p] == '-') {
			p++
		}
		if p < len(src) && isDigit(src[p]) {
			isFloat = true
			l.pos = p
			for l.pos < len(src) && isDigit(src[l.pos]) {
				l.pos++
			}
		}
	}
	body := src[start:l.pos]
	bits := 64
	if l.pos < len(src) {
		switch src[l.pos] {
		case 'f', 'F':
			isFloat = true
			bits = 32
			l.pos++
		case 'd', 'D':
			isFloat = true
			l.pos++
		case 'l', 'L':
			if isFloat {
				return token{}, l.errorf(start, "long suffix on floating literal %q", body)
			}
			l.pos++
		}
	}
	text := src[start:l.pos]
	if isFloat {
		f, err := strconv.ParseFloat(body, bits)
		if err != nil {
			return token{}, l.errorf(start, "invalid number %q", text)
		}
		return token{kind: tokFloat, text: text, pos: start, val: f}, l.noIdentAfter()
	}
	i, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(body, 64)
		if ferr != nil {
			return token{}, l.errorf(start, "invalid number %q", text)
		}
		return token{kind: tokFloat, text: text, pos: start, val: f}, l.noIdentAfter()
	}
	return token{kind: tokInt, text: text, pos: start, val: i}, l.noIdentAfter()
}

// noIdentAfter rejects literals glued to identifiers such as 12abc.
func (l *lexer) noIdentAfter() error {
	if l.pos >= len(l.src) {
		return nil
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	if isIdentPart(r) {
		return l.errorf(l.pos, "unexpected character %q after number", r)
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}
