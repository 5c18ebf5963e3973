package selector

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, text string, props map[string]any, body string) bool {
	t.Helper()
	f, err := Compile(text)
	require.NoError(t, err, text)
	return f.Evaluate(MapResolver{Props: props, Body: []byte(body)})
}

func TestConformance(t *testing.T) {
	cases := []struct {
		text  string
		props map[string]any
		want  bool
	}{
		{"not dummy", nil, false},
		{"not dummy", map[string]any{"dummy": false}, true},
		{"1.0 <> false", nil, true},
		{"'it''s' = 'its'", nil, false},
		{"'it''s' = 'it''s'", nil, true},
		{"92d = 92", nil, true},
		{"93f = 93", nil, true},
		{"--1.0 = 1.0", nil, true},
		{"TrUe", nil, true},
		{"arg0 = 10 / 0", map[string]any{"arg0": 5}, false},
		{"arg0 = 10 / 0.0", map[string]any{"arg0": 5.0}, false},
		{"releaseYear * 2 > (2000 - 20.5) / 123.4e9", map[string]any{"releaseYear": 1}, true},
		{`underscored LIKE '\_%' ESCAPE '\'`, map[string]any{"underscored": "_hello"}, true},
		{`underscored LIKE '\_%' ESCAPE '\'`, map[string]any{"underscored": "hello"}, false},
		{"キー = 'v'", map[string]any{"キー": "v"}, true},
		{"ключ = 1", map[string]any{"ключ": int32(1)}, true},
		{"市 IN ('東京', '大阪')", map[string]any{"市": "大阪"}, true},
		{"Πόλη LIKE 'Αθ%'", map[string]any{"Πόλη": "Αθήνα"}, true},
		{"0x1F = 31", nil, true},
		{"7 / 2 = 3", nil, true},
		{"7 / 2.0 = 3.5", nil, true},
		{"v = 10", map[string]any{"v": "10"}, true},
		{"name > 'abc'", map[string]any{"name": "abd"}, true},
		{"flag = TRUE", map[string]any{"flag": true}, true},
		{"flag = 1", map[string]any{"flag": true}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, eval(t, tc.text, tc.props, ""), tc.text)
	}
}

func TestThreeValuedLogic(t *testing.T) {
	p := map[string]any{"b": 2}
	require.True(t, eval(t, "a > 1 OR b = 2", p, ""))
	require.False(t, eval(t, "a > 1 AND b = 2", p, ""))
	require.False(t, eval(t, "NOT (a > 1 AND b = 2)", p, ""))
	require.True(t, eval(t, "NOT (a > 1 AND b = 3)", p, ""))
	require.False(t, eval(t, "NOT (a > 1)", p, ""))
	require.True(t, eval(t, "a IS NULL AND b IS NOT NULL", p, ""))
	// IN and LIKE treat absent values as non-matching rather than unknown.
	require.False(t, eval(t, "a IN ('x')", p, ""))
	require.True(t, eval(t, "a NOT IN ('x')", p, ""))
	require.True(t, eval(t, "a NOT LIKE 'x%'", p, ""))
}

func TestBetweenAndIn(t *testing.T) {
	require.True(t, eval(t, "p BETWEEN 1 AND 5", map[string]any{"p": 3}, ""))
	require.False(t, eval(t, "p BETWEEN 1 AND 5", map[string]any{"p": 7}, ""))
	require.True(t, eval(t, "p NOT BETWEEN 1 AND 5", map[string]any{"p": 7}, ""))
	require.True(t, eval(t, "p BETWEEN 1.5 AND 2.5", map[string]any{"p": 2}, ""))
	require.True(t, eval(t, "p IN (1, 2, -3)", map[string]any{"p": int64(-3)}, ""))
	require.False(t, eval(t, "p IN (1, 2)", map[string]any{"p": 4}, ""))
}

func TestEqualityAndHash(t *testing.T) {
	a := MustCompile("a = 1 AND b IN ('y', 'x', 'x')")
	b := MustCompile("a=1 and b in ('x','y')")
	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())

	for _, text := range []string{"arg0 = 10 / 0", "releaseYear * 2 > (2000 - 20.5) / 123.4e9", "PARSER('json', 'a.b') = 1"} {
		x, y := MustCompile(text), MustCompile(text)
		require.True(t, x.Equal(y), text)
		require.Equal(t, x.Hash(), y.Hash(), text)
	}

	require.False(t, MustCompile("a = 1").Equal(MustCompile("a = 2")))
}

func TestConstantFolding(t *testing.T) {
	require.Equal(t, "TRUE", MustCompile("1 + 2 = 3").String())
	require.Equal(t, "(a > 6)", MustCompile("a > 2 * 3").String())
	require.Equal(t, "FALSE", MustCompile("'abc' LIKE 'b%'").String())
}

func TestBlankCompilesToMatchAll(t *testing.T) {
	f, err := Compile("   ")
	require.NoError(t, err)
	require.Nil(t, f)
	require.True(t, f.Evaluate(MapResolver{}))
}

func TestParserExtension(t *testing.T) {
	body := `{"a":{"b":[7,8]},"x":"y","f":1.5,"o":{"k":1}}`
	require.True(t, eval(t, "PARSER('json', 'a.b.0') = 7", nil, body))
	require.True(t, eval(t, "PARSER('JSON', 'f') > 1", nil, body))
	require.True(t, eval(t, "PARSER('json', 'o') IS NULL", nil, body))
	require.True(t, eval(t, "PARSER(kind, 'x') = 'y'", map[string]any{"kind": "json"}, body))
	require.False(t, eval(t, "PARSER(kind, 'x') = 'y'", map[string]any{"kind": "xml"}, body))
	require.False(t, eval(t, "PARSER('json', 'x') = 'y'", nil, "not json"))

	_, err := Compile("PARSER('xml', 'a') = 1")
	require.ErrorIs(t, err, ErrUnknownExtension)

	c := NewCompiler(nil)
	_, err = c.Compile("PARSER('json', 'a') = 1")
	require.ErrorIs(t, err, ErrUnknownExtension)
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"a = ",
		"(a = 1",
		"12abc = 1",
		"a LIKE 'x\\' ESCAPE '\\'",
		"a LIKE 'x' ESCAPE 'ab'",
		"a IN ()",
		"'unterminated",
		"a ! b",
		"a IS 1",
	} {
		_, err := Compile(text)
		require.Error(t, err, text)
		require.True(t, IsParseError(err), text)
	}

	_, err := Compile("a LIKE '" + strings.Repeat("a", MaxPatternBytes+1) + "'")
	require.True(t, errors.Is(err, ErrPatternTooLarge))
}

func TestCollapseWildcards(t *testing.T) {
	escaped := map[string]string{
		`\%%%%%%%`:      `\%%`,
		`\_%_%_%_%_%_%`: `\_%`,
		`%%%%%%\%`:      `%\%`,
		`_%_%_%_\%_%_%`: `%\%%`,
		`%_%_%_%\_%_%_`: `%\_%`,
	}
	for in, want := range escaped {
		require.Equal(t, want, collapseWildcards(in, '\\', true), in)
	}
	plain := map[string]string{
		"%%%%%%%":          "%",
		"_%_%_%TEXT_%_%_%": "%TEXT%",
		"TEXT%_%_%_%_%_%_": "TEXT%",
		"a__b":             "a__b",
	}
	for in, want := range plain {
		require.Equal(t, want, collapseWildcards(in, 0, false), in)
	}
}

func TestLikeMatching(t *testing.T) {
	cases := []struct {
		pattern, input string
		want           bool
	}{
		{"Thr_ll%", "Thrill seeker", true},
		{"Thr_ll%", "Thrll", false},
		{"%ill%", "Thrill seeker", true},
		{"a_c", "abc", true},
		{"a_c", "abbc", false},
		{"%a%b%c", "xxaybzc", true},
		{"%a%b%c", "xxaybz", false},
		{"", "", true},
		{"%", "", true},
		{"a%b_c", "axxxbyc", true},
		{"a%b_c", "axxxbc", false},
	}
	for _, tc := range cases {
		p, err := compileLike(tc.pattern, "", false)
		require.NoError(t, err)
		require.Equal(t, tc.want, p.match(tc.input), "%s ~ %s", tc.input, tc.pattern)
	}
}

func TestLikeEscapedPercent(t *testing.T) {
	p, err := compileLike(`100\%`, `\`, true)
	require.NoError(t, err)
	require.True(t, p.match("100%"))
	require.False(t, p.match("1000"))
}

func TestCEL(t *testing.T) {
	f, err := CompileCEL(`props.region == "eu" && size > 2`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(MapResolver{Props: map[string]any{"region": "eu"}, Body: []byte("abc")}))
	require.False(t, f.Evaluate(MapResolver{Props: map[string]any{"region": "us"}, Body: []byte("abc")}))
	// missing key is an evaluation error, which never matches
	require.False(t, f.Evaluate(MapResolver{Body: []byte("abc")}))

	g, err := CompileCEL(`json.temp > 40.0`)
	require.NoError(t, err)
	require.True(t, g.Evaluate(MapResolver{Body: []byte(`{"temp": 41.5}`)}))
	require.True(t, f.Equal(f))
	require.False(t, f.Equal(g))

	_, err = CompileCEL(`size + 1`)
	require.Error(t, err)
}
