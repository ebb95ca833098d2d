package sqlparser

import "testing"

func TestLexerTokenizesBasicStatement(t *testing.T) {
	lx := newLexer(`SELECT "col", ` + "`other`" + ` FROM t WHERE x = 'it''s' -- trailing comment
`)
	var got []token
	for {
		tok := lx.nextToken()
		got = append(got, tok)
		if tok.Typ == tEOF {
			break
		}
	}
	want := []struct {
		typ tokenType
		val string
	}{
		{tKeyword, "SELECT"},
		{tIdent, "col"},
		{tSymbol, ","},
		{tIdent, "other"},
		{tKeyword, "FROM"},
		{tIdent, "t"},
		{tKeyword, "WHERE"},
		{tIdent, "x"},
		{tSymbol, "="},
		{tString, "it's"},
		{tEOF, ""},
	}
	if len(got) != len(want) {
		t.Fatalf("token count mismatch: got %d, want %d (%+v)", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Typ != w.typ || got[i].Val != w.val {
			t.Errorf("token %d: got {%v %q}, want {%v %q}", i, got[i].Typ, got[i].Val, w.typ, w.val)
		}
	}
}

func TestLexerBlockComment(t *testing.T) {
	lx := newLexer("SELECT /* skip me */ 1")
	first := lx.nextToken()
	if first.Typ != tKeyword || first.Val != "SELECT" {
		t.Fatalf("unexpected first token: %+v", first)
	}
	second := lx.nextToken()
	if second.Typ != tNumber || second.Val != "1" {
		t.Fatalf("expected block comment to be skipped, got %+v", second)
	}
}

func TestLexerCompoundSymbols(t *testing.T) {
	cases := map[string]string{
		"<=": "<=",
		">=": ">=",
		"<>": "<>",
		"!=": "!=",
		"||": "||",
	}
	for in, want := range cases {
		lx := newLexer(in)
		tok := lx.nextToken()
		if tok.Typ != tSymbol || tok.Val != want {
			t.Errorf("%q: got {%v %q}, want symbol %q", in, tok.Typ, tok.Val, want)
		}
	}
}
