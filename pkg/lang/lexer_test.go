package lang

import "testing"

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	lx := NewLexer([]byte(src), "test.oak", nil)
	var toks []Token
	for {
		tok, err := lx.NextToken()
		if err != nil {
			t.Fatalf("NextToken: %v", err)
		}
		toks = append(toks, tok)
		if tok.Type == TokEOF {
			return toks
		}
	}
}

func TestLexerBasicTokens(t *testing.T) {
	toks := lexAll(t, `x = 1 + 2.5 * "hi"`)
	want := []TokenType{TokIdent, TokAssign, TokInt, TokPlus, TokFloat, TokStar, TokString, TokEOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Errorf("token %d: got %d, want %d", i, toks[i].Type, tt)
		}
	}
}

func TestLexerKeywordsAreCaseInsensitive(t *testing.T) {
	for _, src := range []string{"IF", "If", "if"} {
		toks := lexAll(t, src)
		if toks[0].Type != TokIf {
			t.Errorf("%q: got %d, want IF", src, toks[0].Type)
		}
	}
}

func TestLexerHexAndFloat(t *testing.T) {
	toks := lexAll(t, "0x1F 3.14 10")
	if toks[0].Type != TokInt || toks[0].Lexeme != "0x1F" {
		t.Errorf("hex literal: got %+v", toks[0])
	}
	if toks[1].Type != TokFloat || toks[1].Lexeme != "3.14" {
		t.Errorf("float literal: got %+v", toks[1])
	}
	if toks[2].Type != TokInt || toks[2].Lexeme != "10" {
		t.Errorf("int literal: got %+v", toks[2])
	}
}

func TestLexerRangeVsTwoDots(t *testing.T) {
	toks := lexAll(t, "1..5")
	if toks[0].Type != TokInt || toks[1].Type != TokRange || toks[2].Type != TokInt {
		t.Fatalf("got %v", toks)
	}
}

func TestLexerStringEscapes(t *testing.T) {
	toks := lexAll(t, `"a\nb\t\"c\""`)
	if toks[0].Lexeme != "a\nb\t\"c\"" {
		t.Errorf("got %q", toks[0].Lexeme)
	}
}

func TestLexerUnterminatedString(t *testing.T) {
	lx := NewLexer([]byte(`"abc`), "test.oak", nil)
	if _, err := lx.NextToken(); err == nil {
		t.Fatal("expected error for unterminated string, got nil")
	}
}

type mapResolver map[string]string

func (m mapResolver) ReadInclude(name string) (string, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return "", &LexError{Message: "not found"}
}

func TestLexerIncludeExpansion(t *testing.T) {
	resolver := mapResolver{"lib.oak": "const pi = 3\n"}
	lx := NewLexer([]byte("#include \"lib.oak\"\nprint pi\n"), "main.oak", resolver)
	var toks []Token
	for {
		tok, err := lx.NextToken()
		if err != nil {
			t.Fatalf("NextToken: %v", err)
		}
		toks = append(toks, tok)
		if tok.Type == TokEOF {
			break
		}
	}
	var kinds []TokenType
	for _, tok := range toks {
		kinds = append(kinds, tok.Type)
	}
	want := []TokenType{TokConst, TokIdent, TokAssign, TokInt, TokNewline, TokPrint, TokIdent, TokNewline, TokEOF}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want shape %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("token %d: got %d, want %d", i, kinds[i], k)
		}
	}
}

func TestLexerCyclicIncludeIsRejected(t *testing.T) {
	resolver := mapResolver{"a.oak": "#include \"main.oak\"\n"}
	lx := NewLexer([]byte("#include \"a.oak\"\n"), "main.oak", resolver)
	for i := 0; i < 100; i++ {
		tok, err := lx.NextToken()
		if err != nil {
			return
		}
		if tok.Type == TokEOF {
			t.Fatal("expected a cyclic #include error, reached EOF instead")
		}
	}
	t.Fatal("expected a cyclic #include error within 100 tokens")
}
