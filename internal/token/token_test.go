package token

import "testing"

func lexemes(toks []Token) []string {
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.Kind == KindEOF {
			continue
		}
		out = append(out, t.Lexeme)
	}
	return out
}

func assertLexemes(t *testing.T, src string, want []string) {
	t.Helper()
	got := lexemes(Tokenize("t.c", src))
	if len(got) != len(want) {
		t.Fatalf("Tokenize(%q) = %v, want %v", src, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize(%q)[%d] = %q, want %q", src, i, got[i], want[i])
		}
	}
}

func TestTokenizeBasic(t *testing.T) {
	assertLexemes(t, "i32 main ( ) { return 0 ; }",
		[]string{"i32", "main", "(", ")", "{", "return", "0", ";", "}"})
}

func TestTokenizeMultiCharOperators(t *testing.T) {
	assertLexemes(t, "a += b; c <<= 1; d == e; f != g; h <= i; j >= k;",
		[]string{"a", "+=", "b", ";", "c", "<<=", "1", ";", "d", "==", "e", ";",
			"f", "!=", "g", ";", "h", "<=", "i", ";", "j", ">=", "k", ";"})
}

func TestTokenizeArrowAndIncDec(t *testing.T) {
	assertLexemes(t, "a->b; x++; y--;", []string{"a", "->", "b", ";", "x", "++", ";", "y", "--", ";"})
}

func TestTokenizeSkipsLineComment(t *testing.T) {
	assertLexemes(t, "i32 x = 1; // trailing comment\nreturn x;",
		[]string{"i32", "x", "=", "1", ";", "return", "x", ";"})
}

func TestTokenizeSkipsBlockComment(t *testing.T) {
	assertLexemes(t, "i32 /* inline */ x = 1;", []string{"i32", "x", "=", "1", ";"})
}

func TestTokenizeUnterminatedBlockCommentConsumesToEOF(t *testing.T) {
	assertLexemes(t, "i32 x = 1; /* never closed", []string{"i32", "x", "=", "1", ";"})
}

func TestTokenizeKeywordsAndTypes(t *testing.T) {
	toks := Tokenize("t.c", "while i32")
	if toks[0].Kind != KindKeyword {
		t.Fatalf("expected KindKeyword for 'while', got %v", toks[0].Kind)
	}
	if toks[1].Kind != KindType {
		t.Fatalf("expected KindType for 'i32', got %v", toks[1].Kind)
	}
}

func TestTokenizeLocationsTrackLineAndCol(t *testing.T) {
	toks := Tokenize("t.c", "a\nb")
	if toks[0].Location.Line != 1 {
		t.Fatalf("expected line 1 for 'a', got %d", toks[0].Location.Line)
	}
	if toks[1].Location.Line != 2 {
		t.Fatalf("expected line 2 for 'b', got %d", toks[1].Location.Line)
	}
}

// TestTokenizeWhitespaceNeutralRoundTrip exercises spec invariant 1: the
// concatenation of token lexemes separated by single spaces, reparsed,
// yields the same token sequence (modulo locations).
func TestTokenizeWhitespaceNeutralRoundTrip(t *testing.T) {
	src := "i32 f(i32 x){if(x<5)return 1;return 0;}"
	first := Tokenize("t.c", src)

	rejoined := ""
	for i, tok := range first {
		if tok.Kind == KindEOF {
			break
		}
		if i > 0 {
			rejoined += " "
		}
		rejoined += tok.Lexeme
	}

	second := Tokenize("t.c", rejoined)
	if len(first) != len(second) {
		t.Fatalf("round-trip token count mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Lexeme != second[i].Lexeme || first[i].Kind != second[i].Kind {
			t.Fatalf("round-trip mismatch at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
