package morph

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

var testClasses = map[string]string{
	"C": "bcdfghjklmnpqrstvwxz",
	"V": "aeiou",
}

// rootOf applies a match's substitution to word.
func rootOf(word []rune, m MatchResult) string {
	return string(word[:m.Start]) + string(word[m.Start+m.KillLeft:m.End-m.KillRight]) + string(word[m.End:])
}

// ═══════════════════════════════════════════════════════════════════════════════
// MATCH TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestMatch(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		word      string
		wantOK    bool
		start     int
		end       int
		killLeft  int
		killRight int
		root      string
	}{
		{"suffix", "< i n g #", "walking", true, 4, 7, 0, 3, "walk"},
		{"context char", "r < í a m o s #", "hablaríamos", true, 5, 11, 0, 5, "hablar"},
		{"gemination", "$C < & i n g #", "running", true, 2, 7, 0, 4, "run"},
		{"no gemination", "$C < & i n g #", "walking", false, 0, 0, 0, 0, ""},
		{"class", "$C < i e s #", "cities", true, 2, 6, 0, 3, "cit"},
		{"class mismatch", "$C < i e s #", "goies", false, 0, 0, 0, 0, ""},
		{"prefix", "# u n >", "unhappy", true, 0, 2, 2, 0, "happy"},
		{"prefix anchored", "# u n >", "fun", false, 0, 0, 0, 0, ""},
		{"right anchor", "< e d #", "edge", false, 0, 0, 0, 0, ""},
		{"unanchored tail", "a b", "xabyz", true, 1, 3, 0, 0, "xabyz"},
		{"unanchored rightmost", "a b", "abab", true, 2, 4, 0, 0, "abab"},
		{"plus", "# f +o #", "fooo", true, 0, 4, 0, 0, "fooo"},
		{"plus needs one", "# f +o #", "f", false, 0, 0, 0, 0, ""},
		{"star zero", "# f *o #", "f", true, 0, 1, 0, 0, "f"},
		{"optional present", "# b ?a d #", "bad", true, 0, 3, 0, 0, "bad"},
		{"optional absent", "# b ?a d #", "bd", true, 0, 2, 0, 0, "bd"},
		{"optional wrong", "# b ?a d #", "bed", false, 0, 0, 0, 0, ""},
		{"anywhere", "# a .s #", "asxyz", true, 0, 5, 0, 0, "asxyz"},
		{"anywhere missing", "# a .s #", "axyz", false, 0, 0, 0, 0, ""},
		{"kill through star", "$V < *s #", "bass", true, 1, 4, 0, 2, "ba"},
		{"empty word", "a", "", false, 0, 0, 0, 0, ""},
	}
	var m Matcher
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompilePattern(tt.pattern, testClasses)
			if err != nil {
				t.Fatalf("CompilePattern(%q): %v", tt.pattern, err)
			}
			word := []rune(tt.word)
			res, ok := m.Match(p, word)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q, %q) ok = %v, want %v", tt.pattern, tt.word, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if res.Start != tt.start || res.End != tt.end {
				t.Errorf("span = [%d,%d), want [%d,%d)", res.Start, res.End, tt.start, tt.end)
			}
			if res.KillLeft != tt.killLeft || res.KillRight != tt.killRight {
				t.Errorf("kills = %d/%d, want %d/%d", res.KillLeft, res.KillRight, tt.killLeft, tt.killRight)
			}
			if got := rootOf(word, res); got != tt.root {
				t.Errorf("root = %q, want %q", got, tt.root)
			}
		})
	}
}

func TestMatch_ContextPositions(t *testing.T) {
	p := MustCompilePattern("x > a b < c", nil)
	res, ok := new(Matcher).Match(p, []rune("xabc"))
	if !ok {
		t.Fatal("expected a match")
	}
	if res.LeftCtx != 3 || res.RightCtx != 1 {
		t.Errorf("contexts = <%d >%d, want <3 >1", res.LeftCtx, res.RightCtx)
	}
	if res.KillLeft != 1 || res.KillRight != 1 {
		t.Errorf("kills = %d/%d, want 1/1", res.KillLeft, res.KillRight)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	p := MustCompilePattern("*$V .s *$C", testClasses)
	word := []rune("assessments")
	var m Matcher
	first, ok := m.Match(p, word)
	for i := 0; i < 20; i++ {
		got, gotOK := m.Match(p, word)
		if gotOK != ok || got != first {
			t.Fatalf("run %d: %+v/%v, first %+v/%v", i, got, gotOK, first, ok)
		}
	}
}

func TestMatch_VisitsEachStateOnce(t *testing.T) {
	p := MustCompilePattern("*a *a *a b", nil)
	word := []rune(strings.Repeat("a", 24))

	seen := make(map[stateKey]int)
	m := Matcher{OnState: func(pos, pi, count int, started bool) {
		seen[stateKey{pos, pi, count, started}]++
	}}
	res, ok := m.Match(p, word)
	if ok {
		t.Fatalf("matched %+v, want no match", res)
	}
	for k, n := range seen {
		if n > 1 {
			t.Errorf("state %+v visited %d times", k, n)
		}
	}
	n := len(word)
	if bound := (n + 1) * len(p.elems) * (n + 1) * 2; res.Steps > bound {
		t.Errorf("Steps = %d, bound %d", res.Steps, bound)
	}
	if res.Steps != len(seen) {
		t.Errorf("Steps = %d, distinct states %d", res.Steps, len(seen))
	}
}

func TestMatch_Trace(t *testing.T) {
	var buf bytes.Buffer
	m := Matcher{
		Trace:  true,
		Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	m.Match(MustCompilePattern("< e d #", nil), []rune("baked"))
	m.Match(MustCompilePattern("< e d #", nil), []rune("bake"))

	out := buf.String()
	if !strings.Contains(out, "pattern matched") || !strings.Contains(out, "kill_right=2") {
		t.Errorf("trace missing match line:\n%s", out)
	}
	if !strings.Contains(out, "pattern failed") {
		t.Errorf("trace missing failure line:\n%s", out)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMPILE TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestCompilePattern_Errors(t *testing.T) {
	bad := []string{
		"",
		"#",
		"# #",
		"a # b",
		"< a <",
		"> a >",
		"a < b > c",
		"$Q a",
		"* a",
		"+",
	}
	for _, src := range bad {
		if _, err := CompilePattern(src, testClasses); !errors.Is(err, ErrBadPattern) {
			t.Errorf("CompilePattern(%q) error = %v, want ErrBadPattern", src, err)
		}
	}
}

func TestCompilePattern_Anchors(t *testing.T) {
	p := MustCompilePattern("# $c > a < $v #", testClasses)
	if !p.anchorLeft || !p.anchorRight {
		t.Errorf("anchors = %v/%v, want both", p.anchorLeft, p.anchorRight)
	}
	left, right := p.HasContext()
	if !left || !right {
		t.Errorf("HasContext() = %v, %v; want true, true", left, right)
	}
	if p.String() != "# $c > a < $v #" {
		t.Errorf("String() = %q", p.String())
	}
	if len(p.elems) != 5 || p.elems[0].set != testClasses["C"] {
		t.Errorf("class not resolved: %+v", p.elems)
	}
}

func TestMustCompilePattern_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustCompilePattern did not panic on a bad pattern")
		}
	}()
	MustCompilePattern("a # b", nil)
}

// ═══════════════════════════════════════════════════════════════════════════════
// RULE KILL TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestMorphRule_Kills(t *testing.T) {
	tests := []struct {
		name      string
		rule      *MorphRule
		word      string
		wantOK    bool
		wantLeft  int
		wantRight int
	}{
		{"from context", NewRule("< i n g #"), "walking", true, 0, 3},
		{"explicit agrees", NewKillRule("< i n g #", KillFromContext, 3), "walking", true, 0, 3},
		{"explicit disagrees", NewKillRule("< i n g #", KillFromContext, 2), "walking", false, 0, 0},
		{"explicit only", NewKillRule("i n g #", 0, 3), "walking", true, 0, 3},
		{"too long", NewKillRule("g #", 0, 4), "egg", false, 0, 0},
		{"left context", NewRule("# r e >"), "redo", true, 2, 0},
	}
	var m Matcher
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rule.compile(testClasses); err != nil {
				t.Fatalf("compile: %v", err)
			}
			word := []rune(tt.word)
			res, ok := m.Match(tt.rule.Pattern(), word)
			if !ok {
				t.Fatalf("%q does not match %q", tt.rule, tt.word)
			}
			left, right, ok := tt.rule.kills(res, len(word))
			if ok != tt.wantOK {
				t.Fatalf("kills ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (left != tt.wantLeft || right != tt.wantRight) {
				t.Errorf("kills = %d/%d, want %d/%d", left, right, tt.wantLeft, tt.wantRight)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// BENCHMARKS
// ═══════════════════════════════════════════════════════════════════════════════

func BenchmarkMatch_Anchored(b *testing.B) {
	p := MustCompilePattern("$C < & i n g #", testClasses)
	word := []rune("programming")
	var m Matcher
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Match(p, word)
	}
}

func BenchmarkMatch_Unanchored(b *testing.B) {
	p := MustCompilePattern("*$V .s $C", testClasses)
	word := []rune("antidisestablishmentarianism")
	var m Matcher
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Match(p, word)
	}
}
