package morph

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLexicon() *Lexicon {
	opts := DefaultOptions()
	opts.Logger = quietLogger()
	return NewLexicon(opts)
}

// ═══════════════════════════════════════════════════════════════════════════════
// INTERNING TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestInternWord_Unique(t *testing.T) {
	lex := newTestLexicon()

	a := lex.InternWord("running")
	b := lex.InternWord("running")
	c := lex.InternWord("  Running ")

	if a == nil {
		t.Fatal("InternWord returned nil")
	}
	if a != b || a != c {
		t.Errorf("InternWord returned distinct instances %p %p %p", a, b, c)
	}
	if a.Text() != "running" {
		t.Errorf("Text() = %q, want %q", a.Text(), "running")
	}
	if a.HasEntry() {
		t.Error("new word should be a stub")
	}
}

func TestInternWord_Empty(t *testing.T) {
	lex := newTestLexicon()

	if w := lex.InternWord("   "); w != nil {
		t.Errorf("InternWord(blank) = %v, want nil", w)
	}
	if lex.WordCount() != 0 {
		t.Errorf("WordCount() = %d, want 0", lex.WordCount())
	}
}

func TestLookupWord_DoesNotCreate(t *testing.T) {
	lex := newTestLexicon()

	if w := lex.LookupWord("ghost"); w != nil {
		t.Errorf("LookupWord found %v in an empty lexicon", w)
	}
	if lex.WordCount() != 0 {
		t.Errorf("LookupWord created a word")
	}

	w := lex.InternWord("ghost")
	if got := lex.LookupWord("GHOST"); got != w {
		t.Errorf("LookupWord = %v, want the interned word", got)
	}
	if got := lex.Word(w.ID()); got != w {
		t.Errorf("Word(id) = %v, want %v", got, w)
	}
}

func TestInternWord_Concurrent(t *testing.T) {
	lex := newTestLexicon()
	const workers = 16
	const words = 200

	results := make([][]*Word, workers)
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			out := make([]*Word, words)
			for i := 0; i < words; i++ {
				// Every goroutine walks the same strings in a different order.
				n := (i + g*7) % words
				out[n] = lex.InternWord(fmt.Sprintf("word%d", n))
			}
			results[g] = out
		}(g)
	}
	wg.Wait()

	for i := 0; i < words; i++ {
		want := results[0][i]
		for g := 1; g < workers; g++ {
			if results[g][i] != want {
				t.Fatalf("word%d: goroutine %d got a different instance", i, g)
			}
		}
	}
	if lex.WordCount() != words {
		t.Errorf("WordCount() = %d, want %d", lex.WordCount(), words)
	}
}

func TestInternAtom_Unique(t *testing.T) {
	lex := newTestLexicon()

	a := lex.InternAtom("plural")
	if a != lex.InternAtom("PLURAL") {
		t.Error("InternAtom is case sensitive")
	}
	if lex.LookupAtom("singular") != nil {
		t.Error("LookupAtom created an atom")
	}

	a.SetNumber(2)
	if n, ok := a.Number(); !ok || n != 2 {
		t.Errorf("Number() = %v, %v; want 2, true", n, ok)
	}

	key := lex.InternAtom("gloss")
	a.Put(key.ID(), NumberValue(7))
	if v, ok := a.Get(key.ID()); !ok || !v.Equal(NumberValue(7)) {
		t.Errorf("Get(gloss) = %v, %v", v, ok)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CATEGORY TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestInternCategory_Canonical(t *testing.T) {
	lex := newTestLexicon()

	specs := []string{"v/n", "n/v", "n,v", "n v", "N/V", "v/n/v"}
	first := lex.InternCategory(specs[0])
	for _, spec := range specs[1:] {
		if got := lex.InternCategory(spec); got != first {
			t.Errorf("InternCategory(%q) = %v, want %v", spec, got, first)
		}
	}
	if first.Name() != "n/v" {
		t.Errorf("Name() = %q, want %q", first.Name(), "n/v")
	}
	if !first.IsDisjunctive() || len(first.Components()) != 2 {
		t.Errorf("n/v should be a disjunction of two, got %v", first.Components())
	}
	if lex.LookupCategory("v,n") != first {
		t.Error("LookupCategory does not canonicalize")
	}
}

func TestSubsumes_BuiltinHierarchy(t *testing.T) {
	lex := newTestLexicon()
	lex.BootstrapCategories()

	tests := []struct {
		a, b string
		want bool
	}{
		{"n", "nc", true},
		{"n", "npr", true},
		{"n", "firstname", true},
		{"v", "n", false},
		{"v", "modal", true},
		{"nc", "n", false},
		{"word", "punct", true},
		{"nonname", "nc", true},
		{"nonname", "firstname", false},
		{"nonname", "v", true},
	}
	for _, tt := range tests {
		t.Run(tt.a+">"+tt.b, func(t *testing.T) {
			if got := lex.SubsumesName(tt.a, tt.b); got != tt.want {
				t.Errorf("SubsumesName(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSubsumes_DisjunctionIsUnion(t *testing.T) {
	lex := newTestLexicon()
	lex.BootstrapCategories()
	adjAdv := lex.InternCategory("adj/adv")
	adj := lex.LookupCategory("adj")
	adv := lex.LookupCategory("adv")
	lex.ComputeSubsumptionBits()

	for _, c := range lex.Categories() {
		if c.IsDisjunctive() {
			continue
		}
		want := lex.Subsumes(adj.ID(), c.ID()) || lex.Subsumes(adv.ID(), c.ID())
		if got := lex.Subsumes(adjAdv.ID(), c.ID()); got != want {
			t.Errorf("Subsumes(adj/adv, %s) = %v, want %v", c.Name(), got, want)
		}
	}
	if !lex.Subsumes(adjAdv.ID(), adjAdv.ID()) {
		t.Error("a category must subsume itself")
	}
}

func TestSubsumes_StaleBitsFallBackToWalk(t *testing.T) {
	lex := newTestLexicon()
	lex.BootstrapCategories()

	// New edge after the bits were computed.
	lex.SetSubcategories("nc", "mass")

	if !lex.SubsumesName("n", "mass") {
		t.Error("n should subsume mass through nc before bits are recomputed")
	}
	lex.ComputeSubsumptionBits()
	if !lex.SubsumesName("n", "mass") {
		t.Error("n should subsume mass after bits are recomputed")
	}
	if lex.SubsumesName("v", "mass") {
		t.Error("v should not subsume mass")
	}
}

func TestInternCategory_DisjunctionKeepsBits(t *testing.T) {
	lex := newTestLexicon()
	lex.BootstrapCategories()

	adjv := lex.InternCategory("adj/v")
	if !lex.bitsValid {
		t.Fatal("a disjunction of known categories invalidated the bits")
	}
	for _, c := range lex.Categories() {
		got := lex.Subsumes(adjv.ID(), c.ID())
		lex.mu.RLock()
		want := lex.walkSubsumesLocked(adjv, c)
		lex.mu.RUnlock()
		if got != want {
			t.Errorf("Subsumes(adj/v, %s) = %v, walk says %v", c.Name(), got, want)
		}
	}
	if !lex.SubsumesName("adj/v", "adj") || lex.SubsumesName("adj/v", "nc") {
		t.Error("adj/v should subsume adj and not nc")
	}
	if lex.SubsumesName("n", "adj/v") {
		t.Error("n should not subsume adj/v")
	}

	// A new primitive needs a bit of its own.
	lex.InternCategory("adj/mass")
	if lex.bitsValid {
		t.Error("bits still valid after a new primitive category")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// VALUE TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestValue_EqualAndFormat(t *testing.T) {
	lex := newTestLexicon()
	a := lex.InternAtom("plural")
	w := lex.InternWord("dog")
	c := lex.InternCategory("nc")

	list := ListValue(a.Value(), NumberValue(2.5), ListValue(w.Value(), c.Value()))
	same := ListValue(AtomValue(a.ID()), NumberValue(2.5), ListValue(WordValue(w.ID()), CategoryValue(c.ID())))

	if !list.Equal(same) {
		t.Error("structurally equal lists compare unequal")
	}
	if list.Equal(ListValue(a.Value())) {
		t.Error("lists of different length compare equal")
	}
	if a.Value().Equal(w.Value()) {
		t.Error("values of different kinds compare equal")
	}
	if got, want := lex.Format(list), "(plural 2.5 (dog nc))"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
	if !Nil.IsNil() || list.Len() != 3 || !list.At(2).IsList() {
		t.Error("predicates disagree with the value's shape")
	}
}

func TestStats(t *testing.T) {
	lex := newTestLexicon()
	lex.BootstrapCategories()
	lex.MakeEntry("dog:nc")
	lex.InternWord("stub")

	st := lex.Stats()
	if st.Words != 2 || st.Entries != 1 {
		t.Errorf("Stats() = %+v, want 2 words with 1 entry", st)
	}
	if st.Categories == 0 {
		t.Error("Stats() counted no categories after bootstrap")
	}
}
