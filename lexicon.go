// Package morph implements a rule-driven morphological analyzer over a shared,
// concurrently growing lexicon of words, categories and atoms.
//
// ═══════════════════════════════════════════════════════════════════════════════
// THE LEXICON (SYMBOL TABLE)
// ═══════════════════════════════════════════════════════════════════════════════
// The lexicon owns one canonical instance for every distinct string:
//
//	"running"  → Word #17      (InternWord)
//	"plural"   → Atom #3       (InternAtom)
//	"n/v"      → Category #12  (InternCategory, canonicalized)
//
// Each kind lives in its own arena (a slice indexed by handle) plus a
// string → handle map. Creation is first-writer-wins: concurrent callers that
// race to intern the same string all come back with the winner's handle.
//
// Arenas grow without limit. The only ceilings are the index-number budgets
// of the binary format, and those are enforced when index numbers are
// assigned for a dump, never at creation time.
// ═══════════════════════════════════════════════════════════════════════════════

package morph

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrIndexOverflow  = errors.New("index number budget exceeded")
	ErrBusy           = errors.New("lexicon maintenance already in progress")
	ErrNoPager        = errors.New("no binary lexicon attached for paging")
	ErrCorruptRecord  = errors.New("corrupt lexicon record")
	ErrBadPattern     = errors.New("malformed morph rule pattern")
	ErrUnknownRuleSet = errors.New("unknown rule set")
)

// Limits are the index-number budgets of the binary lexicon format.
type Limits struct {
	Categories int
	Atoms      int
	Words      int
}

// DefaultLimits returns the budgets used by the on-disk format.
func DefaultLimits() Limits {
	return Limits{
		Categories: 1 << 12,
		Atoms:      1 << 16,
		Words:      1 << 24,
	}
}

// Options configures a Lexicon.
type Options struct {
	WordCapacity     int // initial size hint of the word table
	AtomCapacity     int
	CategoryCapacity int
	Limits           Limits
	Logger           *slog.Logger
}

// DefaultOptions returns the standard lexicon configuration.
func DefaultOptions() Options {
	return Options{
		WordCapacity:     1 << 14,
		AtomCapacity:     1 << 10,
		CategoryCapacity: 1 << 8,
		Limits:           DefaultLimits(),
	}
}

// Lexicon is the shared symbol table. All methods are safe for concurrent use.
type Lexicon struct {
	mu sync.RWMutex // guards the arenas, the string maps and the index tables

	words     []*Word
	wordIndex map[string]WordID
	atoms     []*Atom
	atomIndex map[string]AtomID
	cats      []*Category
	catIndex  map[string]CatID

	// growth thresholds, doubled and logged each time a table passes them
	wordHint, atomHint, catHint int

	// subsumption bits (see category.go)
	bitsValid bool
	bitsWidth int
	rootCat   CatID

	// persistence index tables (see persist.go)
	slots    slotTable
	offsets  [numRanges][]int64 // byte offset of each slot's record, -1 if not on disk
	pager    *Pager
	loadMode LoadMode
	history  History

	busy atomic.Bool // shrink/crush/dump in progress

	limits Limits
	logger *slog.Logger
}

// NewLexicon creates an empty lexicon.
func NewLexicon(opts Options) *Lexicon {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	lex := &Lexicon{
		words:     make([]*Word, 1, opts.WordCapacity+1),
		wordIndex: make(map[string]WordID, opts.WordCapacity),
		atoms:     make([]*Atom, 1, opts.AtomCapacity+1),
		atomIndex: make(map[string]AtomID, opts.AtomCapacity),
		cats:      make([]*Category, 1, opts.CategoryCapacity+1),
		catIndex:  make(map[string]CatID, opts.CategoryCapacity),
		wordHint:  max(opts.WordCapacity, 16),
		atomHint:  max(opts.AtomCapacity, 16),
		catHint:   max(opts.CategoryCapacity, 16),
		limits:    opts.Limits,
		logger:    opts.Logger,
	}
	return lex
}

// Logger returns the lexicon's structured logger.
func (lex *Lexicon) Logger() *slog.Logger { return lex.logger }

// normalize is the canonical key form of every interned string.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ═══════════════════════════════════════════════════════════════════════════════
// WORDS
// ═══════════════════════════════════════════════════════════════════════════════

// InternWord returns the unique Word for s, creating a stub on first request.
func (lex *Lexicon) InternWord(s string) *Word {
	key := normalize(s)
	if key == "" {
		return nil
	}
	lex.mu.RLock()
	id, ok := lex.wordIndex[key]
	if ok {
		w := lex.words[id]
		lex.mu.RUnlock()
		return w
	}
	lex.mu.RUnlock()

	lex.mu.Lock()
	defer lex.mu.Unlock()
	return lex.internWordLocked(key)
}

func (lex *Lexicon) internWordLocked(key string) *Word {
	if id, ok := lex.wordIndex[key]; ok {
		return lex.words[id]
	}
	w := newWord(WordID(len(lex.words)), key)
	lex.words = append(lex.words, w)
	lex.wordIndex[key] = w.id
	if n := len(lex.words) - 1; n > lex.wordHint {
		lex.wordHint *= 2
		lex.logger.Info("word table grew", slog.Int("size", n), slog.Int("next", lex.wordHint))
	}
	return w
}

// LookupWord returns the Word for s or nil. It never creates.
func (lex *Lexicon) LookupWord(s string) *Word {
	key := normalize(s)
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if id, ok := lex.wordIndex[key]; ok {
		return lex.words[id]
	}
	return nil
}

// Word returns the shared word for a handle, or nil for zero, scratch or
// out-of-range handles.
func (lex *Lexicon) Word(id WordID) *Word {
	if id == 0 || id.IsScratch() {
		return nil
	}
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if int(id) >= len(lex.words) {
		return nil
	}
	return lex.words[id]
}

// WordCount returns the number of interned words.
func (lex *Lexicon) WordCount() int {
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	return len(lex.words) - 1
}

// Words returns a snapshot of all interned words sorted by text.
func (lex *Lexicon) Words() []*Word {
	lex.mu.RLock()
	out := make([]*Word, 0, len(lex.words)-1)
	out = append(out, lex.words[1:]...)
	lex.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].text < out[j].text })
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// ATOMS
// ═══════════════════════════════════════════════════════════════════════════════

// InternAtom returns the unique Atom for s, creating it on first request.
func (lex *Lexicon) InternAtom(s string) *Atom {
	key := normalize(s)
	if key == "" {
		return nil
	}
	lex.mu.RLock()
	if id, ok := lex.atomIndex[key]; ok {
		a := lex.atoms[id]
		lex.mu.RUnlock()
		return a
	}
	lex.mu.RUnlock()

	lex.mu.Lock()
	defer lex.mu.Unlock()
	return lex.internAtomLocked(key)
}

func (lex *Lexicon) internAtomLocked(key string) *Atom {
	if id, ok := lex.atomIndex[key]; ok {
		return lex.atoms[id]
	}
	a := newAtom(AtomID(len(lex.atoms)), key)
	lex.atoms = append(lex.atoms, a)
	lex.atomIndex[key] = a.id
	if n := len(lex.atoms) - 1; n > lex.atomHint {
		lex.atomHint *= 2
		lex.logger.Info("atom table grew", slog.Int("size", n), slog.Int("next", lex.atomHint))
	}
	return a
}

// LookupAtom returns the Atom for s or nil.
func (lex *Lexicon) LookupAtom(s string) *Atom {
	key := normalize(s)
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if id, ok := lex.atomIndex[key]; ok {
		return lex.atoms[id]
	}
	return nil
}

// Atom returns the atom for a handle or nil.
func (lex *Lexicon) Atom(id AtomID) *Atom {
	if id == 0 {
		return nil
	}
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if int(id) >= len(lex.atoms) {
		return nil
	}
	return lex.atoms[id]
}

// AtomName is a convenience for printing atom handles.
func (lex *Lexicon) AtomName(id AtomID) string {
	if a := lex.Atom(id); a != nil {
		return a.name
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════════
// CATEGORIES
// ═══════════════════════════════════════════════════════════════════════════════

// InternCategory returns the unique Category for spec. A spec is a single
// name ("n") or a disjunction separated by '/', ',', spaces or tabs
// ("v/n", "n,v", "n v"); all spellings of the same component set yield the
// same instance, named by the sorted, slash-joined components.
func (lex *Lexicon) InternCategory(spec string) *Category {
	names := splitCategorySpec(spec)
	if len(names) == 0 {
		return nil
	}
	canonical := strings.Join(names, "/")

	lex.mu.RLock()
	if id, ok := lex.catIndex[canonical]; ok {
		c := lex.cats[id]
		lex.mu.RUnlock()
		return c
	}
	lex.mu.RUnlock()

	lex.mu.Lock()
	defer lex.mu.Unlock()
	return lex.internCategoryLocked(names, canonical)
}

func (lex *Lexicon) internCategoryLocked(names []string, canonical string) *Category {
	if id, ok := lex.catIndex[canonical]; ok {
		return lex.cats[id]
	}
	var components []CatID
	if len(names) > 1 {
		components = make([]CatID, 0, len(names))
		for _, n := range names {
			components = append(components, lex.internCategoryLocked([]string{n}, n).id)
		}
	}
	c := newCategory(CatID(len(lex.cats)), canonical, components)
	lex.cats = append(lex.cats, c)
	lex.catIndex[canonical] = c.id
	if !lex.disjunctionBitsLocked(c) {
		lex.bitsValid = false
	}
	if n := len(lex.cats) - 1; n > lex.catHint {
		lex.catHint *= 2
		lex.logger.Info("category table grew", slog.Int("size", n), slog.Int("next", lex.catHint))
	}
	return c
}

// LookupCategory returns the Category for spec or nil. The spec is
// canonicalized the same way InternCategory does.
func (lex *Lexicon) LookupCategory(spec string) *Category {
	names := splitCategorySpec(spec)
	if len(names) == 0 {
		return nil
	}
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if id, ok := lex.catIndex[strings.Join(names, "/")]; ok {
		return lex.cats[id]
	}
	return nil
}

// Category returns the category for a handle or nil.
func (lex *Lexicon) Category(id CatID) *Category {
	if id == 0 {
		return nil
	}
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if int(id) >= len(lex.cats) {
		return nil
	}
	return lex.cats[id]
}

// CategoryName is a convenience for printing category handles.
func (lex *Lexicon) CategoryName(id CatID) string {
	if c := lex.Category(id); c != nil {
		return c.name
	}
	return ""
}

// Categories returns all categories sorted by name.
func (lex *Lexicon) Categories() []*Category {
	lex.mu.RLock()
	out := make([]*Category, 0, len(lex.cats)-1)
	out = append(out, lex.cats[1:]...)
	lex.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Stats summarizes table sizes.
type Stats struct {
	Words      int `json:"words"`
	Entries    int `json:"entries"`
	Packed     int `json:"packed"`
	Purged     int `json:"purged"`
	Atoms      int `json:"atoms"`
	Categories int `json:"categories"`
	Indexed    int `json:"indexed"`
}

// Stats returns a snapshot of the lexicon's table sizes.
func (lex *Lexicon) Stats() Stats {
	lex.mu.RLock()
	words := append([]*Word(nil), lex.words[1:]...)
	st := Stats{
		Words:      len(lex.words) - 1,
		Atoms:      len(lex.atoms) - 1,
		Categories: len(lex.cats) - 1,
		Indexed:    len(lex.slots.cats) + len(lex.slots.atoms) + len(lex.slots.words),
	}
	lex.mu.RUnlock()
	for _, w := range words {
		w.mu.RLock()
		switch {
		case w.entry != nil:
			st.Entries++
		case w.packed != nil:
			st.Packed++
		case w.purged:
			st.Purged++
		}
		w.mu.RUnlock()
	}
	return st
}
