package morph

import (
	"sync"
	"sync/atomic"
)

// NumPenalties is the number of penalty levels a category can be filed
// under: 0 (unmarked) through 3 (most marked).
const NumPenalties = 4

// MorphStatus tracks where a word is in the analysis state machine.
type MorphStatus int32

const (
	NotYetMorphed MorphStatus = iota
	InAnalysis
	Resolved
	Failed
)

func (s MorphStatus) String() string {
	switch s {
	case InAnalysis:
		return "in-analysis"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "not-yet-morphed"
	}
}

// Sense is one derivation recorded for a word: a category together with the
// roots, affixes and inflection features that justify it.
type Sense struct {
	Category CatID
	Roots    []WordID
	Prefix   WordID
	Suffix   WordID
	Features []AtomID
	Penalty  int
	Name     string
}

// WordEntry is the morphological payload of a Word. Once published on a
// Word an entry is never mutated; updates build a new entry.
type WordEntry struct {
	Categories [NumPenalties][]CatID
	Senses     []Sense
	Features   []AtomID // inflection features ("plural", "past", ...)
	CapCodes   []AtomID

	Roots    []WordID
	Prefixes []WordID
	Suffixes []WordID
	Iko      []WordID // is-a-kind-of parents
	Iio      []WordID // is-an-instance-of parents

	VariantOf      []WordID
	NicknameOf     []WordID
	MisspellingOf  []WordID
	AbbreviationOf []WordID

	HasNumber bool
	Number    float64

	SubSenses []WordID
	SenseOf   WordID
	Guessed   bool

	Props map[AtomID]Value
}

// AllCategories returns the categories of every penalty level, lowest first.
func (e *WordEntry) AllCategories() []CatID {
	var out []CatID
	for _, level := range e.Categories {
		out = append(out, level...)
	}
	return out
}

// PenaltyOf returns the penalty level cat is filed under, or -1.
func (e *WordEntry) PenaltyOf(cat CatID) int {
	for p, level := range e.Categories {
		if containsCat(level, cat) {
			return p
		}
	}
	return -1
}

// AddCategory files cat at penalty p unless it is already present at an
// equal or lower penalty; a lower penalty replaces a higher one.
func (e *WordEntry) AddCategory(cat CatID, p int) {
	p = clampPenalty(p)
	if old := e.PenaltyOf(cat); old >= 0 {
		if old <= p {
			return
		}
		e.Categories[old] = removeCat(e.Categories[old], cat)
	}
	e.Categories[p] = append(e.Categories[p], cat)
}

func clampPenalty(p int) int {
	if p < 0 {
		return 0
	}
	if p >= NumPenalties {
		return NumPenalties - 1
	}
	return p
}

func removeCat(ids []CatID, id CatID) []CatID {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// Clone returns a deep copy of the entry.
func (e *WordEntry) Clone() *WordEntry {
	if e == nil {
		return nil
	}
	c := *e
	for i := range e.Categories {
		c.Categories[i] = append([]CatID(nil), e.Categories[i]...)
	}
	c.Senses = make([]Sense, len(e.Senses))
	for i, s := range e.Senses {
		s.Roots = append([]WordID(nil), s.Roots...)
		s.Features = append([]AtomID(nil), s.Features...)
		c.Senses[i] = s
	}
	c.Features = append([]AtomID(nil), e.Features...)
	c.CapCodes = append([]AtomID(nil), e.CapCodes...)
	c.Roots = append([]WordID(nil), e.Roots...)
	c.Prefixes = append([]WordID(nil), e.Prefixes...)
	c.Suffixes = append([]WordID(nil), e.Suffixes...)
	c.Iko = append([]WordID(nil), e.Iko...)
	c.Iio = append([]WordID(nil), e.Iio...)
	c.VariantOf = append([]WordID(nil), e.VariantOf...)
	c.NicknameOf = append([]WordID(nil), e.NicknameOf...)
	c.MisspellingOf = append([]WordID(nil), e.MisspellingOf...)
	c.AbbreviationOf = append([]WordID(nil), e.AbbreviationOf...)
	c.SubSenses = append([]WordID(nil), e.SubSenses...)
	if e.Props != nil {
		c.Props = make(map[AtomID]Value, len(e.Props))
		for k, v := range e.Props {
			c.Props[k] = v
		}
	}
	return &c
}

// remapWords rewrites every word handle of the entry through f. It is how
// scratch handles become shared handles when an analysis commits.
func (e *WordEntry) remapWords(f func(WordID) WordID) {
	mapAll := func(ids []WordID) {
		for i, id := range ids {
			ids[i] = f(id)
		}
	}
	for i := range e.Senses {
		mapAll(e.Senses[i].Roots)
		e.Senses[i].Prefix = f(e.Senses[i].Prefix)
		e.Senses[i].Suffix = f(e.Senses[i].Suffix)
	}
	mapAll(e.Roots)
	mapAll(e.Prefixes)
	mapAll(e.Suffixes)
	mapAll(e.Iko)
	mapAll(e.Iio)
	mapAll(e.VariantOf)
	mapAll(e.NicknameOf)
	mapAll(e.MisspellingOf)
	mapAll(e.AbbreviationOf)
	mapAll(e.SubSenses)
	e.SenseOf = f(e.SenseOf)
	for k, v := range e.Props {
		e.Props[k] = remapValue(v, f)
	}
}

// wordRefs lists every word handle the entry refers to.
func (e *WordEntry) wordRefs() []WordID {
	var out []WordID
	for _, s := range e.Senses {
		out = append(out, s.Roots...)
		out = append(out, s.Prefix, s.Suffix)
	}
	for _, ids := range [][]WordID{
		e.Roots, e.Prefixes, e.Suffixes, e.Iko, e.Iio,
		e.VariantOf, e.NicknameOf, e.MisspellingOf, e.AbbreviationOf, e.SubSenses,
	} {
		out = append(out, ids...)
	}
	out = append(out, e.SenseOf)
	for _, v := range e.Props {
		out = valueWordRefs(out, v)
	}
	return out
}

func valueWordRefs(out []WordID, v Value) []WordID {
	switch v.kind {
	case KindWord:
		out = append(out, v.Word())
	case KindList:
		for _, x := range v.list {
			out = valueWordRefs(out, x)
		}
	}
	return out
}

func remapValue(v Value, f func(WordID) WordID) Value {
	switch v.kind {
	case KindWord:
		return WordValue(f(v.Word()))
	case KindList:
		out := make([]Value, len(v.list))
		for i, x := range v.list {
			out[i] = remapValue(x, f)
		}
		return Value{kind: KindList, list: out}
	}
	return v
}

// appendUniqueWord appends id unless it is zero or already present.
func appendUniqueWord(ids []WordID, id WordID) []WordID {
	if id == 0 {
		return ids
	}
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func appendUniqueAtom(ids []AtomID, id AtomID) []AtomID {
	if id == 0 {
		return ids
	}
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

// ═══════════════════════════════════════════════════════════════════════════════
// WORD
// ═══════════════════════════════════════════════════════════════════════════════

// Word is a lowercase word string plus an optional entry. A word without an
// entry is a stub. A purged word has dropped its entry but can page it back
// in from the attached binary lexicon; a packed word keeps its encoded
// record and decodes it on first access.
type Word struct {
	id   WordID
	text string

	mu     sync.RWMutex
	entry  *WordEntry
	packed []byte
	purged bool
	core   bool
	dirty  bool // entry changed since the last dump

	status atomic.Int32
	index  atomic.Int32
}

func newWord(id WordID, text string) *Word {
	w := &Word{id: id, text: text}
	w.index.Store(-1)
	return w
}

func (w *Word) ID() WordID          { return w.id }
func (w *Word) Text() string        { return w.text }
func (w *Word) String() string      { return w.text }
func (w *Word) Value() Value        { return WordValue(w.id) }
func (w *Word) Index() int          { return int(w.index.Load()) }
func (w *Word) IsScratch() bool     { return w.id.IsScratch() }
func (w *Word) Status() MorphStatus { return MorphStatus(w.status.Load()) }

func (w *Word) setStatus(s MorphStatus) { w.status.Store(int32(s)) }

// IsCore reports whether the word is kept unpacked and never purged.
func (w *Word) IsCore() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.core
}

// SetCore marks the word as permanently retained.
func (w *Word) SetCore(core bool) {
	w.mu.Lock()
	w.core = core
	w.mu.Unlock()
}

// HasEntry reports whether the word carries morphological information,
// resident or recoverable (packed or purged).
func (w *Word) HasEntry() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.entry != nil || w.packed != nil || w.purged
}

// residentEntry returns the in-memory entry without paging.
func (w *Word) residentEntry() *WordEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.entry
}

// setEntry publishes e, replacing any previous entry.
func (w *Word) setEntry(e *WordEntry) {
	w.mu.Lock()
	w.entry, w.packed, w.purged = e, nil, false
	w.dirty = true
	w.mu.Unlock()
	if e != nil {
		w.setStatus(Resolved)
	}
}

// setEntryIfAbsent publishes e unless the word already has an entry. It
// returns false when another writer got there first.
func (w *Word) setEntryIfAbsent(e *WordEntry) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entry != nil || w.packed != nil || w.purged {
		return false
	}
	w.entry = e
	w.dirty = true
	w.status.Store(int32(Resolved))
	return true
}
