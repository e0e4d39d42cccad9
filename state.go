package morph

import (
	"log/slog"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MORPH STATE
// ═══════════════════════════════════════════════════════════════════════════════
// One MorphState exists per word under analysis. Rule actions read and write
// it: they adjust the kills, add substitution text, ask for the root's
// analysis and finally record category senses.
//
//	"stopped" matched by  "$C < & e d #"
//
//	s t o p p e d
//	      ^ └─┬─┘
//	      C  killed (3)        RootString() = "stop"
//	                           Root()       = analysis of "stop" (depth+1)
//	                           Record("v")  = sense v, root stop, features
//
// Nested analyses (of postulated roots, of compound parts) get their own
// MorphState one level deeper and share the MorphCache, so a hypothesis
// explored once is not explored again, and nothing becomes visible in the
// shared lexicon until the top-level analysis commits.
// ═══════════════════════════════════════════════════════════════════════════════

// MorphCache holds the scratch words of one top-level analysis.
type MorphCache struct {
	words []*Word
	index map[string]WordID
}

func newMorphCache() *MorphCache {
	return &MorphCache{words: []*Word{nil}, index: make(map[string]WordID)}
}

func (c *MorphCache) lookup(text string) *Word {
	if id, ok := c.index[text]; ok {
		return c.get(id)
	}
	return nil
}

func (c *MorphCache) get(id WordID) *Word {
	i := int(id &^ scratchBit)
	if !id.IsScratch() || i <= 0 || i >= len(c.words) {
		return nil
	}
	return c.words[i]
}

// add returns the scratch word for text, creating it if needed.
func (c *MorphCache) add(text string) *Word {
	if w := c.lookup(text); w != nil {
		return w
	}
	w := newWord(scratchBit|WordID(len(c.words)), text)
	c.words = append(c.words, w)
	c.index[text] = w.id
	return w
}

// Len returns the number of scratch words.
func (c *MorphCache) Len() int { return len(c.words) - 1 }

// ruleFrame is the part of a MorphState that belongs to the rule being run.
type ruleFrame struct {
	rule      string
	match     MatchResult
	killLeft  int
	killRight int
	addLeft   string
	addRight  string

	override    string
	hasOverride bool

	rootDone bool
	root     *Word
	parts    []*Word

	features    []AtomID
	senseName   string
	rulePenalty map[CatID]int
	prefix      string
	suffix      string
}

// MorphState is the scratch record of one word analysis.
type MorphState struct {
	eng   *Engine
	cache *MorphCache
	depth int

	word  *Word
	text  string
	runes []rune

	phase       int
	prefixPhase bool

	senses      []Sense
	wordPenalty map[CatID]int
	hasNumber   bool
	number      float64

	ruleFrame
}

func newMorphState(eng *Engine, cache *MorphCache, w *Word, depth int) *MorphState {
	return &MorphState{
		eng:   eng,
		cache: cache,
		depth: depth,
		word:  w,
		text:  w.text,
		runes: []rune(w.text),
		phase: 1,
	}
}

func (st *MorphState) Text() string           { return st.text }
func (st *MorphState) Word() *Word            { return st.word }
func (st *MorphState) Depth() int             { return st.depth }
func (st *MorphState) Phase() int             { return st.phase }
func (st *MorphState) InPrefixPhase() bool    { return st.prefixPhase }
func (st *MorphState) Match() MatchResult     { return st.match }
func (st *MorphState) Rule() string           { return st.rule }
func (st *MorphState) Parts() []*Word         { return st.parts }
func (st *MorphState) Lexicon() *Lexicon      { return st.eng.lex }
func (st *MorphState) Logger() *slog.Logger   { return st.eng.logger }
func (st *MorphState) Senses() []Sense        { return st.senses }
func (st *MorphState) KillCounts() (int, int) { return st.killLeft, st.killRight }

func (st *MorphState) beginRule(rule string, m MatchResult, killLeft, killRight int) {
	st.ruleFrame = ruleFrame{rule: rule, match: m, killLeft: killLeft, killRight: killRight}
	if st.eng.trace {
		st.eng.logger.Debug("rule matched",
			slog.String("word", st.text), slog.String("rule", rule), slog.Int("depth", st.depth),
			slog.Int("kill_left", killLeft), slog.Int("kill_right", killRight))
	}
}

func (st *MorphState) beginCompound(rule string, parts []*Word) {
	last := parts[len(parts)-1]
	st.ruleFrame = ruleFrame{
		rule:        rule,
		match:       MatchResult{End: len(st.runes), LeftCtx: -1, RightCtx: -1},
		override:    last.text,
		hasOverride: true,
		rootDone:    true,
		root:        last,
		parts:       parts,
	}
}

// runActions runs codes in order; a veto drops the senses they recorded.
func (st *MorphState) runActions(codes []int) bool {
	d := st.eng.lang.Dispatcher
	mark := len(st.senses)
	for _, code := range codes {
		if d == nil || !d.DoNumberedAction(code, st) {
			st.senses = st.senses[:mark]
			return false
		}
	}
	return true
}

// ═══════════════════════════════════════════════════════════════════════════════
// SUBSTITUTION
// ═══════════════════════════════════════════════════════════════════════════════

// Kill overrides the kill counts of the current match.
func (st *MorphState) Kill(left, right int) bool {
	m := st.match
	if left < 0 || right < 0 || m.Start+left > m.End-right {
		st.Logger().Warn("kill counts do not fit the match",
			slog.String("word", st.text), slog.String("rule", st.rule),
			slog.Int("kill_left", left), slog.Int("kill_right", right))
		return false
	}
	st.killLeft, st.killRight = left, right
	st.rootDone, st.root = false, nil
	return true
}

// AddLeft sets the text inserted where the left kill was.
func (st *MorphState) AddLeft(s string) {
	st.addLeft = s
	st.rootDone, st.root = false, nil
}

// AddRight sets the text appended where the right kill was.
func (st *MorphState) AddRight(s string) {
	st.addRight = s
	st.rootDone, st.root = false, nil
}

// SetRootString replaces the computed root string outright.
func (st *MorphState) SetRootString(s string) {
	st.override, st.hasOverride = s, true
	st.rootDone, st.root = false, nil
}

// PrefixString returns the characters killed on the left.
func (st *MorphState) PrefixString() string {
	m := st.match
	if m.Start+st.killLeft > len(st.runes) {
		return ""
	}
	return string(st.runes[m.Start : m.Start+st.killLeft])
}

// SuffixString returns the characters killed on the right.
func (st *MorphState) SuffixString() string {
	m := st.match
	if m.End-st.killRight < 0 || m.End > len(st.runes) {
		return ""
	}
	return string(st.runes[m.End-st.killRight : m.End])
}

// RootString returns the word with the kills removed and the substitutions
// added. An empty result means the rule has no valid root.
func (st *MorphState) RootString() string {
	if st.hasOverride {
		return st.override
	}
	m := st.match
	lo, hi := m.Start+st.killLeft, m.End-st.killRight
	if lo > hi || hi > len(st.runes) {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(string(st.runes[:m.Start]))
	sb.WriteString(st.addLeft)
	sb.WriteString(string(st.runes[lo:hi]))
	sb.WriteString(st.addRight)
	sb.WriteString(string(st.runes[m.End:]))
	return sb.String()
}

// Root analyzes the root string one level deeper and returns its word, or
// nil when the root is empty, is the word itself, or cannot be resolved.
// When guessing, a plausible unknown root comes back as a stub.
func (st *MorphState) Root() *Word {
	if st.rootDone {
		return st.root
	}
	st.rootDone = true
	s := normalize(st.RootString())
	switch {
	case s == "":
		st.eng.logger.Debug("empty root", slog.String("word", st.text), slog.String("rule", st.rule))
		return nil
	case s == st.text:
		return nil
	}
	st.root = st.Analyze(s)
	if st.root == nil && st.phase == 2 && st.eng.lang.plausible(s) {
		st.root = st.stub(s)
	}
	return st.root
}

// stub returns a word for s without analyzing it: the shared word if one
// exists, otherwise a scratch word.
func (st *MorphState) stub(s string) *Word {
	if w := st.eng.lex.LookupWord(s); w != nil {
		return w
	}
	return st.cache.add(s)
}

// Analyze runs a nested analysis of s. It never commits.
func (st *MorphState) Analyze(s string) *Word {
	return st.eng.analyze(st.cache, s, st.depth+1)
}

// EntryOf returns the entry of a shared or scratch word.
func (st *MorphState) EntryOf(w *Word) *WordEntry {
	if w == nil {
		return nil
	}
	if w.IsScratch() {
		return w.residentEntry()
	}
	return st.eng.lex.Entry(w)
}

func (st *MorphState) hasCategory(w *Word, cat CatID) bool {
	e := st.EntryOf(w)
	if e == nil {
		return false
	}
	for _, c := range e.AllCategories() {
		if st.eng.lex.Subsumes(cat, c) {
			return true
		}
	}
	return false
}

// RootIs reports whether the root has a category subsumed by spec. While
// guessing, an unknown plausible root is taken to be of any category asked.
func (st *MorphState) RootIs(spec string) bool {
	c := st.eng.lex.InternCategory(spec)
	root := st.Root()
	if c == nil || root == nil {
		return false
	}
	if st.phase == 2 && st.EntryOf(root) == nil {
		return true
	}
	return st.hasCategory(root, c.id)
}

// RootCategories returns the root's categories, lowest penalty first.
func (st *MorphState) RootCategories() []CatID {
	if e := st.EntryOf(st.Root()); e != nil {
		return e.AllCategories()
	}
	return nil
}

// RootHasFeature reports whether the root's entry carries the feature.
func (st *MorphState) RootHasFeature(name string) bool {
	a := st.eng.lex.LookupAtom(name)
	e := st.EntryOf(st.Root())
	if a == nil || e == nil {
		return false
	}
	for _, f := range e.Features {
		if f == a.id {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// RECORDING SENSES
// ═══════════════════════════════════════════════════════════════════════════════

// AddFeature adds inflection features to the senses recorded next.
// "penalty1".."penalty3" set the sense's penalty instead.
func (st *MorphState) AddFeature(names ...string) {
	for _, n := range names {
		if a := st.eng.lex.InternAtom(n); a != nil {
			st.features = appendUniqueAtom(st.features, a.id)
		}
	}
}

// ClearFeatures drops the features added so far by the current rule.
func (st *MorphState) ClearFeatures() { st.features = nil }

// SetSenseName names the senses recorded next. Senses with different names
// end up in different subsense words.
func (st *MorphState) SetSenseName(name string) { st.senseName = name }

// PenalizeCategory files cat at penalty p for the rest of the current rule.
func (st *MorphState) PenalizeCategory(spec string, p int) {
	if c := st.eng.lex.InternCategory(spec); c != nil {
		if st.rulePenalty == nil {
			st.rulePenalty = make(map[CatID]int)
		}
		st.rulePenalty[c.id] = clampPenalty(p)
	}
}

// PenalizeWord files cat at penalty p for every rule of this analysis.
func (st *MorphState) PenalizeWord(spec string, p int) {
	if c := st.eng.lex.InternCategory(spec); c != nil {
		if st.wordPenalty == nil {
			st.wordPenalty = make(map[CatID]int)
		}
		st.wordPenalty[c.id] = clampPenalty(p)
	}
}

// SetPrefix names the prefix word recorded with the next senses.
func (st *MorphState) SetPrefix(s string) { st.prefix = normalize(s) }

// SetSuffix names the suffix word recorded with the next senses.
func (st *MorphState) SetSuffix(s string) { st.suffix = normalize(s) }

// SetNumber gives the analyzed word a numeric value.
func (st *MorphState) SetNumber(n float64) { st.hasNumber, st.number = true, n }

// penaltyFor applies the precedence: a penalty feature, then the rule's
// penalty list, then the word's, then zero. Guessing never goes below 2.
func (st *MorphState) penaltyFor(cat CatID, features []AtomID) (int, []AtomID) {
	p := -1
	kept := features[:0:0]
	for _, f := range features {
		switch st.eng.lex.AtomName(f) {
		case "penalty1":
			p = 1
		case "penalty2":
			p = 2
		case "penalty3":
			p = 3
		default:
			kept = append(kept, f)
		}
	}
	if p < 0 {
		if v, ok := st.rulePenalty[cat]; ok {
			p = v
		} else if v, ok := st.wordPenalty[cat]; ok {
			p = v
		} else {
			p = 0
		}
	}
	if st.phase == 2 {
		p = max(p, 2)
	}
	return p, kept
}

// Record adds a sense of category spec with the current root, features,
// affixes and sense name. It returns false only for an empty spec.
func (st *MorphState) Record(spec string) bool {
	c := st.eng.lex.InternCategory(spec)
	if c == nil {
		return false
	}
	st.record(c.id)
	return true
}

func (st *MorphState) record(cat CatID) {
	p, feats := st.penaltyFor(cat, st.features)
	s := Sense{
		Category: cat,
		Features: append([]AtomID(nil), feats...),
		Penalty:  p,
		Name:     st.senseName,
	}
	if len(st.parts) > 0 {
		for _, part := range st.parts {
			s.Roots = append(s.Roots, part.id)
		}
	} else if root := st.Root(); root != nil {
		s.Roots = []WordID{root.id}
	}
	if st.prefix != "" {
		s.Prefix = st.stub(st.prefix).id
	}
	if st.suffix != "" {
		s.Suffix = st.stub(st.suffix).id
	}
	st.senses = append(st.senses, s)
	if st.eng.trace {
		st.eng.logger.Debug("sense recorded",
			slog.String("word", st.text), slog.String("category", st.eng.lex.CategoryName(cat)),
			slog.Int("penalty", p), slog.String("rule", st.rule))
	}
}

// RecordRootCategories records one sense per root category subsumed by
// spec, keeping the root's own category. It reports whether any was recorded.
func (st *MorphState) RecordRootCategories(spec string) bool {
	filter := st.eng.lex.InternCategory(spec)
	if filter == nil || st.Root() == nil {
		return false
	}
	n := 0
	for _, c := range st.RootCategories() {
		if st.eng.lex.Subsumes(filter.id, c) {
			st.record(c)
			n++
		}
	}
	if n == 0 && st.phase == 2 && st.EntryOf(st.root) == nil {
		st.record(filter.id)
		n++
	}
	return n > 0
}

// TryRuleSet runs the named block against the current word and reports
// whether one of its rules won. The caller's rule context is restored.
func (st *MorphState) TryRuleSet(name string) bool {
	set, err := st.eng.lang.RuleSet(name)
	if err != nil {
		st.Logger().Warn("rule set unavailable", slog.String("set", name), slog.Any("err", err))
		return false
	}
	saved, savedPrefix := st.ruleFrame, st.prefixPhase
	defer func() { st.ruleFrame, st.prefixPhase = saved, savedPrefix }()
	st.prefixPhase = set.Prefix
	for _, r := range set.Rules {
		if r.apply(st) {
			return true
		}
	}
	return false
}
