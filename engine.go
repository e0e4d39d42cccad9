package morph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ANALYSIS DRIVER
// ═══════════════════════════════════════════════════════════════════════════════
// Analysis of one word string:
//
//	NotYetMorphed ──► InAnalysis ──┬──► Resolved   (senses recorded)
//	                               └──► Failed     (nothing matched)
//
//	1. shared lexicon has an entry?  → done, return it
//	2. phase one: every rule set in order, first winning rule per set
//	3. top level only, nothing found: phase two (guessing), roots may be
//	   unknown but plausible, penalties at least 2
//	4. top level only, still nothing: guess punct / number / nc
//	5. fold the senses into an entry; commit scratch words it refers to
//
// Nested analyses (roots, compound parts) run steps 1, 2 and 5 only, in the
// analysis-local MorphCache. A word already InAnalysis in the cache is a
// cycle and comes back nil, as does anything past MaxDepth.
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultMaxDepth bounds nested analyses.
const DefaultMaxDepth = 500

// EngineOptions configures an Engine.
type EngineOptions struct {
	MaxDepth int
	Trace    bool // debug-log rule matches and recorded senses
	Logger   *slog.Logger
}

// DefaultEngineOptions returns the standard engine configuration.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{MaxDepth: DefaultMaxDepth}
}

// Engine analyzes words of one language against a shared lexicon. It is safe
// for concurrent use; each Analyze call works in its own MorphCache.
type Engine struct {
	lex      *Lexicon
	lang     *Language
	matcher  *Matcher
	maxDepth int
	trace    bool
	logger   *slog.Logger
}

// NewEngine compiles lang, makes sure the lexicon has the built-in and the
// language's categories, and installs the language's seed entries.
func NewEngine(lex *Lexicon, lang *Language, opts EngineOptions) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = lex.Logger()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if err := lang.Compile(); err != nil {
		return nil, fmt.Errorf("compile %s rules: %w", lang.Name, err)
	}
	e := &Engine{
		lex:      lex,
		lang:     lang,
		matcher:  &Matcher{Trace: opts.Trace, Logger: opts.Logger},
		maxDepth: opts.MaxDepth,
		trace:    opts.Trace,
		logger:   opts.Logger,
	}

	if lex.LookupCategory(RootCategory) == nil {
		lex.BootstrapCategories()
	}
	for _, parent := range sortedStrings(lang.Categories) {
		lex.SetSubcategories(parent, lang.Categories[parent])
	}

	seeded := 0
	for _, line := range lang.Seed {
		head, _, _ := strings.Cut(line, ":")
		if w := lex.LookupWord(head); w != nil && w.HasEntry() {
			continue
		}
		if lex.MakeEntry(line) != nil {
			seeded++
		}
	}
	lex.ComputeSubsumptionBits(DefaultTestOrder...)
	e.logger.Info("engine ready",
		slog.String("language", lang.Name),
		slog.Int("rule_sets", len(lang.RuleSets)),
		slog.Int("seeded", seeded),
		slog.Int("max_depth", e.maxDepth))
	return e, nil
}

func (e *Engine) Lexicon() *Lexicon   { return e.lex }
func (e *Engine) Language() *Language { return e.lang }

// Analyze returns the analyzed shared word for text. Unless text is empty
// the result is never nil: words no rule explains come back guessed.
func (e *Engine) Analyze(text string) *Word {
	key := normalize(text)
	if key == "" {
		return nil
	}
	if w := e.lex.LookupWord(key); w != nil && w.HasEntry() {
		return w
	}
	cache := newMorphCache()
	w := e.analyze(cache, key, 0)
	if w == nil {
		return nil
	}
	return e.makeRealWord(w, cache, true)
}

// analyze resolves text at the given depth, working in cache. It returns a
// shared word when the lexicon already knows text, otherwise a scratch word.
func (e *Engine) analyze(cache *MorphCache, text string, depth int) *Word {
	text = normalize(text)
	if text == "" {
		return nil
	}
	if depth > e.maxDepth {
		e.logger.Warn("analysis depth exceeded, branch abandoned",
			slog.String("word", text), slog.Int("max_depth", e.maxDepth))
		return nil
	}
	// Another analysis may have committed text since this one started.
	if w := e.lex.LookupWord(text); w != nil && w.HasEntry() {
		return w
	}
	w := cache.add(text)
	switch w.Status() {
	case InAnalysis, Failed:
		return nil
	case Resolved:
		return w
	}
	w.setStatus(InAnalysis)

	st := newMorphState(e, cache, w, depth)
	e.runRuleSets(st)
	if len(st.senses) == 0 && depth == 0 {
		st.phase = 2
		e.runRuleSets(st)
	}
	guessed := st.phase == 2 && len(st.senses) > 0
	if len(st.senses) == 0 && depth == 0 {
		e.guess(st)
		guessed = true
	}
	if len(st.senses) == 0 {
		w.setStatus(Failed)
		if e.trace {
			e.logger.Debug("no analysis", slog.String("word", text), slog.Int("depth", depth))
		}
		return nil
	}
	w.setEntry(e.fold(st, guessed))
	return w
}

// runRuleSets tries the non-internal rule sets in order.
func (e *Engine) runRuleSets(st *MorphState) {
	for _, set := range e.lang.RuleSets {
		if set.Internal {
			continue
		}
		before := len(st.senses)
		st.prefixPhase = set.Prefix
		for _, r := range set.Rules {
			if r.apply(st) {
				break
			}
		}
		st.prefixPhase = false
		if set.Final && len(st.senses) > before {
			return
		}
	}
}

// guess records a best-effort sense for a word no rule explains.
func (e *Engine) guess(st *MorphState) {
	text := st.text
	switch {
	case isPunctuation(text):
		st.senses = append(st.senses, Sense{Category: e.lex.InternCategory(PunctCategory).id})
	case isNumeral(text):
		n, _ := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64)
		st.SetNumber(n)
		st.senses = append(st.senses, Sense{Category: e.lex.InternCategory(NumberCategory).id})
	default:
		st.senses = append(st.senses, Sense{Category: e.lex.InternCategory(CommonNounCategory).id, Penalty: 2})
	}
}

func isPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return s != ""
}

// isNumeral accepts an optional sign, then digits with thousands commas and
// a decimal point. "inf", "nan", exponents and hex floats are words.
func isNumeral(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ',' || r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return err == nil
}

// fold turns the recorded senses into an entry. Senses are grouped by name
// in first-seen order; with two or more groups each group becomes a
// subsense word named "text!name" ("text!1", ... for unnamed groups).
func (e *Engine) fold(st *MorphState, guessed bool) *WordEntry {
	var names []string
	groups := make(map[string][]Sense)
	for _, s := range st.senses {
		if _, ok := groups[s.Name]; !ok {
			names = append(names, s.Name)
		}
		groups[s.Name] = append(groups[s.Name], s)
	}

	entry := foldSenses(st.senses)
	entry.Guessed = guessed
	entry.HasNumber, entry.Number = st.hasNumber, st.number
	if len(names) < 2 {
		return entry
	}
	for i, name := range names {
		label := name
		if label == "" {
			label = strconv.Itoa(i + 1)
		}
		sub := st.cache.add(st.text + "!" + label)
		se := foldSenses(groups[name])
		se.Guessed = guessed
		se.SenseOf = st.word.id
		sub.setEntry(se)
		entry.SubSenses = append(entry.SubSenses, sub.id)
	}
	return entry
}

func foldSenses(senses []Sense) *WordEntry {
	e := &WordEntry{}
	for _, s := range senses {
		e.AddCategory(s.Category, s.Penalty)
		for _, r := range s.Roots {
			e.Roots = appendUniqueWord(e.Roots, r)
		}
		e.Prefixes = appendUniqueWord(e.Prefixes, s.Prefix)
		e.Suffixes = appendUniqueWord(e.Suffixes, s.Suffix)
		for _, f := range s.Features {
			e.Features = appendUniqueAtom(e.Features, f)
		}
		s.Roots = append([]WordID(nil), s.Roots...)
		s.Features = append([]AtomID(nil), s.Features...)
		e.Senses = append(e.Senses, s)
	}
	return e
}

// makeRealWord promotes a scratch word, and every scratch word its entry
// reaches, into the shared lexicon. Nothing happens unless commit is set.
// Entries are published deepest first; when another analysis published a
// word first its entry is kept.
func (e *Engine) makeRealWord(w *Word, cache *MorphCache, commit bool) *Word {
	if !commit || !w.IsScratch() {
		return w
	}
	real := make(map[WordID]*Word)
	var order []*Word
	var visit func(sw *Word)
	visit = func(sw *Word) {
		if _, ok := real[sw.id]; ok {
			return
		}
		real[sw.id] = e.lex.InternWord(sw.text)
		if en := sw.residentEntry(); en != nil {
			for _, ref := range en.wordRefs() {
				if next := cache.get(ref); next != nil {
					visit(next)
				}
			}
		}
		order = append(order, sw)
	}
	visit(w)

	remap := func(id WordID) WordID {
		if !id.IsScratch() {
			return id
		}
		if rw, ok := real[id]; ok {
			return rw.id
		}
		return 0
	}
	for _, sw := range order {
		en := sw.residentEntry()
		if en == nil {
			continue
		}
		c := en.Clone()
		c.remapWords(remap)
		if !real[sw.id].setEntryIfAbsent(c) && e.trace {
			e.logger.Debug("word resolved concurrently, adopting", slog.String("word", sw.text))
		}
	}
	return real[w.id]
}

// Roots returns the root words of w, analyzing roots that are still stubs.
func (e *Engine) Roots(w *Word) []*Word {
	en := e.lex.Entry(w)
	if en == nil {
		return nil
	}
	out := make([]*Word, 0, len(en.Roots))
	for _, id := range en.Roots {
		r := e.lex.Word(id)
		if r == nil {
			continue
		}
		if !r.HasEntry() && r.Status() != Failed {
			if a := e.Analyze(r.text); a != nil {
				r = a
			}
		}
		out = append(out, r)
	}
	return out
}

// AnalyzeAll analyzes words with up to workers goroutines. The result is
// parallel to words. It stops early only when ctx is done.
func (e *Engine) AnalyzeAll(ctx context.Context, words []string, workers int) ([]*Word, error) {
	out := make([]*Word, len(words))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, text := range words {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.Analyze(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

func sortedStrings(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
