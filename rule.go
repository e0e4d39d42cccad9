package morph

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ActionDispatcher performs the numbered, language-specific side effects of
// rules. DoNumberedAction returns false to veto the rule: its senses are
// discarded and the rule counts as not matched.
type ActionDispatcher interface {
	DoNumberedAction(code int, st *MorphState) bool
}

// ActionFunc is one numbered action.
type ActionFunc func(st *MorphState) bool

// ActionTable dispatches codes through a map. Unknown codes veto the rule.
type ActionTable map[int]ActionFunc

func (t ActionTable) DoNumberedAction(code int, st *MorphState) bool {
	f, ok := t[code]
	if !ok {
		st.Logger().Warn("unknown action code", slog.Int("code", code), slog.String("word", st.Text()))
		return false
	}
	return f(st)
}

// Rule is one entry of a rule set.
type Rule interface {
	// apply tries the rule against the state's word. It returns true when the
	// rule matched and every action succeeded.
	apply(st *MorphState) bool
	compile(classes map[string]string) error
	String() string
}

// KillFromContext asks a MorphRule to take its kill counts from the
// pattern's context boundaries.
const KillFromContext = -1

// MorphRule is a character-pattern rule.
type MorphRule struct {
	Source    string
	KillLeft  int // KillFromContext or an explicit count
	KillRight int
	Actions   []int

	pattern *Pattern
}

// NewRule builds a rule whose kill counts come from its context boundaries.
func NewRule(pattern string, actions ...int) *MorphRule {
	return &MorphRule{Source: pattern, KillLeft: KillFromContext, KillRight: KillFromContext, Actions: actions}
}

// NewKillRule builds a rule with explicit kill counts.
func NewKillRule(pattern string, killLeft, killRight int, actions ...int) *MorphRule {
	return &MorphRule{Source: pattern, KillLeft: killLeft, KillRight: killRight, Actions: actions}
}

func (r *MorphRule) String() string { return r.Source }

// Pattern returns the compiled pattern, nil before compilation.
func (r *MorphRule) Pattern() *Pattern { return r.pattern }

func (r *MorphRule) compile(classes map[string]string) error {
	p, err := CompilePattern(r.Source, classes)
	if err != nil {
		return err
	}
	r.pattern = p
	return nil
}

// kills reconciles the match's context-derived kill counts with the rule's
// explicit ones. ok is false when they disagree or do not fit the word.
func (r *MorphRule) kills(m MatchResult, n int) (left, right int, ok bool) {
	hasLeft, hasRight := r.pattern.HasContext()
	left, right = max(r.KillLeft, 0), max(r.KillRight, 0)
	if hasLeft {
		if r.KillRight != KillFromContext && r.KillRight != m.KillRight {
			return 0, 0, false
		}
		right = m.KillRight
	}
	if hasRight {
		if r.KillLeft != KillFromContext && r.KillLeft != m.KillLeft {
			return 0, 0, false
		}
		left = m.KillLeft
	}
	if hasLeft && hasRight && m.RightCtx > m.LeftCtx {
		return 0, 0, false
	}
	if m.Start+left > m.End-right || m.End-right < 0 || m.End > n {
		return 0, 0, false
	}
	return left, right, true
}

func (r *MorphRule) apply(st *MorphState) bool {
	if r.pattern == nil {
		return false
	}
	m, ok := st.eng.matcher.Match(r.pattern, st.runes)
	if !ok {
		return false
	}
	left, right, ok := r.kills(m, len(st.runes))
	if !ok {
		st.Logger().Warn("inconsistent kill counts, substitution skipped",
			slog.String("rule", r.Source), slog.String("word", st.text),
			slog.Int("left_ctx", m.LeftCtx), slog.Int("right_ctx", m.RightCtx),
			slog.Int("kill_left", m.KillLeft), slog.Int("kill_right", m.KillRight))
		return false
	}
	st.beginRule(r.Source, m, left, right)
	return st.runActions(r.Actions)
}

// MorphCompoundRule splits a word into consecutive parts whose analyses have
// the listed categories (left to right). The last part is the root.
type MorphCompoundRule struct {
	Categories []string
	MinPart    int // shortest part in runes, default 2
	Actions    []int
}

// NewCompoundRule builds a compound rule.
func NewCompoundRule(categories string, actions ...int) *MorphCompoundRule {
	return &MorphCompoundRule{Categories: strings.Fields(categories), MinPart: 2, Actions: actions}
}

func (r *MorphCompoundRule) String() string { return "compound(" + strings.Join(r.Categories, " ") + ")" }

func (r *MorphCompoundRule) compile(map[string]string) error {
	if len(r.Categories) < 2 {
		return fmt.Errorf("%w: compound rule needs two or more categories", ErrBadPattern)
	}
	return nil
}

func (r *MorphCompoundRule) apply(st *MorphState) bool {
	minPart := max(r.MinPart, 1)
	cats := make([]*Category, len(r.Categories))
	for i, name := range r.Categories {
		if cats[i] = st.eng.lex.LookupCategory(name); cats[i] == nil {
			return false
		}
	}
	parts := r.split(st, st.runes, cats, minPart)
	if parts == nil {
		return false
	}
	st.beginCompound(r.String(), parts)
	return st.runActions(r.Actions)
}

// split finds the leftmost-first segmentation of word into len(cats) parts.
func (r *MorphCompoundRule) split(st *MorphState, word []rune, cats []*Category, minPart int) []*Word {
	if len(cats) == 1 {
		if len(word) < minPart {
			return nil
		}
		w := st.Analyze(string(word))
		if w == nil || !st.hasCategory(w, cats[0].id) {
			return nil
		}
		return []*Word{w}
	}
	need := minPart * (len(cats) - 1)
	for i := minPart; i <= len(word)-need; i++ {
		head := st.Analyze(string(word[:i]))
		if head == nil || !st.hasCategory(head, cats[0].id) {
			continue
		}
		if rest := r.split(st, word[i:], cats[1:], minPart); rest != nil {
			return append([]*Word{head}, rest...)
		}
	}
	return nil
}

// RuleSet is a named, ordered block of rules. The first rule that wins ends
// the block.
type RuleSet struct {
	Name  string
	Rules []Rule
	// Final stops the remaining sets once this one has recorded a sense.
	Final bool
	// Prefix marks a block of prefix rules; the state's prefix phase is on
	// while it runs.
	Prefix bool
	// Internal blocks are only run through MorphState.TryRuleSet.
	Internal bool
}

// Language is everything the engine needs from a language module.
type Language struct {
	Name       string
	Classes    map[string]string
	RuleSets   []*RuleSet
	Dispatcher ActionDispatcher
	// Seed holds text entries installed into the lexicon by NewEngine.
	Seed []string
	// Categories holds extra hierarchy edges, parent → children spec.
	Categories map[string]string
	// PlausibleRoot decides whether an unknown root may be accepted when
	// guessing. Nil means at least three letters.
	PlausibleRoot func(root string) bool

	once   sync.Once
	err    error
	byName map[string]*RuleSet
}

// Compile compiles every rule once. It is safe to call repeatedly.
func (l *Language) Compile() error {
	l.once.Do(func() {
		l.byName = make(map[string]*RuleSet, len(l.RuleSets))
		for _, set := range l.RuleSets {
			l.byName[set.Name] = set
			for _, r := range set.Rules {
				if err := r.compile(l.Classes); err != nil {
					l.err = fmt.Errorf("%s/%s: %w", l.Name, set.Name, err)
					return
				}
			}
		}
	})
	return l.err
}

// RuleSet returns the named block.
func (l *Language) RuleSet(name string) (*RuleSet, error) {
	if err := l.Compile(); err != nil {
		return nil, err
	}
	set, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleSet, name)
	}
	return set, nil
}

func (l *Language) plausible(root string) bool {
	if l.PlausibleRoot != nil {
		return l.PlausibleRoot(root)
	}
	return len([]rune(root)) >= 3
}
