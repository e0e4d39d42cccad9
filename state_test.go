package morph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUBSTITUTION TESTS
// ═══════════════════════════════════════════════════════════════════════════════

// stateSnapshot is what an action saw of its MorphState.
type stateSnapshot struct {
	badKill     bool
	killsAfter  [2]int
	prefix      string
	suffix      string
	root        string
	kills       [2]int
	prefixPhase bool
	transitive  bool
	unknownFeat bool
}

func TestMorphState_KillAndAddLeft(t *testing.T) {
	var got stateSnapshot
	lang := &Language{
		Name: "rewrite",
		RuleSets: []*RuleSet{{
			Name:   "main",
			Prefix: true,
			Rules:  []Rule{NewRule("# r e .w e #", 1)},
		}},
		Dispatcher: ActionTable{1: func(st *MorphState) bool {
			got.badKill = st.Kill(5, 5)
			got.killsAfter[0], got.killsAfter[1] = st.KillCounts()
			if !st.Kill(2, 0) {
				return false
			}
			st.AddLeft("x")
			got.prefix = st.PrefixString()
			got.suffix = st.SuffixString()
			got.root = st.RootString()
			got.kills[0], got.kills[1] = st.KillCounts()
			got.prefixPhase = st.InPrefixPhase()
			got.transitive = st.RootHasFeature("transitive")
			got.unknownFeat = st.RootHasFeature("intransitive")
			st.SetSuffix("ING")
			return st.Record("v")
		}},
		Seed: []string{"xwrite:v;features:transitive"},
	}
	eng := newTestEngine(t, lang)
	lex := eng.Lexicon()

	w := eng.Analyze("rewrite")

	assert.False(t, got.badKill, "kills wider than the match must be refused")
	assert.Equal(t, [2]int{0, 0}, got.killsAfter, "a refused kill leaves the counts alone")
	assert.Equal(t, "re", got.prefix)
	assert.Empty(t, got.suffix)
	assert.Equal(t, "xwrite", got.root)
	assert.Equal(t, [2]int{2, 0}, got.kills)
	assert.True(t, got.prefixPhase)
	assert.True(t, got.transitive)
	assert.False(t, got.unknownFeat)

	a := describe(t, eng, w)
	assert.Equal(t, map[string]int{"v": 0}, a.categories)
	assert.Equal(t, []string{"xwrite"}, a.roots)
	assert.False(t, a.guessed)

	e := lex.Entry(w)
	require.Len(t, e.Suffixes, 1)
	ing := lex.Word(e.Suffixes[0])
	assert.Equal(t, "ing", ing.Text())
	assert.False(t, ing.HasEntry(), "affixes are committed as stubs")
	require.Len(t, e.Senses, 1)
	assert.Equal(t, ing.ID(), e.Senses[0].Suffix)
}

func TestMorphState_InPrefixPhaseOnlyForPrefixSets(t *testing.T) {
	var phases []bool
	lang := &Language{
		Name: "phases",
		RuleSets: []*RuleSet{
			{Name: "suffixes", Rules: []Rule{NewRule("< s #", 1)}},
			{Name: "prefixes", Prefix: true, Rules: []Rule{NewRule("# u n >", 1)}},
		},
		Dispatcher: ActionTable{1: func(st *MorphState) bool {
			phases = append(phases, st.InPrefixPhase())
			return st.RecordRootCategories(NounCategory)
		}},
		Seed: []string{"dog:nc", "do:nc"},
	}
	eng := newTestEngine(t, lang)

	eng.Analyze("dogs")
	require.NotEmpty(t, phases)
	assert.False(t, phases[0])

	phases = nil
	eng.Analyze("undo")
	require.NotEmpty(t, phases)
	assert.True(t, phases[0])
}

func TestMorphState_AffixesRecordedPerSense(t *testing.T) {
	lang := &Language{
		Name:     "affixes",
		RuleSets: []*RuleSet{{Name: "main", Rules: []Rule{NewRule("< n e s s #", 1)}}},
		Dispatcher: ActionTable{1: func(st *MorphState) bool {
			st.SetPrefix(" Over ")
			st.SetSuffix(st.SuffixString())
			return st.Record("nc")
		}},
		Seed: []string{"kind:adj"},
	}
	eng := newTestEngine(t, lang)
	lex := eng.Lexicon()

	e := lex.Entry(eng.Analyze("kindness"))
	require.NotNil(t, e)
	require.Len(t, e.Senses, 1)
	s := e.Senses[0]
	assert.Equal(t, "over", lex.Word(s.Prefix).Text())
	assert.Equal(t, "ness", lex.Word(s.Suffix).Text())
	assert.Equal(t, []WordID{s.Prefix}, e.Prefixes)
	assert.Equal(t, []WordID{s.Suffix}, e.Suffixes)
	assert.Equal(t, "kindness:nc;root:kind;prefix:over;suffix:ness;sense:(nc (kind) () 0 - over ness)", lex.FormatEntry(lex.LookupWord("kindness")))
}
