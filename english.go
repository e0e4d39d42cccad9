package morph

// ═══════════════════════════════════════════════════════════════════════════════
// ENGLISH
// ═══════════════════════════════════════════════════════════════════════════════
// A small English rule table: regular inflection, two negative/iterative
// prefixes and noun-noun compounds.
//
//	running   $C < & i n g #    run     v    progressive
//	cities    $C < i e s #      city    nc   plural        (adds "y")
//	boxes     x < e s #         box     nc   plural
//	unhappy   # u n >           happy   adj  prefix un
//	bookshelf n + n             shelf   nc   roots book, shelf
// ═══════════════════════════════════════════════════════════════════════════════

const (
	enAddE = iota + 1
	enAddY
	enProgressive
	enPast
	enPluralOr3sg
	enComparative
	enSuperlative
	enAdverb
	enNegative
	enIterative
	enCompound
)

var englishActions = ActionTable{
	enAddE: func(st *MorphState) bool { st.AddRight("e"); return true },
	enAddY: func(st *MorphState) bool { st.AddRight("y"); return true },
	enProgressive: func(st *MorphState) bool {
		if !st.RootIs(VerbCategory) {
			return false
		}
		st.AddFeature("progressive")
		return st.Record(VerbCategory)
	},
	enPast: func(st *MorphState) bool {
		if !st.RootIs(VerbCategory) {
			return false
		}
		st.AddFeature("past")
		return st.Record(VerbCategory)
	},
	enPluralOr3sg: func(st *MorphState) bool {
		ok := false
		if st.RootIs(NounCategory) {
			st.AddFeature("plural")
			ok = st.RecordRootCategories(NounCategory)
		}
		if st.RootIs(VerbCategory) {
			st.ClearFeatures()
			st.AddFeature("3sg", "present")
			ok = st.Record(VerbCategory) || ok
		}
		return ok
	},
	enComparative: func(st *MorphState) bool {
		switch {
		case st.RootIs(AdjCategory):
			st.AddFeature("comparative")
			return st.Record(AdjCategory)
		case st.RootIs(VerbCategory):
			st.AddFeature("agent")
			st.PenalizeCategory(CommonNounCategory, 1)
			return st.Record(CommonNounCategory)
		}
		return false
	},
	enSuperlative: func(st *MorphState) bool {
		if !st.RootIs(AdjCategory) {
			return false
		}
		st.AddFeature("superlative")
		return st.Record(AdjCategory)
	},
	enAdverb: func(st *MorphState) bool {
		if !st.RootIs(AdjCategory) {
			return false
		}
		return st.Record(AdvCategory)
	},
	enNegative: func(st *MorphState) bool {
		if !st.RootIs("adj/v") {
			return false
		}
		st.SetPrefix("un")
		return st.RecordRootCategories("adj/v")
	},
	enIterative: func(st *MorphState) bool {
		if !st.RootIs(VerbCategory) {
			return false
		}
		st.SetPrefix("re")
		st.AddFeature("iterative")
		return st.RecordRootCategories(VerbCategory)
	},
	enCompound: func(st *MorphState) bool {
		st.AddFeature("compound")
		return st.RecordRootCategories(NounCategory)
	},
}

// English returns a fresh English language module.
func English() *Language {
	return &Language{
		Name: "english",
		Classes: map[string]string{
			"C": "bcdfghjklmnpqrstvwxz",
			"V": "aeiou",
		},
		RuleSets: []*RuleSet{
			{
				Name:  "suffixes",
				Final: true,
				Rules: []Rule{
					NewRule("$C < & i n g #", enProgressive),
					NewRule("< i n g #", enProgressive),
					NewRule("$C < i n g #", enAddE, enProgressive),
					NewRule("$C < & e d #", enPast),
					NewRule("$C < i e d #", enAddY, enPast),
					NewRule("< e d #", enPast),
					NewRule("< d #", enPast),
					NewRule("$C < i e s #", enAddY, enPluralOr3sg),
					NewRule("s h < e s #", enPluralOr3sg),
					NewRule("c h < e s #", enPluralOr3sg),
					NewRule("x < e s #", enPluralOr3sg),
					NewRule("s < e s #", enPluralOr3sg),
					NewRule("< s #", enPluralOr3sg),
					NewRule("$C < i e r #", enAddY, enComparative),
					NewRule("< e r #", enComparative),
					NewRule("$C < i e s t #", enAddY, enSuperlative),
					NewRule("< e s t #", enSuperlative),
					NewRule("$C < i l y #", enAddY, enAdverb),
					NewRule("< l y #", enAdverb),
				},
			},
			{
				Name:   "prefixes",
				Prefix: true,
				Final:  true,
				Rules: []Rule{
					NewRule("# u n >", enNegative),
					NewRule("# r e >", enIterative),
				},
			},
			{
				Name:  "compounds",
				Rules: []Rule{NewCompoundRule("n n", enCompound)},
			},
		},
		Dispatcher: englishActions,
		Seed: []string{
			"the:det;core",
			"a:det;core",
			"run:v",
			"walk:v,nc",
			"stop:v,nc",
			"make:v",
			"bake:v",
			"carry:v",
			"dog:nc",
			"cat:nc",
			"city:nc",
			"box:nc,v",
			"book:nc,v",
			"shelf:nc",
			"fish:nc,v",
			"tall:adj",
			"quick:adj",
			"happy:adj",
			"do:v;core",
		},
	}
}
