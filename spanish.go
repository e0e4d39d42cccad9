package morph

import "strings"

// ═══════════════════════════════════════════════════════════════════════════════
// SPANISH
// ═══════════════════════════════════════════════════════════════════════════════
// Future and conditional attach to the infinitive, or to an irregular stem:
//
//	hablar + íamos → hablaríamos     r < í a m o s #   root hablar
//	tendr  + íamos → tendríamos      irregular stem    root tener
//
// The stem table below maps the irregular future/conditional stems back to
// their infinitives. Present 1p, gerunds and noun plurals cover the rest.
// ═══════════════════════════════════════════════════════════════════════════════

var spanishIrregularStems = map[string]string{
	"tendr": "tener",
	"har":   "hacer",
	"dir":   "decir",
	"podr":  "poder",
	"sabr":  "saber",
	"querr": "querer",
	"pondr": "poner",
	"saldr": "salir",
	"vendr": "venir",
	"habr":  "haber",
	"cabr":  "caber",
	"valdr": "valer",
}

type spanishEnding struct {
	pattern  string
	features []string
}

// Conditional and future endings, matched after an "r".
var spanishConditional = []spanishEnding{
	{"í a m o s", []string{"1p", "plural"}},
	{"í a i s", []string{"2p", "plural"}},
	{"í a n", []string{"3p", "plural"}},
	{"í a s", []string{"2s", "singular"}},
	{"í a", []string{"1s", "3s", "singular"}},
}

var spanishFuture = []spanishEnding{
	{"e m o s", []string{"1p", "plural"}},
	{"é i s", []string{"2p", "plural"}},
	{"á n", []string{"3p", "plural"}},
	{"á s", []string{"2s", "singular"}},
	{"é", []string{"1s", "singular"}},
	{"á", []string{"3s", "singular"}},
}

const (
	esStem = iota + 1
	esGerund
	esPresent1p
	esPlural
	esInflected = 100 // first generated tense action
)

// Spanish returns a fresh Spanish language module.
func Spanish() *Language {
	actions := ActionTable{
		esStem: func(st *MorphState) bool {
			if inf, ok := spanishIrregularStems[st.RootString()]; ok {
				st.SetRootString(inf)
				st.AddFeature("irregular")
			}
			return true
		},
		esGerund: func(st *MorphState) bool {
			return spanishVerb(st, []string{"gerund"}, "ar", "er", "ir")
		},
		esPresent1p: func(st *MorphState) bool {
			return spanishVerb(st, []string{"present", "1p", "plural"}, spanishThemeVowel(st))
		},
		esPlural: func(st *MorphState) bool {
			if !st.RootIs(NounCategory) {
				return false
			}
			st.AddFeature("plural")
			return st.RecordRootCategories(NounCategory)
		},
	}

	var verbRules []Rule
	code := esInflected
	add := func(tense string, endings []spanishEnding) {
		for _, e := range endings {
			feats := append([]string{tense}, e.features...)
			actions[code] = func(st *MorphState) bool { return spanishVerb(st, feats) }
			verbRules = append(verbRules, NewRule("r < "+e.pattern+" #", esStem, code))
			code++
		}
	}
	add("conditional", spanishConditional)
	add("future", spanishFuture)
	verbRules = append(verbRules,
		NewRule("< a m o s #", esPresent1p),
		NewRule("< e m o s #", esPresent1p),
		NewRule("< i m o s #", esPresent1p),
		NewRule("< a n d o #", esGerund),
		NewRule("< i e n d o #", esGerund),
	)

	return &Language{
		Name: "spanish",
		Classes: map[string]string{
			"C": "bcdfghjklmnñpqrstvwxyz",
			"V": "aeiouáéíóú",
		},
		RuleSets: []*RuleSet{
			{Name: "verbs", Final: true, Rules: verbRules},
			{Name: "nouns", Final: true, Rules: []Rule{
				NewRule("$V < s #", esPlural),
				NewRule("$C < e s #", esPlural),
			}},
		},
		Dispatcher: actions,
		Seed: []string{
			"el:det;core",
			"la:det;core",
			"hablar:v",
			"comer:v",
			"vivir:v",
			"tener:v",
			"hacer:v",
			"decir:v",
			"poder:v",
			"saber:v",
			"querer:v",
			"poner:v",
			"salir:v",
			"venir:v",
			"haber:v;core",
			"caber:v",
			"valer:v",
			"casa:nc",
			"perro:nc",
			"libro:nc",
			"ciudad:nc",
		},
		PlausibleRoot: func(root string) bool {
			return len([]rune(root)) >= 3 && strings.ContainsAny(root, "aeiouáéíóú")
		},
	}
}

// spanishVerb records a verb sense with feats when the root, with one of the
// given infinitive endings appended, is a verb.
func spanishVerb(st *MorphState, feats []string, endings ...string) bool {
	if len(endings) == 0 {
		endings = []string{""}
	}
	for _, end := range endings {
		if end != "" {
			st.AddRight(end)
		}
		if st.RootIs(VerbCategory) {
			st.AddFeature(feats...)
			return st.Record(VerbCategory)
		}
	}
	return false
}

// spanishThemeVowel returns the infinitive ending matching the 1p ending
// the rule removed: -amos → -ar, -emos → -er, -imos → -ir.
func spanishThemeVowel(st *MorphState) string {
	switch {
	case strings.HasPrefix(st.SuffixString(), "a"):
		return "ar"
	case strings.HasPrefix(st.SuffixString(), "e"):
		return "er"
	}
	return "ir"
}
