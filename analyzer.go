// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN EXPANSION
// ═══════════════════════════════════════════════════════════════════════════════
// Expand turns raw text into canonical tokens for a search index:
//
//  1. Tokenization      → split on anything not a letter or digit
//  2. Lowercasing       → "Running" → "running"
//  3. Stop word removal → per-language list ("the", "el", ...)
//  4. Length filtering  → drop tokens shorter than MinTokenLength
//  5. Canonicalization  → morphological roots of the token
//
// EXAMPLE:
// --------
// Input:  "The dogs were running"
// Step 1: ["The", "dogs", "were", "running"]
// Step 2: ["the", "dogs", "were", "running"]
// Step 3: ["dogs", "running"]
// Step 5: ["dog", "run"]
//
// Canonicalization asks the engine. A word with roots expands to its roots,
// a word without roots stays as it is, and a word the engine could only
// guess falls back to the snowball stemmer of the language when stemming is
// enabled.
// ═══════════════════════════════════════════════════════════════════════════════

package morph

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// AnalyzerConfig holds configuration options for token expansion.
type AnalyzerConfig struct {
	MinTokenLength  int  // Minimum token length to keep (default: 2)
	EnableStemming  bool // Stem guessed words with snowball (default: true)
	EnableStopwords bool // Whether to remove stopwords (default: true)
	KeepSurface     bool // Emit the surface token before its roots
}

// DefaultAnalyzerConfig returns the standard analyzer configuration.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MinTokenLength:  2,
		EnableStemming:  true,
		EnableStopwords: true,
	}
}

// Analyzer expands text through an Engine.
type Analyzer struct {
	eng       *Engine
	cfg       AnalyzerConfig
	stopwords map[string]struct{}
}

// NewAnalyzer builds an analyzer for the engine's language.
func NewAnalyzer(eng *Engine, cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{eng: eng, cfg: cfg, stopwords: stopwordsFor(eng.Language().Name)}
}

// Expand returns the canonical tokens of text, in text order.
//
// Example:
//
//	a.Expand("Los perros hablaríamos")
//	// Returns: ["perro", "hablar"]
func (a *Analyzer) Expand(text string) []string {
	var out []string
	for _, tok := range a.Tokens(text) {
		out = append(out, a.Canonical(tok)...)
	}
	return out
}

// Tokens runs the pipeline up to, not including, canonicalization.
func (a *Analyzer) Tokens(text string) []string {
	tokens := lowercaseFilter(tokenize(text))
	if a.cfg.EnableStopwords {
		tokens = a.stopwordFilter(tokens)
	}
	return lengthFilter(tokens, a.cfg.MinTokenLength)
}

// Canonical returns the canonical forms of a single lowercase token.
func (a *Analyzer) Canonical(token string) []string {
	w := a.eng.Analyze(token)
	if w == nil {
		return nil
	}
	var out []string
	if a.cfg.KeepSurface {
		out = append(out, token)
	}
	e := a.eng.Lexicon().Entry(w)
	switch {
	case e == nil:
		return append(out, token)
	case e.Guessed && a.cfg.EnableStemming:
		return append(out, a.stem(token))
	}
	roots := a.eng.Roots(w)
	if len(roots) == 0 {
		if !a.cfg.KeepSurface {
			out = append(out, token)
		}
		return out
	}
	for _, r := range roots {
		out = append(out, r.Text())
	}
	return out
}

// stem falls back to the token when the language has no snowball stemmer.
func (a *Analyzer) stem(token string) string {
	s, err := snowball.Stem(token, a.eng.Language().Name, false)
	if err != nil {
		return token
	}
	return s
}

// tokenize splits text on any character that is not a letter or a number.
//
//	"hello-world"  → ["hello", "world"]
//	"café"         → ["café"]
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func lowercaseFilter(tokens []string) []string {
	r := make([]string, len(tokens))
	for i, token := range tokens {
		r[i] = strings.ToLower(token)
	}
	return r
}

func (a *Analyzer) stopwordFilter(tokens []string) []string {
	r := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := a.stopwords[token]; !stop {
			r = append(r, token)
		}
	}
	return r
}

// lengthFilter counts runes, so "él" survives a minimum of 2.
func lengthFilter(tokens []string, minLength int) []string {
	r := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len([]rune(token)) >= minLength {
			r = append(r, token)
		}
	}
	return r
}

func stopwordsFor(language string) map[string]struct{} {
	var words string
	switch language {
	case "english":
		words = englishStopwords
	case "spanish":
		words = spanishStopwords
	}
	m := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		m[w] = struct{}{}
	}
	return m
}

const englishStopwords = `
a about above after again against all am an and any are as at be because
been before being below between both but by could did do does doing down
during each few for from further had has have having he her here hers
herself him himself his how i if in into is it its itself me more most my
myself no nor not of off on once only or other our ours ourselves out over
own same she should so some such than that the their theirs them themselves
then there these they this those through to too under until up very was we
were what when where which while who whom why will with would you your yours
yourself yourselves`

const spanishStopwords = `
a al algo algunas algunos ante antes como con contra cual cuando de del
desde donde durante e el ella ellas ellos en entre era es esa esas ese eso
esos esta estas este esto estos fue ha hay la las le les lo los me mi mis
mucho muy ni no nos nosotros o os otra otro para pero poco por porque que
quien se sin sobre su sus también te tiene tu tus un una uno unos y ya yo`
