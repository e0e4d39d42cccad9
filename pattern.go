package morph

import (
	"fmt"
	"log/slog"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PATTERN MATCHER
// ═══════════════════════════════════════════════════════════════════════════════
// A morph pattern is a short, space-separated sequence of elements matched
// RIGHT TO LEFT against a word:
//
//	aeiou   → one character from the set
//	$V      → one character from the language's class V
//	.X      → an X anywhere further left (rightmost first, then further left)
//	*X      → zero or more X, greedy
//	+X      → one or more X, greedy
//	?X      → zero or one X
//	&       → a doubled letter: a character equal to the one before it
//	<       → left context boundary: what the match consumed to its right is
//	          killed from the word's right side
//	>       → right context boundary: what the match consumed to its left is
//	          killed from the word's left side
//	#       → as first element anchors the match at the word start, as last
//	          element at the word end
//
// Example, "hablaríamos" against "r < í a m o s #":
//
//	h a b l a r í a m o s
//	          ^ └───┬───┘
//	          r  killed (5)      root "hablar"
//
// Without a trailing "#" the match may end before the word end: the matcher
// first tries the last character, then slides one position left at a time,
// and the skipped tail is preserved.
//
// BACKTRACKING:
// -------------
// Every choice point (., *, +, ? and the slide) pushes an altState onto an
// explicit stack; on failure the newest one is popped and resumed. Each
// (position, element, count, started) state is visited at most once per
// Match call, so the work is bounded by len(word) × len(pattern) × count.
// ═══════════════════════════════════════════════════════════════════════════════

type elemOp byte

const (
	opSet    elemOp = '='
	opAny    elemOp = '.'
	opStar   elemOp = '*'
	opPlus   elemOp = '+'
	opOpt    elemOp = '?'
	opDouble elemOp = '&'
	opLeft   elemOp = '<'
	opRight  elemOp = '>'
)

type elem struct {
	op  elemOp
	set string
}

func (e elem) matches(r rune) bool { return strings.ContainsRune(e.set, r) }

// Pattern is a compiled morph pattern.
type Pattern struct {
	src         string
	elems       []elem
	anchorLeft  bool
	anchorRight bool
	hasLeftCtx  bool
	hasRightCtx bool
}

// CompilePattern parses src. Class references ($NAME) are resolved through
// classes.
func CompilePattern(src string, classes map[string]string) (*Pattern, error) {
	toks := strings.Fields(strings.ToLower(src))
	p := &Pattern{src: src}
	if len(toks) > 0 && toks[0] == "#" {
		p.anchorLeft = true
		toks = toks[1:]
	}
	if len(toks) > 0 && toks[len(toks)-1] == "#" {
		p.anchorRight = true
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: %q has no elements", ErrBadPattern, src)
	}
	resolve := func(set string) (string, error) {
		if !strings.HasPrefix(set, "$") {
			return set, nil
		}
		// Class names are case-insensitive; the source was lowercased.
		for name, chars := range classes {
			if strings.EqualFold(name, set[1:]) {
				return strings.ToLower(chars), nil
			}
		}
		return "", fmt.Errorf("%w: unknown class %q in %q", ErrBadPattern, set, src)
	}
	for _, t := range toks {
		switch t {
		case "<":
			if p.hasLeftCtx {
				return nil, fmt.Errorf("%w: repeated '<' in %q", ErrBadPattern, src)
			}
			p.hasLeftCtx = true
			p.elems = append(p.elems, elem{op: opLeft})
			continue
		case ">":
			if p.hasRightCtx {
				return nil, fmt.Errorf("%w: repeated '>' in %q", ErrBadPattern, src)
			}
			p.hasRightCtx = true
			p.elems = append(p.elems, elem{op: opRight})
			continue
		case "&":
			p.elems = append(p.elems, elem{op: opDouble})
			continue
		case "#":
			return nil, fmt.Errorf("%w: '#' inside %q", ErrBadPattern, src)
		}
		op, set := opSet, t
		switch t[0] {
		case '.', '*', '+', '?':
			op, set = elemOp(t[0]), t[1:]
			if set == "" {
				return nil, fmt.Errorf("%w: %q lacks a character set in %q", ErrBadPattern, t, src)
			}
		}
		set, err := resolve(set)
		if err != nil {
			return nil, err
		}
		p.elems = append(p.elems, elem{op: op, set: set})
	}
	if p.hasLeftCtx && p.hasRightCtx {
		left, right := -1, -1
		for i, e := range p.elems {
			switch e.op {
			case opLeft:
				left = i
			case opRight:
				right = i
			}
		}
		if right > left {
			return nil, fmt.Errorf("%w: '>' after '<' in %q", ErrBadPattern, src)
		}
	}
	return p, nil
}

// MustCompilePattern is CompilePattern that panics on error, for rule tables.
func MustCompilePattern(src string, classes map[string]string) *Pattern {
	p, err := CompilePattern(src, classes)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.src }

// HasContext reports which context boundaries the pattern sets.
func (p *Pattern) HasContext() (left, right bool) { return p.hasLeftCtx, p.hasRightCtx }

// MatchResult describes a successful match over a word of runes.
//
//	word[:Start]              untouched text left of the match
//	word[Start:Start+KillLeft] killed on the left
//	word[End-KillRight:End]    killed on the right
//	word[End:]                untouched tail (unanchored matches only)
//
// LeftCtx and RightCtx are the rune positions of '<' and '>' or -1.
type MatchResult struct {
	Start, End        int
	LeftCtx, RightCtx int
	KillLeft          int
	KillRight         int
	Steps             int // states visited
}

// altState is one suspended choice point.
type altState struct {
	pos       int // runes left of pos are still unmatched
	pi        int // next element, counting down
	count     int // repetitions (or skipped characters) of element pi so far
	end       int
	lctx      int
	rctx      int
	killLeft  int
	killRight int
	started   bool
}

// stateKey is what makes two states equivalent for the rest of a match.
type stateKey struct {
	pos, pi, count int
	started        bool
}

// Matcher runs patterns. Its zero value is ready to use; the hooks are per
// instance so tests can trace one matcher without affecting others.
type Matcher struct {
	Trace   bool
	Logger  *slog.Logger
	OnState func(pos, pi, count int, started bool)
}

// Match runs p against word and reports the first match found.
func (m *Matcher) Match(p *Pattern, word []rune) (MatchResult, bool) {
	n := len(word)
	last := len(p.elems) - 1
	visited := make(map[stateKey]struct{}, 4*(n+1))
	var stack []altState
	cur := altState{pos: n, pi: last, end: n, lctx: -1, rctx: -1}
	steps := 0

	for {
		key := stateKey{cur.pos, cur.pi, cur.count, cur.started}
		_, seen := visited[key]
		ok := !seen
		if ok {
			visited[key] = struct{}{}
			steps++
			if m.OnState != nil {
				m.OnState(cur.pos, cur.pi, cur.count, cur.started)
			}
			if !cur.started {
				if !p.anchorRight && cur.pos > 0 {
					stack = append(stack, altState{pos: cur.pos - 1, pi: last, end: cur.pos - 1, lctx: -1, rctx: -1})
				}
				cur.started, cur.end = true, cur.pos
			}
			if cur.pi < 0 {
				if !p.anchorLeft || cur.pos == 0 {
					res := MatchResult{
						Start:     cur.pos,
						End:       cur.end,
						LeftCtx:   cur.lctx,
						RightCtx:  cur.rctx,
						KillLeft:  cur.killLeft,
						KillRight: cur.killRight,
						Steps:     steps,
					}
					m.trace(p, word, res)
					return res, true
				}
				ok = false
			} else {
				ok = m.step(p, word, &cur, &stack)
			}
		}
		if ok {
			continue
		}
		if len(stack) == 0 {
			if m.Trace && m.Logger != nil {
				m.Logger.Debug("pattern failed", slog.String("pattern", p.src), slog.String("word", string(word)), slog.Int("steps", steps))
			}
			return MatchResult{Steps: steps}, false
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
	}
}

// consume moves cur one character left, charging it to a kill zone when it
// lies right of '<' or left of '>'.
func consume(p *Pattern, cur *altState) {
	cur.pos--
	if p.hasLeftCtx && cur.lctx < 0 {
		cur.killRight++
	}
	if p.hasRightCtx && cur.rctx >= 0 {
		cur.killLeft++
	}
}

// step advances cur by one element. It returns false when cur is dead.
func (m *Matcher) step(p *Pattern, word []rune, cur *altState, stack *[]altState) bool {
	e := p.elems[cur.pi]
	canTake := cur.pos > 0 && e.op != opLeft && e.op != opRight && e.op != opDouble && e.matches(word[cur.pos-1])

	switch e.op {
	case opLeft:
		cur.lctx = cur.pos
		cur.pi--
		return true
	case opRight:
		cur.rctx = cur.pos
		cur.pi--
		return true
	case opSet:
		if !canTake {
			return false
		}
		consume(p, cur)
		cur.pi--
		return true
	case opDouble:
		if cur.pos < 2 || word[cur.pos-1] != word[cur.pos-2] {
			return false
		}
		consume(p, cur)
		cur.pi--
		return true
	case opOpt:
		skip := *cur
		skip.pi--
		if !canTake {
			*cur = skip
			return true
		}
		*stack = append(*stack, skip)
		consume(p, cur)
		cur.pi--
		return true
	case opStar, opPlus:
		if !canTake {
			if e.op == opPlus && cur.count == 0 {
				return false
			}
			cur.pi--
			cur.count = 0
			return true
		}
		if e.op == opStar || cur.count > 0 {
			stop := *cur
			stop.pi--
			stop.count = 0
			*stack = append(*stack, stop)
		}
		consume(p, cur)
		cur.count++
		return true
	case opAny:
		if cur.pos == 0 {
			return false
		}
		if canTake {
			further := *cur
			consume(p, &further)
			further.count++
			*stack = append(*stack, further)
			consume(p, cur)
			cur.pi--
			cur.count = 0
			return true
		}
		consume(p, cur)
		cur.count++
		return true
	}
	return false
}

func (m *Matcher) trace(p *Pattern, word []rune, res MatchResult) {
	if !m.Trace || m.Logger == nil {
		return
	}
	m.Logger.Debug("pattern matched",
		slog.String("pattern", p.src),
		slog.String("word", string(word)),
		slog.Int("start", res.Start),
		slog.Int("end", res.End),
		slog.Int("kill_left", res.KillLeft),
		slog.Int("kill_right", res.KillRight),
		slog.Int("steps", res.Steps))
}
