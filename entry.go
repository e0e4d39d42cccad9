package morph

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TEXT ENTRIES
// ═══════════════════════════════════════════════════════════════════════════════
// The text form of a lexicon entry is one line of semicolon-separated fields:
//
//	running:v;root:run;features:prog
//	bank:n;penalty1:v;subsenses:(bank!money bank!river)
//	ten:number;numval:10;core
//	colour:n;variant-of:color;origin:(british english)
//
// The first field is the word and its unpenalized categories. Every other
// field is attribute:value, where the value is a comma- or space-separated
// list whose items may themselves be parenthesized lists. Attributes the
// entry structure knows are routed to their fields; anything else lands in
// the property map. Malformed fields are logged and skipped.
// ═══════════════════════════════════════════════════════════════════════════════

// item is one parsed value token: a bare string or a parenthesized list.
type item struct {
	text   string
	list   []item
	isList bool
}

func (it item) String() string {
	if !it.isList {
		return it.text
	}
	parts := make([]string, len(it.list))
	for i, e := range it.list {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// flatten returns the bare strings of it, descending into lists.
func (it item) flatten() []string {
	if !it.isList {
		return []string{it.text}
	}
	var out []string
	for _, e := range it.list {
		out = append(out, e.flatten()...)
	}
	return out
}

// parseItems splits a value into items. An unbalanced parenthesis is
// reported but the items read so far are still returned.
func parseItems(s string) ([]item, error) {
	var stack [][]item
	var cur []item
	var tok strings.Builder
	var err error
	flush := func() {
		if tok.Len() > 0 {
			cur = append(cur, item{text: tok.String()})
			tok.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(':
			flush()
			stack = append(stack, cur)
			cur = nil
		case r == ')':
			flush()
			if len(stack) == 0 {
				err = fmt.Errorf("unmatched ')' in %q", s)
				continue
			}
			inner := cur
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur = append(cur, item{list: inner, isList: true})
		case r == ',' || r == ' ' || r == '\t':
			flush()
		default:
			tok.WriteRune(r)
		}
	}
	flush()
	if len(stack) > 0 {
		err = fmt.Errorf("unmatched '(' in %q", s)
		for len(stack) > 0 {
			inner := cur
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur = append(cur, item{list: inner, isList: true})
		}
	}
	return cur, err
}

func flattenAll(items []item) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.flatten()...)
	}
	return out
}

// MakeEntry parses one text entry and merges it into the word's entry,
// creating the word if needed. It returns nil only when the line names no
// word. Malformed fields are logged and skipped.
func (lex *Lexicon) MakeEntry(line string) *Word {
	fields := strings.Split(line, ";")
	head, cats, _ := strings.Cut(fields[0], ":")
	w := lex.InternWord(head)
	if w == nil {
		lex.logger.Warn("entry without a word", slog.String("line", line))
		return nil
	}

	e := lex.Entry(w).Clone()
	if e == nil {
		e = &WordEntry{}
	}
	warn := func(msg string, args ...any) {
		lex.logger.Warn(msg, append([]any{slog.String("word", w.text)}, args...)...)
	}
	items, err := parseItems(cats)
	if err != nil {
		warn("malformed categories", slog.Any("err", err))
	}
	for _, name := range flattenAll(items) {
		if c := lex.InternCategory(name); c != nil {
			e.AddCategory(c.id, 0)
		}
	}

	core := false
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		attr, val, _ := strings.Cut(f, ":")
		attr = normalize(attr)
		items, err := parseItems(val)
		if err != nil {
			warn("malformed value", slog.String("attr", attr), slog.Any("err", err))
		}
		words := func() []WordID {
			var ids []WordID
			for _, s := range flattenAll(items) {
				if x := lex.InternWord(s); x != nil {
					ids = appendUniqueWord(ids, x.id)
				}
			}
			return ids
		}
		atoms := func(dst []AtomID) []AtomID {
			for _, s := range flattenAll(items) {
				if a := lex.InternAtom(s); a != nil {
					dst = appendUniqueAtom(dst, a.id)
				}
			}
			return dst
		}
		switch attr {
		case "root":
			e.Roots = mergeWords(e.Roots, words())
		case "prefix":
			e.Prefixes = mergeWords(e.Prefixes, words())
		case "suffix":
			e.Suffixes = mergeWords(e.Suffixes, words())
		case "iko":
			e.Iko = mergeWords(e.Iko, words())
		case "iio":
			e.Iio = mergeWords(e.Iio, words())
		case "subsenses":
			e.SubSenses = mergeWords(e.SubSenses, words())
		case "variant-of":
			e.VariantOf = lex.addLinks(w, e.VariantOf, words(), func(x *WordEntry) []WordID { return x.VariantOf })
		case "nickname-of":
			e.NicknameOf = lex.addLinks(w, e.NicknameOf, words(), func(x *WordEntry) []WordID { return x.NicknameOf })
		case "misspelling-of":
			e.MisspellingOf = lex.addLinks(w, e.MisspellingOf, words(), func(x *WordEntry) []WordID { return x.MisspellingOf })
		case "abbreviation-of":
			e.AbbreviationOf = mergeWords(e.AbbreviationOf, words())
		case "features", "icodes":
			e.Features = atoms(e.Features)
		case "capcodes":
			e.CapCodes = atoms(e.CapCodes)
		case "senseof":
			if ids := words(); len(ids) > 0 {
				e.SenseOf = ids[0]
			}
		case "numval":
			n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				warn("bad numval", slog.String("value", val))
				continue
			}
			e.HasNumber, e.Number = true, n
		case "penalty1", "penalty2", "penalty3":
			p := int(attr[len(attr)-1] - '0')
			for _, name := range flattenAll(items) {
				if c := lex.InternCategory(name); c != nil {
					e.AddCategory(c.id, p)
				}
			}
		case "sense":
			for _, it := range items {
				if s, ok := lex.parseSense(it); ok {
					e.Senses = append(e.Senses, s)
				} else {
					warn("malformed sense", slog.String("value", it.String()))
				}
			}
		case "guessed":
			e.Guessed = val == "" || val == "true"
		case "core":
			core = val == "" || val == "true"
		case "":
			warn("empty attribute", slog.String("field", f))
		default:
			a := lex.InternAtom(attr)
			if e.Props == nil {
				e.Props = make(map[AtomID]Value)
			}
			e.Props[a.id] = lex.itemsValue(items)
		}
	}

	if core {
		w.SetCore(true)
	}
	w.setEntry(e)
	return w
}

func mergeWords(dst, src []WordID) []WordID {
	for _, id := range src {
		dst = appendUniqueWord(dst, id)
	}
	return dst
}

// addLinks appends link targets unless following the same link kind from
// the target leads back to w.
func (lex *Lexicon) addLinks(w *Word, dst, targets []WordID, next func(*WordEntry) []WordID) []WordID {
	for _, t := range targets {
		if t == w.id || lex.linkReaches(t, w.id, next) {
			lex.logger.Warn("link loop dropped",
				slog.String("word", w.text), slog.String("target", lex.Word(t).Text()))
			continue
		}
		dst = appendUniqueWord(dst, t)
	}
	return dst
}

func (lex *Lexicon) linkReaches(from, target WordID, next func(*WordEntry) []WordID) bool {
	seen := map[WordID]bool{}
	queue := []WordID{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if e := lex.Entry(lex.Word(id)); e != nil {
			queue = append(queue, next(e)...)
		}
	}
	return false
}

// itemValue converts a parsed item to a Value: numbers stay numbers, lists
// become lists and every other token becomes an atom.
func (lex *Lexicon) itemValue(it item) Value {
	if it.isList {
		elems := make([]Value, len(it.list))
		for i, e := range it.list {
			elems[i] = lex.itemValue(e)
		}
		return ListValue(elems...)
	}
	if n, err := strconv.ParseFloat(it.text, 64); err == nil {
		return NumberValue(n)
	}
	return lex.InternAtom(it.text).Value()
}

func (lex *Lexicon) itemsValue(items []item) Value {
	switch len(items) {
	case 0:
		return Nil
	case 1:
		return lex.itemValue(items[0])
	}
	return lex.itemValue(item{list: items, isList: true})
}

// parseSense reads (category (roots) (features) penalty name prefix suffix),
// with "-" for an empty name, prefix or suffix.
func (lex *Lexicon) parseSense(it item) (Sense, bool) {
	if !it.isList || len(it.list) < 4 || it.list[0].isList {
		return Sense{}, false
	}
	var s Sense
	c := lex.InternCategory(it.list[0].text)
	if c == nil {
		return Sense{}, false
	}
	s.Category = c.id
	for _, r := range it.list[1].flatten() {
		if w := lex.InternWord(r); w != nil {
			s.Roots = append(s.Roots, w.id)
		}
	}
	for _, f := range it.list[2].flatten() {
		if a := lex.InternAtom(f); a != nil {
			s.Features = append(s.Features, a.id)
		}
	}
	p, err := strconv.Atoi(it.list[3].text)
	if err != nil {
		return Sense{}, false
	}
	s.Penalty = p
	opt := func(i int) string {
		if i < len(it.list) && !it.list[i].isList && it.list[i].text != "-" {
			return it.list[i].text
		}
		return ""
	}
	s.Name = opt(4)
	if x := opt(5); x != "" {
		s.Prefix = lex.InternWord(x).id
	}
	if x := opt(6); x != "" {
		s.Suffix = lex.InternWord(x).id
	}
	return s, true
}

// LoadEntries reads text entries, one per line. Blank lines and lines
// starting with '!' or '#' are skipped. It returns the number of entries made.
func (lex *Lexicon) LoadEntries(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '!' || line[0] == '#' {
			continue
		}
		if lex.MakeEntry(line) != nil {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read entries: %w", err)
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// PRINT FORM
// ═══════════════════════════════════════════════════════════════════════════════

// FormatEntry renders a word's entry in the text form MakeEntry reads back.
// Stubs render as the bare word.
func (lex *Lexicon) FormatEntry(w *Word) string {
	var sb strings.Builder
	sb.WriteString(w.text)
	e := lex.Entry(w)
	if e == nil {
		return sb.String()
	}
	catNames := func(ids []CatID) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = lex.CategoryName(id)
		}
		return out
	}
	wordNames := func(ids []WordID) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = lex.wordText(id)
		}
		return out
	}
	atomNames := func(ids []AtomID) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = lex.AtomName(id)
		}
		return out
	}
	field := func(attr string, vals []string) {
		if len(vals) == 0 {
			return
		}
		sb.WriteString(";" + attr + ":" + strings.Join(vals, ","))
	}

	sb.WriteString(":" + strings.Join(catNames(e.Categories[0]), ","))
	for p := 1; p < NumPenalties; p++ {
		field("penalty"+strconv.Itoa(p), catNames(e.Categories[p]))
	}
	field("root", wordNames(e.Roots))
	field("prefix", wordNames(e.Prefixes))
	field("suffix", wordNames(e.Suffixes))
	field("iko", wordNames(e.Iko))
	field("iio", wordNames(e.Iio))
	field("features", atomNames(e.Features))
	field("capcodes", atomNames(e.CapCodes))
	if e.HasNumber {
		field("numval", []string{strconv.FormatFloat(e.Number, 'g', -1, 64)})
	}
	if e.SenseOf != 0 {
		field("senseof", []string{lex.wordText(e.SenseOf)})
	}
	field("subsenses", wordNames(e.SubSenses))
	field("variant-of", wordNames(e.VariantOf))
	field("nickname-of", wordNames(e.NicknameOf))
	field("misspelling-of", wordNames(e.MisspellingOf))
	field("abbreviation-of", wordNames(e.AbbreviationOf))
	for _, s := range e.Senses {
		field("sense", []string{lex.formatSense(s)})
	}
	if e.Guessed {
		sb.WriteString(";guessed")
	}
	if w.IsCore() {
		sb.WriteString(";core")
	}
	keys := sortedKeys(e.Props)
	sort.Slice(keys, func(i, j int) bool { return lex.AtomName(keys[i]) < lex.AtomName(keys[j]) })
	for _, k := range keys {
		sb.WriteString(";" + lex.AtomName(k) + ":" + lex.Format(e.Props[k]))
	}
	return sb.String()
}

func (lex *Lexicon) formatSense(s Sense) string {
	dash := func(x string) string {
		if x == "" {
			return "-"
		}
		return x
	}
	roots := make([]string, len(s.Roots))
	for i, id := range s.Roots {
		roots[i] = lex.wordText(id)
	}
	feats := make([]string, len(s.Features))
	for i, id := range s.Features {
		feats[i] = lex.AtomName(id)
	}
	parts := []string{
		lex.CategoryName(s.Category),
		"(" + strings.Join(roots, " ") + ")",
		"(" + strings.Join(feats, " ") + ")",
		strconv.Itoa(s.Penalty),
		dash(s.Name),
	}
	if s.Prefix != 0 || s.Suffix != 0 {
		parts = append(parts, dash(lex.wordText(s.Prefix)), dash(lex.wordText(s.Suffix)))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// wordText prints a shared word handle.
func (lex *Lexicon) wordText(id WordID) string {
	if w := lex.Word(id); w != nil {
		return w.text
	}
	return ""
}
