package morph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bitset"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE: .blex / .bidx / .bhis
// ═══════════════════════════════════════════════════════════════════════════════
// A dumped lexicon is three files sharing a base name:
//
//	lexicon.blex  → records, one per indexed entity, in index order
//	lexicon.bidx  → slot table: for every index number, where its record
//	                starts and which string it belongs to
//	lexicon.bhis  → provenance text (format tag, production flag, history)
//
// INDEX NUMBERS:
// --------------
// Every entity gets an index number from its kind's range:
//
//	categories  [0, Limits.Categories)
//	atoms       [Limits.Categories, +Limits.Atoms)
//	words       [Limits.Categories+Limits.Atoms, +Limits.Words)
//
// Within a range, numbers are handed out in string order by
// AssignIndexNumbers; entities created later are appended by
// AssignAdditionalIndexNumbers without disturbing existing numbers. The
// position inside a range is the entity's "slot", which is what records use
// to reference each other.
//
// .bidx LAYOUT:
// -------------
// Fixed 8192-byte blocks. Each block starts with
//
//	[gamma #categories][gamma #atoms][gamma #words][gamma first slot][gamma n]
//
// followed by n entries, one per consecutive slot:
//
//	[present: bit]  1 → [gamma byte offset][string]
//	                0 → slot has no record on disk
//
// Slots are numbered across the three ranges in order (all categories, then
// all atoms, then all words).
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// IndexBlockSize is the size of one .bidx block.
	IndexBlockSize = 8192

	// FormatTag identifies the binary layout in .bhis stamps.
	FormatTag = "morph-blex/1"

	indexHeaderReserve = 64
)

// LoadMode selects how much of each word record Load decodes.
type LoadMode int

const (
	// LoadUnpackAll decodes every word entry.
	LoadUnpackAll LoadMode = iota
	// LoadUnpackCore decodes core words and keeps the rest packed.
	LoadUnpackCore
	// LoadKeepPacked keeps every word entry as packed bits until first use.
	LoadKeepPacked
)

func (m LoadMode) String() string {
	switch m {
	case LoadUnpackCore:
		return "unpack-core"
	case LoadKeepPacked:
		return "keep-packed"
	default:
		return "unpack-all"
	}
}

// ParseLoadMode accepts the String forms of LoadMode.
func ParseLoadMode(s string) (LoadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unpack-all", "all":
		return LoadUnpackAll, nil
	case "unpack-core", "core":
		return LoadUnpackCore, nil
	case "keep-packed", "packed":
		return LoadKeepPacked, nil
	}
	return LoadUnpackAll, fmt.Errorf("unknown load mode %q", s)
}

// History is the provenance stamp written next to a dump.
type History struct {
	Format     string
	Date       time.Time
	Production bool
	Text       string
}

// SetHistory replaces the stamp written by the next Dump.
func (lex *Lexicon) SetHistory(h History) {
	lex.mu.Lock()
	lex.history = h
	lex.mu.Unlock()
}

// History returns the current provenance stamp.
func (lex *Lexicon) History() History {
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	return lex.history
}

func writeHistory(w io.Writer, h History) error {
	_, err := fmt.Fprintf(w, "format: %s %s\nproduction: %t\nhistory:\n%s\n",
		h.Format, h.Date.UTC().Format(time.DateOnly), h.Production, strings.TrimRight(h.Text, "\n"))
	return err
}

// ReadHistory parses a .bhis file.
func ReadHistory(path string) (History, error) {
	f, err := os.Open(path)
	if err != nil {
		return History{}, err
	}
	defer f.Close()

	var h History
	var text []string
	inHistory := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if inHistory {
			text = append(text, line)
			continue
		}
		key, val, _ := strings.Cut(line, ":")
		val = strings.TrimSpace(val)
		switch key {
		case "format":
			tag, date, _ := strings.Cut(val, " ")
			h.Format = tag
			if d, err := time.Parse(time.DateOnly, date); err == nil {
				h.Date = d
			}
		case "production":
			h.Production, _ = strconv.ParseBool(val)
		case "history":
			inHistory = true
		}
	}
	if err := sc.Err(); err != nil {
		return History{}, err
	}
	h.Text = strings.Join(text, "\n")
	return h, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX NUMBERS
// ═══════════════════════════════════════════════════════════════════════════════

func (lex *Lexicon) indexBase(r indexRange) int {
	switch r {
	case rangeAtom:
		return lex.limits.Categories
	case rangeWord:
		return lex.limits.Categories + lex.limits.Atoms
	}
	return 0
}

func (lex *Lexicon) rangeLimit(r indexRange) int {
	switch r {
	case rangeAtom:
		return lex.limits.Atoms
	case rangeWord:
		return lex.limits.Words
	}
	return lex.limits.Categories
}

// splitIndex maps a global index number to its range and slot.
func (lex *Lexicon) splitIndex(index int) (indexRange, int, bool) {
	for r := rangeWord; r >= rangeCategory; r-- {
		if base := lex.indexBase(r); index >= base {
			slot := index - base
			return r, slot, slot < lex.rangeLimit(r)
		}
	}
	return 0, 0, false
}

func (lex *Lexicon) slotCountsLocked() [numRanges]int {
	return [numRanges]int{len(lex.slots.cats), len(lex.slots.atoms), len(lex.slots.words)}
}

// IndexedValue returns the entity holding a global index number.
func (lex *Lexicon) IndexedValue(index int) Value {
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	r, slot, ok := lex.splitIndex(index)
	if !ok || slot >= lex.slotCountsLocked()[r] {
		return Nil
	}
	switch r {
	case rangeCategory:
		return CategoryValue(lex.slots.cats[slot])
	case rangeAtom:
		return AtomValue(lex.slots.atoms[slot])
	}
	return WordValue(lex.slots.words[slot])
}

// AssignIndexNumbers numbers every category, atom and word in string order.
// It is a no-op when every entity is already numbered. A full renumbering
// first unpacks packed and purged words, since their encoded records refer to
// the old numbers.
func (lex *Lexicon) AssignIndexNumbers() error {
	if !lex.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer lex.busy.Store(false)
	return lex.assignIndexNumbers()
}

func (lex *Lexicon) assignIndexNumbers() error {
	lex.mu.RLock()
	current := lex.fullyIndexedLocked()
	lex.mu.RUnlock()
	if current {
		return nil
	}
	if err := lex.unpackAll(); err != nil {
		return err
	}

	lex.mu.Lock()
	defer lex.mu.Unlock()
	cats := append([]*Category(nil), lex.cats[1:]...)
	atoms := append([]*Atom(nil), lex.atoms[1:]...)
	words := append([]*Word(nil), lex.words[1:]...)
	if err := lex.checkLimitsLocked([numRanges]int{len(cats), len(atoms), len(words)}); err != nil {
		return err
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].name < cats[j].name })
	sort.Slice(atoms, func(i, j int) bool { return atoms[i].name < atoms[j].name })
	sort.Slice(words, func(i, j int) bool { return words[i].text < words[j].text })

	var t slotTable
	t.cats = make([]CatID, len(cats))
	for i, c := range cats {
		c.index.Store(int32(lex.indexBase(rangeCategory) + i))
		t.cats[i] = c.id
	}
	t.atoms = make([]AtomID, len(atoms))
	for i, a := range atoms {
		a.index.Store(int32(lex.indexBase(rangeAtom) + i))
		t.atoms[i] = a.id
	}
	t.words = make([]WordID, len(words))
	for i, w := range words {
		w.index.Store(int32(lex.indexBase(rangeWord) + i))
		t.words[i] = w.id
	}
	lex.slots = t
	for r := range lex.offsets {
		lex.offsets[r] = filledOffsets(lex.slotCountsLocked()[r])
	}
	// Old offsets are meaningless under the new numbering.
	if lex.pager != nil {
		lex.pager.Close()
		lex.pager = nil
	}
	lex.logger.Info("assigned index numbers",
		slog.Int("categories", len(cats)), slog.Int("atoms", len(atoms)), slog.Int("words", len(words)))
	return nil
}

func (lex *Lexicon) fullyIndexedLocked() bool {
	n := lex.slotCountsLocked()
	return n[rangeCategory] == len(lex.cats)-1 &&
		n[rangeAtom] == len(lex.atoms)-1 &&
		n[rangeWord] == len(lex.words)-1
}

func (lex *Lexicon) checkLimitsLocked(counts [numRanges]int) error {
	for r := rangeCategory; r < numRanges; r++ {
		if counts[r] > lex.rangeLimit(r) {
			lex.logger.Warn("index number budget exceeded",
				slog.String("range", r.String()), slog.Int("count", counts[r]), slog.Int("limit", lex.rangeLimit(r)))
			return fmt.Errorf("%w: %d %ss, limit %d", ErrIndexOverflow, counts[r], r, lex.rangeLimit(r))
		}
	}
	return nil
}

func filledOffsets(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = -1
	}
	return out
}

// AssignAdditionalIndexNumbers numbers entities created since the last
// assignment, appending them to their ranges. It returns how many were added.
func (lex *Lexicon) AssignAdditionalIndexNumbers() (int, error) {
	lex.mu.Lock()
	defer lex.mu.Unlock()
	return lex.assignAdditionalLocked()
}

func (lex *Lexicon) assignAdditionalLocked() (int, error) {
	var newCats []*Category
	for _, c := range lex.cats[1:] {
		if c.Index() < 0 {
			newCats = append(newCats, c)
		}
	}
	var newAtoms []*Atom
	for _, a := range lex.atoms[1:] {
		if a.Index() < 0 {
			newAtoms = append(newAtoms, a)
		}
	}
	var newWords []*Word
	for _, w := range lex.words[1:] {
		if w.Index() < 0 {
			newWords = append(newWords, w)
		}
	}
	n := lex.slotCountsLocked()
	if err := lex.checkLimitsLocked([numRanges]int{
		n[rangeCategory] + len(newCats),
		n[rangeAtom] + len(newAtoms),
		n[rangeWord] + len(newWords),
	}); err != nil {
		return 0, err
	}
	sort.Slice(newCats, func(i, j int) bool { return newCats[i].name < newCats[j].name })
	sort.Slice(newAtoms, func(i, j int) bool { return newAtoms[i].name < newAtoms[j].name })
	sort.Slice(newWords, func(i, j int) bool { return newWords[i].text < newWords[j].text })

	for _, c := range newCats {
		c.index.Store(int32(lex.indexBase(rangeCategory) + len(lex.slots.cats)))
		lex.slots.cats = append(lex.slots.cats, c.id)
		lex.offsets[rangeCategory] = append(lex.offsets[rangeCategory], -1)
	}
	for _, a := range newAtoms {
		a.index.Store(int32(lex.indexBase(rangeAtom) + len(lex.slots.atoms)))
		lex.slots.atoms = append(lex.slots.atoms, a.id)
		lex.offsets[rangeAtom] = append(lex.offsets[rangeAtom], -1)
	}
	for _, w := range newWords {
		w.index.Store(int32(lex.indexBase(rangeWord) + len(lex.slots.words)))
		lex.slots.words = append(lex.slots.words, w.id)
		lex.offsets[rangeWord] = append(lex.offsets[rangeWord], -1)
	}
	return len(newCats) + len(newAtoms) + len(newWords), nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// DUMP
// ═══════════════════════════════════════════════════════════════════════════════

// Dump writes base.blex, base.bidx and base.bhis and returns the number of
// records written, or -1 on failure. Files are written to temporaries and
// renamed into place, so a failed dump leaves both the old files and the
// in-memory lexicon as they were. On success the new .blex becomes the
// lexicon's pager.
func (lex *Lexicon) Dump(base string) (int, error) {
	if !lex.busy.CompareAndSwap(false, true) {
		return -1, ErrBusy
	}
	defer lex.busy.Store(false)

	lex.mu.Lock()
	defer lex.mu.Unlock()
	if _, err := lex.assignAdditionalLocked(); err != nil {
		return -1, err
	}

	blex, err := newTempFile(base + ".blex")
	if err != nil {
		return -1, err
	}
	defer blex.discard()
	offsets, count, err := lex.writeRecordsLocked(blex.w)
	if err != nil {
		return -1, fmt.Errorf("write %s.blex: %w", base, err)
	}

	bidx, err := newTempFile(base + ".bidx")
	if err != nil {
		return -1, err
	}
	defer bidx.discard()
	if err := writeIndex(bidx.w, lex.slotNamesLocked(), offsets); err != nil {
		return -1, fmt.Errorf("write %s.bidx: %w", base, err)
	}

	bhis, err := newTempFile(base + ".bhis")
	if err != nil {
		return -1, err
	}
	defer bhis.discard()
	h := lex.history
	if h.Format == "" {
		h.Format = FormatTag
	}
	if h.Date.IsZero() {
		h.Date = time.Now()
	}
	if err := writeHistory(bhis.w, h); err != nil {
		return -1, fmt.Errorf("write %s.bhis: %w", base, err)
	}

	for _, tf := range []*tempFile{blex, bidx, bhis} {
		if err := tf.commit(); err != nil {
			return -1, err
		}
	}

	pager, err := OpenPager(base + ".blex")
	if err != nil {
		// The old mapping still backs the old offsets.
		return -1, err
	}
	if lex.pager != nil {
		lex.pager.Close()
	}
	lex.pager = pager
	lex.offsets = offsets
	lex.history = h
	for _, id := range lex.slots.words {
		w := lex.words[id]
		w.mu.Lock()
		w.dirty = false
		w.mu.Unlock()
	}
	lex.logger.Info("dumped lexicon", slog.String("base", base), slog.Int("records", count))
	return count, nil
}

// writeRecordsLocked encodes every slot in order and returns the records'
// offsets. Packed and purged words are copied through without decoding.
func (lex *Lexicon) writeRecordsLocked(out io.Writer) ([numRanges][]int64, int, error) {
	var offsets [numRanges][]int64
	enc := rawEncoder{lex: lex}
	var pos int64
	count := 0
	emit := func(r indexRange, b []byte) error {
		offsets[r] = append(offsets[r], pos)
		n, err := out.Write(b)
		pos += int64(n)
		count++
		return err
	}
	encode := func(rec *rawRecord) []byte {
		w := newBitWriter(64)
		encodeRecord(w, rec)
		return w.Bytes()
	}

	for _, id := range lex.slots.cats {
		if err := emit(rangeCategory, encode(enc.category(lex.cats[id]))); err != nil {
			return offsets, count, err
		}
	}
	for _, id := range lex.slots.atoms {
		if err := emit(rangeAtom, encode(enc.atom(lex.atoms[id]))); err != nil {
			return offsets, count, err
		}
	}
	for slot, id := range lex.slots.words {
		w := lex.words[id]
		w.mu.RLock()
		entry, packed, purged, core := w.entry, w.packed, w.purged, w.core
		w.mu.RUnlock()

		var b []byte
		switch {
		case entry != nil:
			b = encode(enc.word(w.text, core, entry))
		case packed != nil:
			b = packed
		case purged:
			if lex.pager == nil || lex.offsets[rangeWord][slot] < 0 {
				return offsets, count, fmt.Errorf("%w: purged word %q", ErrNoPager, w.text)
			}
			_, raw, err := lex.pager.readRecord(lex.offsets[rangeWord][slot])
			if err != nil {
				return offsets, count, err
			}
			b = raw
		default:
			b = encode(enc.word(w.text, core, nil))
		}
		if err := emit(rangeWord, b); err != nil {
			return offsets, count, err
		}
	}
	return offsets, count, nil
}

// slotNamesLocked lists every slot's string, ranges in order.
func (lex *Lexicon) slotNamesLocked() [numRanges][]string {
	var names [numRanges][]string
	for _, id := range lex.slots.cats {
		names[rangeCategory] = append(names[rangeCategory], lex.cats[id].name)
	}
	for _, id := range lex.slots.atoms {
		names[rangeAtom] = append(names[rangeAtom], lex.atoms[id].name)
	}
	for _, id := range lex.slots.words {
		names[rangeWord] = append(names[rangeWord], lex.words[id].text)
	}
	return names
}

// DumpIndex writes the current slot table in .bidx format.
func (lex *Lexicon) DumpIndex(w io.Writer) error {
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	return writeIndex(w, lex.slotNamesLocked(), lex.offsets)
}

func gammaBits(n uint64) int { return 2*bits.Len64(n+1) - 1 }

func writeIndex(out io.Writer, names [numRanges][]string, offsets [numRanges][]int64) error {
	var counts [numRanges]int
	total := 0
	for r := range names {
		counts[r] = len(names[r])
		total += counts[r]
	}
	slotAt := func(s int) (string, int64) {
		for r := range names {
			if s < len(names[r]) {
				off := int64(-1)
				if s < len(offsets[r]) {
					off = offsets[r][s]
				}
				return names[r][s], off
			}
			s -= len(names[r])
		}
		return "", -1
	}
	entryBits := func(s int) int {
		name, off := slotAt(s)
		if off < 0 {
			return 1
		}
		return 1 + gammaBits(uint64(off)) + gammaBits(uint64(len(name))) + 8*len(name)
	}

	budget := (IndexBlockSize - indexHeaderReserve) * 8
	block := make([]byte, IndexBlockSize)
	for first := 0; first < total || (first == 0 && total == 0); {
		used, n := 0, 0
		for first+n < total {
			b := entryBits(first + n)
			if used+b > budget {
				break
			}
			used += b
			n++
		}
		if n == 0 && total > 0 {
			name, _ := slotAt(first)
			return fmt.Errorf("index entry %q does not fit a %d-byte block", name, IndexBlockSize)
		}

		w := newBitWriter(IndexBlockSize)
		for _, c := range counts {
			w.writeInt(c)
		}
		w.writeInt(first)
		w.writeInt(n)
		for s := first; s < first+n; s++ {
			name, off := slotAt(s)
			w.writeBit(off >= 0)
			if off >= 0 {
				w.writeGamma(uint64(off))
				w.writeString(name)
			}
		}
		clear(block)
		copy(block, w.Bytes())
		if _, err := out.Write(block); err != nil {
			return err
		}
		if total == 0 {
			break
		}
		first += n
	}
	return nil
}

// indexFile is a parsed .bidx.
type indexFile struct {
	counts  [numRanges]int
	present *bitset.BitSet
	offsets []int64
	names   []string
}

func (f *indexFile) total() int { return f.counts[0] + f.counts[1] + f.counts[2] }

// rangeOf maps a slot number of the file to its range and in-range slot.
func (f *indexFile) rangeOf(s int) (indexRange, int) {
	for r := rangeCategory; r < numRanges; r++ {
		if s < f.counts[r] {
			return r, s
		}
		s -= f.counts[r]
	}
	return rangeWord, s
}

func readIndex(in io.Reader) (*indexFile, error) {
	block := make([]byte, IndexBlockSize)
	var f *indexFile
	next := 0
	for {
		if _, err := io.ReadFull(in, block); err != nil {
			if errors.Is(err, io.EOF) && f != nil {
				break
			}
			return nil, fmt.Errorf("read index block: %w", err)
		}
		r := newBitReader(block)
		var counts [numRanges]int
		for i := range counts {
			c, err := r.readInt()
			if err != nil {
				return nil, err
			}
			counts[i] = c
		}
		first, err := r.readInt()
		if err != nil {
			return nil, err
		}
		n, err := r.readInt()
		if err != nil {
			return nil, err
		}
		if f == nil {
			f = &indexFile{counts: counts}
			total := f.total()
			f.present = bitset.New(uint(total))
			f.offsets = make([]int64, total)
			f.names = make([]string, total)
		}
		if counts != f.counts || first != next || first+n > f.total() {
			return nil, fmt.Errorf("%w: inconsistent index block at slot %d", ErrCorruptRecord, first)
		}
		for s := first; s < first+n; s++ {
			present, err := r.readBit()
			if err != nil {
				return nil, err
			}
			f.offsets[s] = -1
			if !present {
				continue
			}
			off, err := r.readGamma()
			if err != nil {
				return nil, err
			}
			name, err := r.readString()
			if err != nil {
				return nil, err
			}
			f.present.Set(uint(s))
			f.offsets[s] = int64(off)
			f.names[s] = name
		}
		next = first + n
		if next >= f.total() {
			break
		}
	}
	if next < f.total() {
		return nil, fmt.Errorf("%w: index covers %d of %d slots", ErrCorruptRecord, next, f.total())
	}
	return f, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOAD / RELOAD
// ═══════════════════════════════════════════════════════════════════════════════

// Load reads base.bidx and base.blex into the lexicon and returns the number
// of records decoded, or -1 on failure. Category and atom records are always
// decoded; word records with an index number at or above upTo (when upTo > 0)
// are left on disk and the words become purged stubs that page in on demand.
//
// Every record is decoded and validated before the lexicon is touched, so a
// failed Load leaves the lexicon unchanged. On success base.blex stays mapped
// as the lexicon's pager.
func (lex *Lexicon) Load(base string, upTo int, mode LoadMode) (int, error) {
	if !lex.busy.CompareAndSwap(false, true) {
		return -1, ErrBusy
	}
	defer lex.busy.Store(false)

	// Encoded records in memory use the current numbering, which Load replaces.
	if err := lex.unpackAll(); err != nil {
		return -1, err
	}

	idxFile, err := os.Open(base + ".bidx")
	if err != nil {
		return -1, err
	}
	idx, err := readIndex(bufio.NewReader(idxFile))
	idxFile.Close()
	if err != nil {
		return -1, fmt.Errorf("load %s.bidx: %w", base, err)
	}
	if err := lex.checkLimitsLocked(idx.counts); err != nil {
		return -1, err
	}

	pager, err := OpenPager(base + ".blex")
	if err != nil {
		return -1, err
	}

	// Phase one: decode and validate, touching nothing.
	recs := make([]*rawRecord, idx.total())
	raws := make([][]byte, idx.total())
	count := 0
	for s, ok := idx.present.NextSet(0); ok; s, ok = idx.present.NextSet(s + 1) {
		r, local := idx.rangeOf(int(s))
		if r == rangeWord && upTo > 0 && lex.indexBase(rangeWord)+local >= upTo {
			continue
		}
		rec, raw, err := pager.readRecord(idx.offsets[s])
		if err == nil {
			err = validateRecord(rec, r, idx.names[s], idx.counts)
		}
		if err != nil {
			pager.Close()
			return -1, fmt.Errorf("load %s.blex slot %d: %w", base, s, err)
		}
		recs[s], raws[s] = rec, raw
		count++
	}
	history, herr := ReadHistory(base + ".bhis")
	if herr != nil && !errors.Is(herr, os.ErrNotExist) {
		lex.logger.Warn("unreadable history stamp", slog.String("base", base), slog.Any("err", herr))
	}

	// Phase two: apply.
	lex.mu.Lock()
	t := lex.installSlotsLocked(idx)
	coreWords := bitset.New(uint(idx.counts[rangeWord]))
	for s := range recs {
		rec := recs[s]
		r, local := idx.rangeOf(s)
		switch r {
		case rangeCategory:
			if rec != nil {
				lex.applyCategoryLocked(lex.cats[t.cats[local]], rec, &t)
			}
		case rangeAtom:
			if rec != nil {
				applyAtom(lex.atoms[t.atoms[local]], rec, &t)
			}
		case rangeWord:
			w := lex.words[t.words[local]]
			if rec == nil {
				if idx.present.Test(uint(s)) {
					w.mu.Lock()
					w.entry, w.packed, w.purged, w.dirty = nil, nil, true, false
					w.mu.Unlock()
				}
				continue
			}
			if rec.core {
				coreWords.Set(uint(local))
			}
			unpack := mode == LoadUnpackAll || (mode == LoadUnpackCore && rec.core)
			lex.applyWordRecord(w, rec, raws[s], unpack, &t)
		}
	}
	lex.offsets = [numRanges][]int64{}
	for s := 0; s < idx.total(); s++ {
		r, _ := idx.rangeOf(s)
		lex.offsets[r] = append(lex.offsets[r], idx.offsets[s])
	}
	if lex.pager != nil {
		lex.pager.Close()
	}
	lex.pager = pager
	lex.loadMode = mode
	if herr == nil {
		lex.history = history
	}
	lex.bitsValid = false
	lex.mu.Unlock()

	lex.ComputeSubsumptionBits()
	lex.logger.Info("loaded lexicon",
		slog.String("base", base),
		slog.Int("records", count),
		slog.String("mode", mode.String()),
		slog.Uint64("core", uint64(coreWords.Count())))
	return count, nil
}

// installSlotsLocked interns every slot's string and renumbers the lexicon to
// the file's numbering. Entities absent from the file lose their numbers.
func (lex *Lexicon) installSlotsLocked(idx *indexFile) slotTable {
	for _, c := range lex.cats[1:] {
		c.index.Store(-1)
	}
	for _, a := range lex.atoms[1:] {
		a.index.Store(-1)
	}
	for _, w := range lex.words[1:] {
		w.index.Store(-1)
	}
	var t slotTable
	for s := 0; s < idx.total(); s++ {
		r, local := idx.rangeOf(s)
		name := idx.names[s]
		global := int32(lex.indexBase(r) + local)
		switch r {
		case rangeCategory:
			c := lex.internCategoryLocked(splitCategorySpec(name), name)
			c.index.Store(global)
			t.cats = append(t.cats, c.id)
		case rangeAtom:
			a := lex.internAtomLocked(name)
			a.index.Store(global)
			t.atoms = append(t.atoms, a.id)
		case rangeWord:
			w := lex.internWordLocked(name)
			w.index.Store(global)
			t.words = append(t.words, w.id)
		}
	}
	lex.slots = t
	return t
}

func (lex *Lexicon) applyCategoryLocked(c *Category, rec *rawRecord, t *slotTable) {
	subs, _ := t.catList(rec.subcats)
	for _, id := range subs {
		if id != c.id && !containsCat(c.subcats, id) {
			c.subcats = append(c.subcats, id)
		}
	}
	if rec.root {
		c.root = true
		lex.rootCat = c.id
	}
}

func applyAtom(a *Atom, rec *rawRecord, t *slotTable) {
	props, _ := t.props(rec.props)
	a.mu.Lock()
	if rec.hasNum {
		a.num, a.hasNum = rec.num, true
	}
	for k, v := range props {
		if a.props == nil {
			a.props = make(map[AtomID]Value)
		}
		a.props[k] = v
	}
	a.mu.Unlock()
}

// applyWordRecord installs a validated word record, decoded or packed.
func (lex *Lexicon) applyWordRecord(w *Word, rec *rawRecord, raw []byte, unpack bool, t *slotTable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.core = rec.core
	w.purged, w.dirty = false, false
	if rec.entry == nil {
		w.entry, w.packed = nil, nil
		return
	}
	if unpack {
		e, err := t.entry(rec.entry)
		if err == nil {
			w.entry, w.packed = e, nil
			w.status.Store(int32(Resolved))
			return
		}
		lex.logger.Warn("keeping word packed", slog.String("word", w.text), slog.Any("err", err))
	}
	w.entry, w.packed = nil, raw
	w.status.Store(int32(Resolved))
}

// Reload re-reads the record of one index number from the attached .blex
// and returns the entity. A word record is installed according to the mode of
// the last Load; categories and atoms are merged.
func (lex *Lexicon) Reload(index int) (Value, error) {
	return lex.reload(index, false)
}

func (lex *Lexicon) reload(index int, forceUnpack bool) (Value, error) {
	lex.mu.RLock()
	r, slot, ok := lex.splitIndex(index)
	counts := lex.slotCountsLocked()
	if !ok || slot >= counts[r] {
		lex.mu.RUnlock()
		return Nil, fmt.Errorf("index %d not assigned", index)
	}
	pager, offset, mode := lex.pager, lex.offsets[r][slot], lex.loadMode
	t := lex.slots
	lex.mu.RUnlock()

	if pager == nil {
		return Nil, ErrNoPager
	}
	if offset < 0 {
		return Nil, fmt.Errorf("%w: index %d has no record on disk", ErrNoPager, index)
	}
	rec, raw, err := pager.readRecord(offset)
	if err != nil {
		return Nil, err
	}
	var name string
	switch r {
	case rangeCategory:
		name = lex.Category(t.cats[slot]).name
	case rangeAtom:
		name = lex.Atom(t.atoms[slot]).name
	default:
		name = lex.Word(t.words[slot]).text
	}
	if err := validateRecord(rec, r, name, counts); err != nil {
		return Nil, err
	}

	switch r {
	case rangeCategory:
		lex.mu.Lock()
		c := lex.cats[t.cats[slot]]
		lex.applyCategoryLocked(c, rec, &t)
		lex.bitsValid = false
		lex.mu.Unlock()
		return c.Value(), nil
	case rangeAtom:
		a := lex.Atom(t.atoms[slot])
		applyAtom(a, rec, &t)
		return a.Value(), nil
	}
	w := lex.Word(t.words[slot])
	unpack := forceUnpack || mode == LoadUnpackAll || (mode == LoadUnpackCore && rec.core)
	lex.applyWordRecord(w, rec, raw, unpack, &t)
	return w.Value(), nil
}

// validateRecord checks a decoded record against the slot it was read for.
func validateRecord(rec *rawRecord, r indexRange, name string, counts [numRanges]int) error {
	if rec.kind != recordKinds[r] {
		return fmt.Errorf("%w: %s record in %s slot", ErrCorruptRecord, rec.kind, r)
	}
	if rec.name != name {
		return fmt.Errorf("%w: record %q in slot of %q", ErrCorruptRecord, rec.name, name)
	}
	inRange := func(rr indexRange, slots ...uint32) error {
		for _, s := range slots {
			if int(s) >= counts[rr] {
				return fmt.Errorf("%w: %s slot %d of %d", ErrCorruptRecord, rr, s, counts[rr])
			}
		}
		return nil
	}
	opt := func(ref uint32) error {
		if ref == 0 {
			return nil
		}
		return inRange(rangeWord, ref-1)
	}
	var checkValue func(v rawValue) error
	checkValue = func(v rawValue) error {
		switch v.kind {
		case KindAtom:
			return inRange(rangeAtom, v.slot)
		case KindWord:
			return inRange(rangeWord, v.slot)
		case KindCategory:
			return inRange(rangeCategory, v.slot)
		case KindList:
			for _, e := range v.list {
				if err := checkValue(e); err != nil {
					return err
				}
			}
		}
		return nil
	}
	checkProps := func(props []rawProp) error {
		for _, p := range props {
			if err := inRange(rangeAtom, p.key); err != nil {
				return err
			}
			if err := checkValue(p.val); err != nil {
				return err
			}
		}
		return nil
	}

	switch rec.kind {
	case KindCategory:
		if err := inRange(rangeCategory, rec.components...); err != nil {
			return err
		}
		return inRange(rangeCategory, rec.subcats...)
	case KindAtom:
		return checkProps(rec.props)
	}
	e := rec.entry
	if e == nil {
		return nil
	}
	for _, level := range e.cats {
		if err := inRange(rangeCategory, level...); err != nil {
			return err
		}
	}
	for _, s := range e.senses {
		if err := inRange(rangeCategory, s.cat); err != nil {
			return err
		}
		if err := inRange(rangeWord, s.roots...); err != nil {
			return err
		}
		if err := inRange(rangeAtom, s.features...); err != nil {
			return err
		}
		if err := opt(s.prefix); err != nil {
			return err
		}
		if err := opt(s.suffix); err != nil {
			return err
		}
	}
	if err := inRange(rangeAtom, append(append([]uint32(nil), e.features...), e.capcodes...)...); err != nil {
		return err
	}
	for _, arr := range [][]uint32{
		e.roots, e.prefixes, e.suffixes, e.iko, e.iio,
		e.variantOf, e.nicknameOf, e.misspellingOf, e.abbrevOf, e.subsenses,
	} {
		if err := inRange(rangeWord, arr...); err != nil {
			return err
		}
	}
	if err := opt(e.senseOf); err != nil {
		return err
	}
	return checkProps(e.props)
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENTRY ACCESS, SHRINK AND CRUSH
// ═══════════════════════════════════════════════════════════════════════════════

// EntryOf returns the word's entry, decoding packed bits or paging a purged
// entry in from the attached .blex as needed. Stubs return (nil, nil).
func (lex *Lexicon) EntryOf(w *Word) (*WordEntry, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.RLock()
	e, packed, purged := w.entry, w.packed, w.purged
	w.mu.RUnlock()
	switch {
	case e != nil:
		return e, nil
	case packed != nil:
		return lex.unpackWord(w, packed)
	case purged:
		if _, err := lex.reload(w.Index(), true); err != nil {
			return nil, fmt.Errorf("page in %q: %w", w.text, err)
		}
		return w.residentEntry(), nil
	}
	return nil, nil
}

// Entry is EntryOf with failures logged rather than returned.
func (lex *Lexicon) Entry(w *Word) *WordEntry {
	e, err := lex.EntryOf(w)
	if err != nil {
		lex.logger.Warn("entry unavailable", slog.String("word", w.text), slog.Any("err", err))
	}
	return e
}

func (lex *Lexicon) unpackWord(w *Word, packed []byte) (*WordEntry, error) {
	lex.mu.RLock()
	t := lex.slots
	lex.mu.RUnlock()

	rec, err := decodeRecord(newBitReader(packed))
	if err != nil {
		return nil, fmt.Errorf("unpack %q: %w", w.text, err)
	}
	var e *WordEntry
	if rec.entry != nil {
		if e, err = t.entry(rec.entry); err != nil {
			return nil, fmt.Errorf("unpack %q: %w", w.text, err)
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entry != nil {
		return w.entry, nil
	}
	w.entry, w.packed = e, nil
	return e, nil
}

// unpackAll makes every packed or purged entry resident.
func (lex *Lexicon) unpackAll() error {
	for _, w := range lex.snapshotWords() {
		w.mu.RLock()
		encoded := w.entry == nil && (w.packed != nil || w.purged)
		w.mu.RUnlock()
		if !encoded {
			continue
		}
		if _, err := lex.EntryOf(w); err != nil {
			return err
		}
	}
	return nil
}

func (lex *Lexicon) snapshotWords() []*Word {
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	return append([]*Word(nil), lex.words[1:]...)
}

// ShrinkLex purges the entries of non-core words whose current entry is on
// disk, keeping only their index stubs. It returns the number purged. A
// second call while maintenance is running fails with ErrBusy.
func (lex *Lexicon) ShrinkLex() (int, error) {
	if !lex.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer lex.busy.Store(false)

	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if lex.pager == nil {
		return 0, ErrNoPager
	}
	n := 0
	for slot, id := range lex.slots.words {
		if lex.offsets[rangeWord][slot] < 0 {
			continue
		}
		w := lex.words[id]
		w.mu.Lock()
		if !w.core && !w.dirty && !w.purged && (w.entry != nil || w.packed != nil) {
			w.entry, w.packed, w.purged = nil, nil, true
			n++
		}
		w.mu.Unlock()
	}
	lex.logger.Info("shrank lexicon", slog.Int("purged", n))
	return n, nil
}

// CrushLex re-encodes the entries of non-core words into packed bits and
// drops the decoded structures. It returns the number crushed.
func (lex *Lexicon) CrushLex() (int, error) {
	if !lex.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer lex.busy.Store(false)

	lex.mu.Lock()
	defer lex.mu.Unlock()
	if _, err := lex.assignAdditionalLocked(); err != nil {
		return 0, err
	}
	enc := rawEncoder{lex: lex}
	n := 0
	for _, id := range lex.slots.words {
		w := lex.words[id]
		w.mu.Lock()
		if !w.core && w.entry != nil {
			bw := newBitWriter(64)
			encodeRecord(bw, enc.word(w.text, w.core, w.entry))
			w.entry, w.packed = nil, bw.Bytes()
			n++
		}
		w.mu.Unlock()
	}
	lex.logger.Info("crushed lexicon", slog.Int("packed", n))
	return n, nil
}

// Close releases the attached pager.
func (lex *Lexicon) Close() error {
	lex.mu.Lock()
	defer lex.mu.Unlock()
	if lex.pager == nil {
		return nil
	}
	err := lex.pager.Close()
	lex.pager = nil
	return err
}

// ═══════════════════════════════════════════════════════════════════════════════
// TEMP FILES
// ═══════════════════════════════════════════════════════════════════════════════

type tempFile struct {
	path string
	f    *os.File
	w    *bufio.Writer
	done bool
}

func newTempFile(path string) (*tempFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, err
	}
	return &tempFile{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (t *tempFile) commit() error {
	if err := t.w.Flush(); err != nil {
		return err
	}
	if err := t.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(t.f.Name(), t.path); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (t *tempFile) discard() {
	if t.done {
		return
	}
	t.f.Close()
	os.Remove(t.f.Name())
}
