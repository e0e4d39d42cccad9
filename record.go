package morph

import (
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECORDS: one entity per record
// ═══════════════════════════════════════════════════════════════════════════════
// Every indexed entity is written as one byte-aligned record:
//
//	[kind: 2 bits][name: string]
//	category → [components: array][subcats: array][root: bit]
//	atom     → [hasNum: bit][num: float64]? [props]
//	word     → [core: bit][hasEntry: bit][entry]?
//
// References never store handles. They store the referenced entity's position
// inside its own index range (category #3, atom #17, word #912); the field
// says which range. Values inside property maps carry their kind explicitly:
//
//	[kind: 3 bits] atom|word|category → [slot: gamma]
//	               number             → [float64]
//	               list               → [gamma count][values...]
//
// Decoding is two-step. decodeRecord turns bits into a rawRecord that still
// holds slot numbers; materialize resolves the slots to live handles. Only
// the second step touches the lexicon, which is what lets Load decode a whole
// file before changing anything.
// ═══════════════════════════════════════════════════════════════════════════════

// indexRange identifies one of the three index-number ranges.
type indexRange int

const (
	rangeCategory indexRange = iota
	rangeAtom
	rangeWord
	numRanges
)

func (r indexRange) String() string {
	switch r {
	case rangeCategory:
		return "category"
	case rangeAtom:
		return "atom"
	default:
		return "word"
	}
}

type rawValue struct {
	kind Kind
	slot uint32
	num  float64
	list []rawValue
}

type rawProp struct {
	key uint32
	val rawValue
}

type rawSense struct {
	cat      uint32
	roots    []uint32
	prefix   uint32 // slot+1, 0 for none
	suffix   uint32
	features []uint32
	penalty  int
	name     string
}

type rawEntry struct {
	cats     [NumPenalties][]uint32
	senses   []rawSense
	features []uint32
	capcodes []uint32

	roots, prefixes, suffixes []uint32
	iko, iio                  []uint32
	variantOf, nicknameOf     []uint32
	misspellingOf, abbrevOf   []uint32
	subsenses                 []uint32
	senseOf                   uint32 // slot+1, 0 for none

	hasNum  bool
	num     float64
	guessed bool
	props   []rawProp
}

type rawRecord struct {
	kind Kind
	name string

	// categories
	components []uint32
	subcats    []uint32
	root       bool

	// atoms
	hasNum bool
	num    float64
	props  []rawProp

	// words
	core  bool
	entry *rawEntry
}

var recordKinds = [...]Kind{KindCategory, KindAtom, KindWord}

func kindCode(k Kind) uint64 {
	switch k {
	case KindCategory:
		return 0
	case KindAtom:
		return 1
	default:
		return 2
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENCODING
// ═══════════════════════════════════════════════════════════════════════════════

func encodeRecord(w *bitWriter, rec *rawRecord) {
	w.writeBits(kindCode(rec.kind), 2)
	w.writeString(rec.name)
	switch rec.kind {
	case KindCategory:
		w.writeArray(rec.components)
		w.writeArray(rec.subcats)
		w.writeBit(rec.root)
	case KindAtom:
		w.writeBit(rec.hasNum)
		if rec.hasNum {
			w.writeFloat(rec.num)
		}
		encodeProps(w, rec.props)
	case KindWord:
		w.writeBit(rec.core)
		w.writeBit(rec.entry != nil)
		if rec.entry != nil {
			encodeEntry(w, rec.entry)
		}
	}
	w.align()
}

func encodeEntry(w *bitWriter, e *rawEntry) {
	for _, level := range e.cats {
		w.writeArray(level)
	}
	w.writeInt(len(e.senses))
	for _, s := range e.senses {
		w.writeGamma(uint64(s.cat))
		w.writeArray(s.roots)
		w.writeGamma(uint64(s.prefix))
		w.writeGamma(uint64(s.suffix))
		w.writeArray(s.features)
		w.writeInt(s.penalty)
		w.writeString(s.name)
	}
	w.writeArray(e.features)
	w.writeArray(e.capcodes)
	for _, arr := range [][]uint32{
		e.roots, e.prefixes, e.suffixes, e.iko, e.iio,
		e.variantOf, e.nicknameOf, e.misspellingOf, e.abbrevOf, e.subsenses,
	} {
		w.writeArray(arr)
	}
	w.writeGamma(uint64(e.senseOf))
	w.writeBit(e.hasNum)
	if e.hasNum {
		w.writeFloat(e.num)
	}
	w.writeBit(e.guessed)
	encodeProps(w, e.props)
}

func encodeProps(w *bitWriter, props []rawProp) {
	w.writeInt(len(props))
	for _, p := range props {
		w.writeGamma(uint64(p.key))
		encodeValue(w, p.val)
	}
}

func encodeValue(w *bitWriter, v rawValue) {
	w.writeBits(uint64(v.kind), 3)
	switch v.kind {
	case KindAtom, KindWord, KindCategory:
		w.writeGamma(uint64(v.slot))
	case KindNumber:
		w.writeFloat(v.num)
	case KindList:
		w.writeInt(len(v.list))
		for _, e := range v.list {
			encodeValue(w, e)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// DECODING
// ═══════════════════════════════════════════════════════════════════════════════

// decodeRecord reads one record starting at r's current (byte-aligned)
// position and leaves r aligned after it.
func decodeRecord(r *bitReader) (*rawRecord, error) {
	code, err := r.readBits(2)
	if err != nil {
		return nil, err
	}
	if code >= uint64(len(recordKinds)) {
		return nil, fmt.Errorf("%w: bad kind code %d", ErrCorruptRecord, code)
	}
	rec := &rawRecord{kind: recordKinds[code]}
	if rec.name, err = r.readString(); err != nil {
		return nil, err
	}
	switch rec.kind {
	case KindCategory:
		if rec.components, err = r.readArray(); err != nil {
			return nil, err
		}
		if rec.subcats, err = r.readArray(); err != nil {
			return nil, err
		}
		if rec.root, err = r.readBit(); err != nil {
			return nil, err
		}
	case KindAtom:
		if rec.hasNum, err = r.readBit(); err != nil {
			return nil, err
		}
		if rec.hasNum {
			if rec.num, err = r.readFloat(); err != nil {
				return nil, err
			}
		}
		if rec.props, err = decodeProps(r); err != nil {
			return nil, err
		}
	case KindWord:
		if rec.core, err = r.readBit(); err != nil {
			return nil, err
		}
		hasEntry, err := r.readBit()
		if err != nil {
			return nil, err
		}
		if hasEntry {
			if rec.entry, err = decodeEntry(r); err != nil {
				return nil, err
			}
		}
	}
	r.align()
	return rec, nil
}

func decodeEntry(r *bitReader) (*rawEntry, error) {
	e := &rawEntry{}
	var err error
	for i := range e.cats {
		if e.cats[i], err = r.readArray(); err != nil {
			return nil, err
		}
	}
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		var s rawSense
		var v uint64
		if v, err = r.readGamma(); err != nil {
			return nil, err
		}
		s.cat = uint32(v)
		if s.roots, err = r.readArray(); err != nil {
			return nil, err
		}
		if v, err = r.readGamma(); err != nil {
			return nil, err
		}
		s.prefix = uint32(v)
		if v, err = r.readGamma(); err != nil {
			return nil, err
		}
		s.suffix = uint32(v)
		if s.features, err = r.readArray(); err != nil {
			return nil, err
		}
		if s.penalty, err = r.readInt(); err != nil {
			return nil, err
		}
		if s.name, err = r.readString(); err != nil {
			return nil, err
		}
		e.senses = append(e.senses, s)
	}
	if e.features, err = r.readArray(); err != nil {
		return nil, err
	}
	if e.capcodes, err = r.readArray(); err != nil {
		return nil, err
	}
	for _, dst := range []*[]uint32{
		&e.roots, &e.prefixes, &e.suffixes, &e.iko, &e.iio,
		&e.variantOf, &e.nicknameOf, &e.misspellingOf, &e.abbrevOf, &e.subsenses,
	} {
		if *dst, err = r.readArray(); err != nil {
			return nil, err
		}
	}
	v, err := r.readGamma()
	if err != nil {
		return nil, err
	}
	e.senseOf = uint32(v)
	if e.hasNum, err = r.readBit(); err != nil {
		return nil, err
	}
	if e.hasNum {
		if e.num, err = r.readFloat(); err != nil {
			return nil, err
		}
	}
	if e.guessed, err = r.readBit(); err != nil {
		return nil, err
	}
	if e.props, err = decodeProps(r); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeProps(r *bitReader) ([]rawProp, error) {
	n, err := r.readInt()
	if err != nil || n == 0 {
		return nil, err
	}
	props := make([]rawProp, 0, min(n, 64))
	for i := 0; i < n; i++ {
		key, err := r.readGamma()
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(r, 0)
		if err != nil {
			return nil, err
		}
		props = append(props, rawProp{key: uint32(key), val: val})
	}
	return props, nil
}

// maxValueNesting bounds list recursion on corrupt input.
const maxValueNesting = 64

func decodeValue(r *bitReader, depth int) (rawValue, error) {
	if depth > maxValueNesting {
		return rawValue{}, fmt.Errorf("%w: list nesting too deep", ErrCorruptRecord)
	}
	code, err := r.readBits(3)
	if err != nil {
		return rawValue{}, err
	}
	v := rawValue{kind: Kind(code)}
	switch v.kind {
	case KindNone:
	case KindAtom, KindWord, KindCategory:
		slot, err := r.readGamma()
		if err != nil {
			return rawValue{}, err
		}
		v.slot = uint32(slot)
	case KindNumber:
		if v.num, err = r.readFloat(); err != nil {
			return rawValue{}, err
		}
	case KindList:
		n, err := r.readInt()
		if err != nil {
			return rawValue{}, err
		}
		for i := 0; i < n; i++ {
			e, err := decodeValue(r, depth+1)
			if err != nil {
				return rawValue{}, err
			}
			v.list = append(v.list, e)
		}
	default:
		return rawValue{}, fmt.Errorf("%w: bad value kind %d", ErrCorruptRecord, code)
	}
	return v, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE ↔ RAW
// ═══════════════════════════════════════════════════════════════════════════════

// slotTable maps each index range's slots to live handles.
type slotTable struct {
	cats  []CatID
	atoms []AtomID
	words []WordID
}

func (t *slotTable) cat(slot uint32) (CatID, error) {
	if int(slot) >= len(t.cats) {
		return 0, fmt.Errorf("%w: category slot %d out of range", ErrCorruptRecord, slot)
	}
	return t.cats[slot], nil
}

func (t *slotTable) atom(slot uint32) (AtomID, error) {
	if int(slot) >= len(t.atoms) {
		return 0, fmt.Errorf("%w: atom slot %d out of range", ErrCorruptRecord, slot)
	}
	return t.atoms[slot], nil
}

func (t *slotTable) word(slot uint32) (WordID, error) {
	if int(slot) >= len(t.words) {
		return 0, fmt.Errorf("%w: word slot %d out of range", ErrCorruptRecord, slot)
	}
	return t.words[slot], nil
}

func (t *slotTable) catList(slots []uint32) ([]CatID, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	out := make([]CatID, len(slots))
	for i, s := range slots {
		id, err := t.cat(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (t *slotTable) atomList(slots []uint32) ([]AtomID, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	out := make([]AtomID, len(slots))
	for i, s := range slots {
		id, err := t.atom(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (t *slotTable) wordList(slots []uint32) ([]WordID, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	out := make([]WordID, len(slots))
	for i, s := range slots {
		id, err := t.word(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// optWord resolves a slot+1 reference.
func (t *slotTable) optWord(ref uint32) (WordID, error) {
	if ref == 0 {
		return 0, nil
	}
	return t.word(ref - 1)
}

func (t *slotTable) value(v rawValue) (Value, error) {
	switch v.kind {
	case KindAtom:
		id, err := t.atom(v.slot)
		return AtomValue(id), err
	case KindWord:
		id, err := t.word(v.slot)
		return WordValue(id), err
	case KindCategory:
		id, err := t.cat(v.slot)
		return CategoryValue(id), err
	case KindNumber:
		return NumberValue(v.num), nil
	case KindList:
		out := make([]Value, len(v.list))
		for i, e := range v.list {
			x, err := t.value(e)
			if err != nil {
				return Nil, err
			}
			out[i] = x
		}
		return Value{kind: KindList, list: out}, nil
	}
	return Nil, nil
}

func (t *slotTable) props(raw []rawProp) (map[AtomID]Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[AtomID]Value, len(raw))
	for _, p := range raw {
		k, err := t.atom(p.key)
		if err != nil {
			return nil, err
		}
		v, err := t.value(p.val)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// entry resolves a raw entry into a WordEntry.
func (t *slotTable) entry(raw *rawEntry) (*WordEntry, error) {
	e := &WordEntry{
		HasNumber: raw.hasNum,
		Number:    raw.num,
		Guessed:   raw.guessed,
	}
	var err error
	for i, level := range raw.cats {
		if e.Categories[i], err = t.catList(level); err != nil {
			return nil, err
		}
	}
	for _, rs := range raw.senses {
		var s Sense
		if s.Category, err = t.cat(rs.cat); err != nil {
			return nil, err
		}
		if s.Roots, err = t.wordList(rs.roots); err != nil {
			return nil, err
		}
		if s.Prefix, err = t.optWord(rs.prefix); err != nil {
			return nil, err
		}
		if s.Suffix, err = t.optWord(rs.suffix); err != nil {
			return nil, err
		}
		if s.Features, err = t.atomList(rs.features); err != nil {
			return nil, err
		}
		s.Penalty, s.Name = rs.penalty, rs.name
		e.Senses = append(e.Senses, s)
	}
	if e.Features, err = t.atomList(raw.features); err != nil {
		return nil, err
	}
	if e.CapCodes, err = t.atomList(raw.capcodes); err != nil {
		return nil, err
	}
	pairs := []struct {
		dst *[]WordID
		src []uint32
	}{
		{&e.Roots, raw.roots}, {&e.Prefixes, raw.prefixes}, {&e.Suffixes, raw.suffixes},
		{&e.Iko, raw.iko}, {&e.Iio, raw.iio},
		{&e.VariantOf, raw.variantOf}, {&e.NicknameOf, raw.nicknameOf},
		{&e.MisspellingOf, raw.misspellingOf}, {&e.AbbreviationOf, raw.abbrevOf},
		{&e.SubSenses, raw.subsenses},
	}
	for _, p := range pairs {
		if *p.dst, err = t.wordList(p.src); err != nil {
			return nil, err
		}
	}
	if e.SenseOf, err = t.optWord(raw.senseOf); err != nil {
		return nil, err
	}
	if e.Props, err = t.props(raw.props); err != nil {
		return nil, err
	}
	return e, nil
}

// rawEncoder converts live entities to raw records using the entities'
// assigned index numbers. Callers hold lex.mu.
type rawEncoder struct {
	lex *Lexicon
}

func (enc rawEncoder) catSlot(id CatID) uint32 {
	return uint32(enc.lex.cats[id].Index() - enc.lex.indexBase(rangeCategory))
}

func (enc rawEncoder) atomSlot(id AtomID) uint32 {
	return uint32(enc.lex.atoms[id].Index() - enc.lex.indexBase(rangeAtom))
}

func (enc rawEncoder) wordSlot(id WordID) uint32 {
	return uint32(enc.lex.words[id].Index() - enc.lex.indexBase(rangeWord))
}

func (enc rawEncoder) cats(ids []CatID) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = enc.catSlot(id)
	}
	return out
}

func (enc rawEncoder) atomsOf(ids []AtomID) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = enc.atomSlot(id)
	}
	return out
}

func (enc rawEncoder) wordsOf(ids []WordID) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = enc.wordSlot(id)
	}
	return out
}

func (enc rawEncoder) optWord(id WordID) uint32 {
	if id == 0 {
		return 0
	}
	return enc.wordSlot(id) + 1
}

func (enc rawEncoder) value(v Value) rawValue {
	switch v.kind {
	case KindAtom:
		return rawValue{kind: KindAtom, slot: enc.atomSlot(v.Atom())}
	case KindWord:
		return rawValue{kind: KindWord, slot: enc.wordSlot(v.Word())}
	case KindCategory:
		return rawValue{kind: KindCategory, slot: enc.catSlot(v.Category())}
	case KindNumber:
		return rawValue{kind: KindNumber, num: v.num}
	case KindList:
		out := rawValue{kind: KindList, list: make([]rawValue, len(v.list))}
		for i, e := range v.list {
			out.list[i] = enc.value(e)
		}
		return out
	}
	return rawValue{}
}

func (enc rawEncoder) props(m map[AtomID]Value) []rawProp {
	if len(m) == 0 {
		return nil
	}
	out := make([]rawProp, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, rawProp{key: enc.atomSlot(k), val: enc.value(m[k])})
	}
	return out
}

func (enc rawEncoder) category(c *Category) *rawRecord {
	return &rawRecord{
		kind:       KindCategory,
		name:       c.name,
		components: enc.cats(c.components),
		subcats:    enc.cats(c.subcats),
		root:       c.root,
	}
}

func (enc rawEncoder) atom(a *Atom) *rawRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &rawRecord{
		kind:   KindAtom,
		name:   a.name,
		hasNum: a.hasNum,
		num:    a.num,
		props:  enc.props(a.props),
	}
}

func (enc rawEncoder) word(text string, core bool, e *WordEntry) *rawRecord {
	rec := &rawRecord{kind: KindWord, name: text, core: core}
	if e == nil {
		return rec
	}
	re := &rawEntry{
		features:      enc.atomsOf(e.Features),
		capcodes:      enc.atomsOf(e.CapCodes),
		roots:         enc.wordsOf(e.Roots),
		prefixes:      enc.wordsOf(e.Prefixes),
		suffixes:      enc.wordsOf(e.Suffixes),
		iko:           enc.wordsOf(e.Iko),
		iio:           enc.wordsOf(e.Iio),
		variantOf:     enc.wordsOf(e.VariantOf),
		nicknameOf:    enc.wordsOf(e.NicknameOf),
		misspellingOf: enc.wordsOf(e.MisspellingOf),
		abbrevOf:      enc.wordsOf(e.AbbreviationOf),
		subsenses:     enc.wordsOf(e.SubSenses),
		senseOf:       enc.optWord(e.SenseOf),
		hasNum:        e.HasNumber,
		num:           e.Number,
		guessed:       e.Guessed,
		props:         enc.props(e.Props),
	}
	for i, level := range e.Categories {
		re.cats[i] = enc.cats(level)
	}
	for _, s := range e.Senses {
		re.senses = append(re.senses, rawSense{
			cat:      enc.catSlot(s.Category),
			roots:    enc.wordsOf(s.Roots),
			prefix:   enc.optWord(s.Prefix),
			suffix:   enc.optWord(s.Suffix),
			features: enc.atomsOf(s.Features),
			penalty:  s.Penalty,
			name:     s.Name,
		})
	}
	rec.entry = re
	return rec
}
