// ═══════════════════════════════════════════════════════════════════════════════
// LEXICAL VALUES
// ═══════════════════════════════════════════════════════════════════════════════
// Everything the lexicon owns is one of five kinds of value:
//
//	Atom      → interned symbol ("plural", "past", "color")
//	Word      → lowercase word string with an optional entry
//	Category  → syntactic class, primitive ("n") or disjunctive ("adj/adv")
//	Number    → plain float64
//	List      → immutable ordered sequence of values
//
// A Value is a small tagged struct: the Kind picks the variant and the payload
// is either an integer handle into one of the lexicon's arenas, a number, or
// a list. Handles instead of pointers keep cyclic word graphs (roots, variants,
// parents) flat, and they are exactly what the binary codec writes to disk.
// ═══════════════════════════════════════════════════════════════════════════════

package morph

import (
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindAtom
	KindWord
	KindCategory
	KindNumber
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindAtom:
		return "atom"
	case KindWord:
		return "word"
	case KindCategory:
		return "category"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return "none"
	}
}

// AtomID, CatID and WordID are 1-based handles into the lexicon arenas.
// The zero handle means "no value".
type (
	AtomID uint32
	CatID  uint32
	WordID uint32
)

// scratchBit marks a WordID that lives in an analysis-local MorphCache
// rather than in the shared lexicon.
const scratchBit WordID = 1 << 31

// IsScratch reports whether id refers to a speculative, uncommitted word.
func (id WordID) IsScratch() bool { return id&scratchBit != 0 }

// Value is the tagged variant shared by every lexicon-owned entity.
type Value struct {
	kind Kind
	id   uint32
	num  float64
	list []Value
}

// Nil is the empty value.
var Nil = Value{}

func AtomValue(id AtomID) Value    { return Value{kind: KindAtom, id: uint32(id)} }
func WordValue(id WordID) Value    { return Value{kind: KindWord, id: uint32(id)} }
func CategoryValue(id CatID) Value { return Value{kind: KindCategory, id: uint32(id)} }
func NumberValue(n float64) Value  { return Value{kind: KindNumber, num: n} }

// ListValue builds a list value. The elements are copied so the list stays
// immutable even if the caller reuses its slice.
func ListValue(elems ...Value) Value {
	l := make([]Value, len(elems))
	copy(l, elems)
	return Value{kind: KindList, list: l}
}

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNil() bool      { return v.kind == KindNone }
func (v Value) IsAtom() bool     { return v.kind == KindAtom }
func (v Value) IsWord() bool     { return v.kind == KindWord }
func (v Value) IsCategory() bool { return v.kind == KindCategory }
func (v Value) IsNumber() bool   { return v.kind == KindNumber }
func (v Value) IsList() bool     { return v.kind == KindList }
func (v Value) Atom() AtomID     { return AtomID(v.id) }
func (v Value) Word() WordID     { return WordID(v.id) }
func (v Value) Category() CatID  { return CatID(v.id) }
func (v Value) Number() float64  { return v.num }
func (v Value) Len() int         { return len(v.list) }
func (v Value) At(i int) Value   { return v.list[i] }

// Elems returns a copy of the list elements (nil for non-lists).
func (v Value) Elems() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// Equal compares values by identity for interned kinds and structurally
// for numbers and lists.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return v.id == o.id
	}
}

// Format renders the canonical print form of v. Atoms, words and categories
// print as their strings, numbers in shortest form, lists parenthesized.
func (lex *Lexicon) Format(v Value) string {
	var sb strings.Builder
	lex.formatTo(&sb, v)
	return sb.String()
}

func (lex *Lexicon) formatTo(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindAtom:
		if a := lex.Atom(v.Atom()); a != nil {
			sb.WriteString(a.name)
		}
	case KindWord:
		if w := lex.Word(v.Word()); w != nil {
			sb.WriteString(w.text)
		}
	case KindCategory:
		if c := lex.Category(v.Category()); c != nil {
			sb.WriteString(c.name)
		}
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
	case KindList:
		sb.WriteByte('(')
		for i, e := range v.list {
			if i > 0 {
				sb.WriteByte(' ')
			}
			lex.formatTo(sb, e)
		}
		sb.WriteByte(')')
	}
}
