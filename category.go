// ═══════════════════════════════════════════════════════════════════════════════
// CATEGORIES AND SUBSUMPTION
// ═══════════════════════════════════════════════════════════════════════════════
// Categories form a DAG through explicit subcategory edges:
//
//	word
//	├── n
//	│   ├── nc
//	│   └── npr ── firstname, lastname, city, country
//	├── v ── aux, modal
//	├── adj ── ord
//	└── ...
//
// "A subsumes B" means every word of category B is also of category A.
// Walking the DAG answers that, but analysis asks it thousands of times per
// word, so ComputeSubsumptionBits precomputes two roaring bitmaps per category:
//
//	myBits   → the bits that identify the category itself
//	           (one bit for a primitive, the union of its components for a
//	           disjunction such as "adj/adv")
//	subBits  → every bit the category covers (itself plus all descendants)
//
// Then A subsumes B  ⟺  myBits(B) ⊆ subBits(A), a single AndNot + IsEmpty.
// ═══════════════════════════════════════════════════════════════════════════════

package morph

import (
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
)

// Names of the categories the engine itself relies on.
const (
	RootCategory       = "word"
	NounCategory       = "n"
	CommonNounCategory = "nc"
	ProperNameCategory = "npr"
	NonNameCategory    = "nonname"
	VerbCategory       = "v"
	AdjCategory        = "adj"
	AdvCategory        = "adv"
	NumberCategory     = "number"
	PunctCategory      = "punct"
	PrefixCategory     = "prefix"
	SuffixCategory     = "suffix"
)

// Category is a syntactic class, primitive or disjunctive.
type Category struct {
	id         CatID
	name       string
	components []CatID // sorted components of a disjunction, nil if primitive
	subcats    []CatID // explicit hierarchy edges, in declaration order
	root       bool

	myBits  *roaring.Bitmap
	subBits *roaring.Bitmap

	index atomic.Int32
}

func newCategory(id CatID, name string, components []CatID) *Category {
	c := &Category{id: id, name: name, components: components}
	c.index.Store(-1)
	return c
}

func (c *Category) ID() CatID           { return c.id }
func (c *Category) Name() string        { return c.name }
func (c *Category) String() string      { return c.name }
func (c *Category) Value() Value        { return CategoryValue(c.id) }
func (c *Category) IsDisjunctive() bool { return len(c.components) > 0 }
func (c *Category) IsRoot() bool        { return c.root }
func (c *Category) Index() int          { return int(c.index.Load()) }

// Components returns the components of a disjunctive category.
func (c *Category) Components() []CatID { return append([]CatID(nil), c.components...) }

// splitCategorySpec splits a category spec into sorted, deduplicated,
// lowercase component names.
func splitCategorySpec(spec string) []string {
	fields := strings.FieldsFunc(strings.ToLower(spec), func(r rune) bool {
		return r == '/' || r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	out := fields[:1]
	for _, f := range fields[1:] {
		if f != out[len(out)-1] {
			out = append(out, f)
		}
	}
	return out
}

// SetSubcategories declares explicit hierarchy edges from name to every
// category in childrenSpec. Children are interned as needed; existing edges
// are kept and duplicates ignored.
func (lex *Lexicon) SetSubcategories(name, childrenSpec string) *Category {
	parent := lex.InternCategory(name)
	if parent == nil {
		return nil
	}
	var children []*Category
	for _, n := range splitCategorySpec(childrenSpec) {
		children = append(children, lex.InternCategory(n))
	}

	lex.mu.Lock()
	defer lex.mu.Unlock()
	for _, ch := range children {
		if ch.id == parent.id || containsCat(parent.subcats, ch.id) {
			continue
		}
		parent.subcats = append(parent.subcats, ch.id)
	}
	lex.bitsValid = false
	return parent
}

// Subcategories returns the explicit children of c.
func (lex *Lexicon) Subcategories(c *Category) []*Category {
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	out := make([]*Category, 0, len(c.subcats))
	for _, id := range c.subcats {
		out = append(out, lex.cats[id])
	}
	return out
}

func containsCat(ids []CatID, id CatID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// builtinHierarchy is the category DAG every lexicon starts from.
var builtinHierarchy = []struct{ parent, children string }{
	{RootCategory, "n v adj adv prep conj det pro interj punct number prefix suffix"},
	{NounCategory, "nc npr"},
	{ProperNameCategory, "firstname lastname city country"},
	{VerbCategory, "aux modal"},
	{AdjCategory, "ord"},
	{"det", "art quant"},
	{NumberCategory, "integer ordinal"},
	{"pro", "perspro"},
}

// BootstrapCategories installs the built-in hierarchy and computes the
// subsumption bits for it.
func (lex *Lexicon) BootstrapCategories() {
	for _, h := range builtinHierarchy {
		lex.SetSubcategories(h.parent, h.children)
	}
	lex.InternCategory(NonNameCategory)
	root := lex.InternCategory(RootCategory)
	lex.mu.Lock()
	root.root = true
	lex.rootCat = root.id
	lex.mu.Unlock()
	lex.ComputeSubsumptionBits(NounCategory, VerbCategory, AdjCategory, AdvCategory, ProperNameCategory)
}

// DefaultTestOrder lists the categories whose bits are assigned first.
var DefaultTestOrder = []string{NounCategory, VerbCategory, AdjCategory, AdvCategory, ProperNameCategory}

// ComputeSubsumptionBits assigns one bit per primitive category, the
// categories named in testOrder first and the rest by name, then computes
// every category's myBits/subBits. The non-name category is fixed to the
// complement of the proper-name category. It returns the bit width, and must
// be re-run after categories or edges are added (Subsumes falls back to a
// DAG walk until it is).
func (lex *Lexicon) ComputeSubsumptionBits(testOrder ...string) int {
	if len(testOrder) == 0 {
		testOrder = DefaultTestOrder
	}
	lex.mu.Lock()
	defer lex.mu.Unlock()

	bit := make(map[CatID]uint32)
	var next uint32
	assign := func(c *Category) {
		if c == nil || c.IsDisjunctive() {
			return
		}
		if _, done := bit[c.id]; done {
			return
		}
		bit[c.id] = next
		next++
	}
	for _, name := range testOrder {
		if id, ok := lex.catIndex[normalize(name)]; ok {
			assign(lex.cats[id])
		}
	}
	rest := make([]*Category, 0, len(lex.cats))
	rest = append(rest, lex.cats[1:]...)
	sort.Slice(rest, func(i, j int) bool { return rest[i].name < rest[j].name })
	for _, c := range rest {
		assign(c)
	}

	// myBits first, for primitives and disjunctions alike.
	for _, c := range lex.cats[1:] {
		c.myBits = roaring.New()
		c.subBits = nil
		if c.IsDisjunctive() {
			for _, comp := range c.components {
				c.myBits.Add(bit[comp])
			}
		} else {
			c.myBits.Add(bit[c.id])
		}
	}

	// subBits by memoized DFS; a visiting set breaks accidental cycles.
	visiting := make(map[CatID]bool)
	var closure func(c *Category) *roaring.Bitmap
	closure = func(c *Category) *roaring.Bitmap {
		if c.subBits != nil {
			return c.subBits
		}
		acc := c.myBits.Clone()
		if visiting[c.id] {
			return acc
		}
		visiting[c.id] = true
		for _, comp := range c.components {
			acc.Or(closure(lex.cats[comp]))
		}
		for _, sub := range c.subcats {
			acc.Or(closure(lex.cats[sub]))
		}
		visiting[c.id] = false
		c.subBits = acc
		return acc
	}
	for _, c := range lex.cats[1:] {
		closure(c)
	}

	if nprID, ok := lex.catIndex[ProperNameCategory]; ok {
		if nnID, ok := lex.catIndex[NonNameCategory]; ok {
			all := roaring.New()
			all.AddRange(0, uint64(next))
			lex.cats[nnID].subBits = roaring.AndNot(all, lex.cats[nprID].subBits)
		}
	}

	lex.bitsWidth = int(next)
	lex.bitsValid = true
	lex.logger.Debug("computed category subsumption bits",
		slog.Int("width", lex.bitsWidth), slog.Int("categories", len(lex.cats)-1))
	return lex.bitsWidth
}

// disjunctionBitsLocked gives a new disjunction of already-numbered
// primitives its bits, so the current bits stay valid. It reports false when
// the bits must be recomputed instead.
func (lex *Lexicon) disjunctionBitsLocked(c *Category) bool {
	if !lex.bitsValid || !c.IsDisjunctive() {
		return false
	}
	my, sub := roaring.New(), roaring.New()
	for _, id := range c.components {
		comp := lex.cats[id]
		if comp.myBits == nil || comp.subBits == nil {
			return false
		}
		my.Or(comp.myBits)
		sub.Or(comp.subBits)
	}
	c.myBits, c.subBits = my, sub
	return true
}

// Subsumes reports whether category a subsumes category b.
func (lex *Lexicon) Subsumes(a, b CatID) bool {
	if a == 0 || b == 0 {
		return false
	}
	if a == b {
		return true
	}
	lex.mu.RLock()
	defer lex.mu.RUnlock()
	if int(a) >= len(lex.cats) || int(b) >= len(lex.cats) {
		return false
	}
	ca, cb := lex.cats[a], lex.cats[b]
	if ca.root {
		return true
	}
	if lex.bitsValid {
		return roaring.AndNot(cb.myBits, ca.subBits).IsEmpty()
	}
	return lex.walkSubsumesLocked(ca, cb)
}

// SubsumesName is Subsumes on category specs; unknown specs never subsume.
func (lex *Lexicon) SubsumesName(a, b string) bool {
	ca, cb := lex.LookupCategory(a), lex.LookupCategory(b)
	if ca == nil || cb == nil {
		return false
	}
	return lex.Subsumes(ca.id, cb.id)
}

// walkSubsumesLocked answers Subsumes without bits: every primitive of b
// must be reachable from a (or from one of a's components).
func (lex *Lexicon) walkSubsumesLocked(a, b *Category) bool {
	targets := b.components
	if !b.IsDisjunctive() {
		targets = []CatID{b.id}
	}
	for _, t := range targets {
		if !lex.reachesLocked(a, t, map[CatID]bool{}) {
			return false
		}
	}
	return true
}

func (lex *Lexicon) reachesLocked(from *Category, target CatID, seen map[CatID]bool) bool {
	if from.id == target {
		return true
	}
	if seen[from.id] {
		return false
	}
	seen[from.id] = true
	if from.name == NonNameCategory {
		if npr, ok := lex.catIndex[ProperNameCategory]; ok {
			return !lex.reachesLocked(lex.cats[npr], target, map[CatID]bool{})
		}
	}
	for _, c := range from.components {
		if lex.reachesLocked(lex.cats[c], target, seen) {
			return true
		}
	}
	for _, s := range from.subcats {
		if lex.reachesLocked(lex.cats[s], target, seen) {
			return true
		}
	}
	return false
}
