package morph

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Atom is an interned, immutable symbol used as a property key and as a
// feature marker ("plural", "past", "penalty2").
type Atom struct {
	id   AtomID
	name string

	mu     sync.RWMutex
	hasNum bool
	num    float64
	props  map[AtomID]Value

	index atomic.Int32 // serialization index, -1 until assigned
}

func newAtom(id AtomID, name string) *Atom {
	a := &Atom{id: id, name: name}
	a.index.Store(-1)
	return a
}

func (a *Atom) ID() AtomID     { return a.id }
func (a *Atom) Name() string   { return a.name }
func (a *Atom) String() string { return a.name }
func (a *Atom) Value() Value   { return AtomValue(a.id) }
func (a *Atom) Index() int     { return int(a.index.Load()) }

// Number returns the atom's numeric value, if it has one.
func (a *Atom) Number() (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.num, a.hasNum
}

// SetNumber attaches a numeric value to the atom.
func (a *Atom) SetNumber(n float64) {
	a.mu.Lock()
	a.num, a.hasNum = n, true
	a.mu.Unlock()
}

// Get returns the value stored under key in the atom's property map.
func (a *Atom) Get(key AtomID) (Value, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.props[key]
	return v, ok
}

// Put stores a property on the atom.
func (a *Atom) Put(key AtomID, v Value) {
	a.mu.Lock()
	if a.props == nil {
		a.props = make(map[AtomID]Value)
	}
	a.props[key] = v
	a.mu.Unlock()
}

func sortedKeys(m map[AtomID]Value) []AtomID {
	keys := make([]AtomID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
