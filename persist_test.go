package morph

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEntries = `
# test lexicon
the:det;core
dog:nc;features:animal
dogs:nc;root:dog;features:plural
run:v;penalty1:nc
running:v;root:run;features:prog;sense:(v (run) (prog) 0 motion)
ten:number;numval:10;core
colour:nc;variant-of:color;origin:(british english)
`

func buildTestLexicon(t *testing.T) *Lexicon {
	t.Helper()
	lex := newTestLexicon()
	lex.BootstrapCategories()
	n, err := lex.LoadEntries(strings.NewReader(testEntries))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	return lex
}

func formatAll(lex *Lexicon) map[string]string {
	out := make(map[string]string)
	for _, w := range lex.Words() {
		out[w.Text()] = lex.FormatEntry(w)
	}
	return out
}

func testBase(t *testing.T) string {
	return filepath.Join(t.TempDir(), "lexicon")
}

// ═══════════════════════════════════════════════════════════════════════════════
// DUMP / LOAD TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestDumpLoad_RoundTrip(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)
	want := formatAll(lex)

	written, err := lex.Dump(base)
	require.NoError(t, err)
	assert.Positive(t, written)
	for _, ext := range []string{".blex", ".bidx", ".bhis"} {
		assert.FileExists(t, base+ext)
	}

	fresh := newTestLexicon()
	defer fresh.Close()
	read, err := fresh.Load(base, 0, LoadUnpackAll)
	require.NoError(t, err)
	assert.Equal(t, written, read)
	assert.Equal(t, want, formatAll(fresh))

	assert.True(t, fresh.SubsumesName("n", "nc"), "hierarchy survives the round trip")
	assert.True(t, fresh.LookupWord("the").IsCore())
	assert.False(t, fresh.LookupWord("dog").IsCore())
}

func TestDump_StableIndexNumbers(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)

	_, err := lex.Dump(base)
	require.NoError(t, err)
	before := make(map[string]int)
	for _, w := range lex.Words() {
		before[w.Text()] = w.Index()
	}

	// "aardvark" sorts first but must not push existing numbers.
	lex.MakeEntry("aardvark:nc")
	_, err = lex.Dump(base)
	require.NoError(t, err)
	for text, idx := range before {
		assert.Equal(t, idx, lex.LookupWord(text).Index(), "index of %q moved", text)
	}
	last := 0
	for _, idx := range before {
		last = max(last, idx)
	}
	assert.Equal(t, last+1, lex.LookupWord("aardvark").Index())

	fresh := newTestLexicon()
	defer fresh.Close()
	_, err = fresh.Load(base, 0, LoadUnpackAll)
	require.NoError(t, err)
	for _, w := range lex.Words() {
		assert.Equal(t, w.Index(), fresh.LookupWord(w.Text()).Index())
	}
	assert.Equal(t, WordValue(fresh.LookupWord("aardvark").ID()), fresh.IndexedValue(last+1))
}

func TestLoad_Modes(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)
	_, err := lex.Dump(base)
	require.NoError(t, err)
	want := formatAll(lex)

	tests := []struct {
		mode         LoadMode
		coreResident bool
		dogResident  bool
	}{
		{LoadUnpackAll, true, true},
		{LoadUnpackCore, true, false},
		{LoadKeepPacked, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			fresh := newTestLexicon()
			defer fresh.Close()
			_, err := fresh.Load(base, 0, tt.mode)
			require.NoError(t, err)

			the, dog := fresh.LookupWord("the"), fresh.LookupWord("dog")
			assert.Equal(t, tt.coreResident, the.residentEntry() != nil)
			assert.Equal(t, tt.dogResident, dog.residentEntry() != nil)
			assert.True(t, dog.HasEntry())

			// Packed entries decode on first access.
			assert.Equal(t, want, formatAll(fresh))
			assert.NotNil(t, dog.residentEntry())
		})
	}
}

func TestParseLoadMode(t *testing.T) {
	for _, m := range []LoadMode{LoadUnpackAll, LoadUnpackCore, LoadKeepPacked} {
		got, err := ParseLoadMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseLoadMode("packed")
	require.NoError(t, err)
	assert.Equal(t, LoadKeepPacked, got)

	_, err = ParseLoadMode("lazy")
	assert.Error(t, err)
}

func TestLoad_UpToLeavesWordsOnDisk(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)
	written, err := lex.Dump(base)
	require.NoError(t, err)
	want := formatAll(lex)

	limits := DefaultLimits()
	upTo := limits.Categories + limits.Atoms + 1

	fresh := newTestLexicon()
	defer fresh.Close()
	read, err := fresh.Load(base, upTo, LoadUnpackAll)
	require.NoError(t, err)
	assert.Less(t, read, written)

	st := fresh.Stats()
	assert.Equal(t, lex.WordCount(), st.Words)
	assert.Equal(t, lex.WordCount()-1, st.Purged)

	// Purged words page their entries back in.
	assert.Equal(t, want, formatAll(fresh))
	assert.Zero(t, fresh.Stats().Purged)
}

func TestLoad_FailureLeavesLexiconUnchanged(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)
	_, err := lex.Dump(base)
	require.NoError(t, err)

	target := newTestLexicon()
	target.BootstrapCategories()
	target.MakeEntry("cat:nc")
	before := formatAll(target)
	stats := target.Stats()

	_, err = target.Load(filepath.Join(t.TempDir(), "missing"), 0, LoadUnpackAll)
	assert.Error(t, err)

	// A truncated copy; the dumped .blex is still mapped by lex.
	cut := base + "-cut"
	idx, err := os.ReadFile(base + ".bidx")
	require.NoError(t, err)
	data, err := os.ReadFile(base + ".blex")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cut+".bidx", idx, 0o644))
	require.NoError(t, os.WriteFile(cut+".blex", data[:len(data)/2], 0o644))

	_, err = target.Load(cut, 0, LoadUnpackAll)
	assert.Error(t, err)
	assert.Equal(t, before, formatAll(target))
	assert.Equal(t, stats, target.Stats())
	assert.Nil(t, target.LookupWord("dog"))
}

func TestLoad_CorruptIndex(t *testing.T) {
	base := testBase(t)
	require.NoError(t, os.WriteFile(base+".bidx", []byte{0x00, 0x00, 0x00}, 0o644))
	require.NoError(t, os.WriteFile(base+".blex", nil, 0o644))

	lex := newTestLexicon()
	_, err := lex.Load(base, 0, LoadUnpackAll)
	assert.Error(t, err)
	assert.Zero(t, lex.WordCount())
}

// ═══════════════════════════════════════════════════════════════════════════════
// RELOAD / SHRINK / CRUSH TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestReload(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()

	_, err := lex.Reload(0)
	assert.Error(t, err, "nothing is numbered yet")

	require.NoError(t, lex.AssignIndexNumbers())
	dog := lex.LookupWord("dog")
	_, err = lex.Reload(dog.Index())
	assert.ErrorIs(t, err, ErrNoPager)

	_, err = lex.Dump(testBase(t))
	require.NoError(t, err)
	want := lex.FormatEntry(dog)

	v, err := lex.Reload(dog.Index())
	require.NoError(t, err)
	assert.Equal(t, dog.Value(), v)
	assert.Equal(t, want, lex.FormatEntry(dog))

	noun := lex.LookupCategory("n")
	v, err = lex.Reload(noun.Index())
	require.NoError(t, err)
	assert.Equal(t, noun.Value(), v)
	assert.True(t, lex.SubsumesName("n", "nc"))
}

func TestShrinkLex(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()

	_, err := lex.ShrinkLex()
	assert.ErrorIs(t, err, ErrNoPager)

	_, err = lex.Dump(testBase(t))
	require.NoError(t, err)
	want := formatAll(lex)

	// Changed since the dump: must stay resident.
	lex.MakeEntry("dogs:nc;features:many")
	want["dogs"] = lex.FormatEntry(lex.LookupWord("dogs"))

	n, err := lex.ShrinkLex()
	require.NoError(t, err)
	// dog, run, running, colour: non-core, unchanged, with entries.
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, lex.Stats().Purged)
	assert.NotNil(t, lex.LookupWord("the").residentEntry(), "core words are never purged")
	assert.NotNil(t, lex.LookupWord("dogs").residentEntry(), "dirty words are never purged")

	e, err := lex.EntryOf(lex.LookupWord("running"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Len(t, e.Senses, 1)
	assert.Equal(t, want, formatAll(lex))
}

func TestCrushLex(t *testing.T) {
	lex := buildTestLexicon(t)
	want := formatAll(lex)

	n, err := lex.CrushLex()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, lex.Stats().Packed)
	assert.NotNil(t, lex.LookupWord("ten").residentEntry())

	// Packed words survive a dump unchanged.
	base := testBase(t)
	_, err = lex.Dump(base)
	require.NoError(t, err)
	defer lex.Close()
	assert.Equal(t, want, formatAll(lex))

	fresh := newTestLexicon()
	defer fresh.Close()
	_, err = fresh.Load(base, 0, LoadUnpackAll)
	require.NoError(t, err)
	assert.Equal(t, want, formatAll(fresh))
}

func TestMaintenance_Busy(t *testing.T) {
	lex := buildTestLexicon(t)
	lex.busy.Store(true)
	defer lex.busy.Store(false)

	_, err := lex.Dump(testBase(t))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = lex.Load(testBase(t), 0, LoadUnpackAll)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = lex.ShrinkLex()
	assert.ErrorIs(t, err, ErrBusy)
	_, err = lex.CrushLex()
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, lex.AssignIndexNumbers(), ErrBusy)
}

func TestDump_IndexOverflow(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = quietLogger()
	opts.Limits = Limits{Categories: 64, Atoms: 64, Words: 3}
	lex := NewLexicon(opts)
	lex.BootstrapCategories()
	for _, line := range []string{"a:det", "b:det", "c:det", "d:det"} {
		lex.MakeEntry(line)
	}

	base := testBase(t)
	n, err := lex.Dump(base)
	assert.ErrorIs(t, err, ErrIndexOverflow)
	assert.Equal(t, -1, n)
	assert.NoFileExists(t, base+".blex")
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX / HISTORY TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestDumpIndex_MatchesFile(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)
	_, err := lex.Dump(base)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, lex.DumpIndex(&buf))
	onDisk, err := os.ReadFile(base + ".bidx")
	require.NoError(t, err)
	assert.Equal(t, onDisk, buf.Bytes())
	assert.Zero(t, buf.Len()%IndexBlockSize)

	idx, err := readIndex(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, lex.Stats().Indexed, idx.total())
}

func TestHistory_RoundTrip(t *testing.T) {
	lex := buildTestLexicon(t)
	defer lex.Close()
	base := testBase(t)
	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	lex.SetHistory(History{Date: date, Production: true, Text: "built from test entries\nsecond pass"})

	_, err := lex.Dump(base)
	require.NoError(t, err)

	h, err := ReadHistory(base + ".bhis")
	require.NoError(t, err)
	assert.Equal(t, FormatTag, h.Format)
	assert.True(t, h.Date.Equal(date))
	assert.True(t, h.Production)
	assert.Equal(t, "built from test entries\nsecond pass", h.Text)

	fresh := newTestLexicon()
	defer fresh.Close()
	_, err = fresh.Load(base, 0, LoadKeepPacked)
	require.NoError(t, err)
	assert.Equal(t, h, fresh.History())
}
