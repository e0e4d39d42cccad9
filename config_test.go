package morph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOADING TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "english", cfg.Language)
	assert.Equal(t, "unpack-core", cfg.Lexicon.LoadMode)
	assert.Equal(t, DefaultMaxDepth, cfg.Engine.MaxDepth)
	assert.Equal(t, DefaultAnalyzerConfig(), cfg.AnalyzerConfig())
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(fakeEnv(map[string]string{
		"MORPH_LANGUAGE":        "es",
		"MORPH_LEXICON":         "/var/lib/morph/lexicon",
		"MORPH_LOAD_MODE":       "keep-packed",
		"MORPH_MAX_DEPTH":       "12",
		"MORPH_UP_TO":           "5",
		"MORPH_TRACE":           "true",
		"MORPH_ALLOWED_ORIGINS": "https://a.example,https://b.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, "es", cfg.Language)
	assert.Equal(t, "/var/lib/morph/lexicon", cfg.Lexicon.Path)
	assert.Equal(t, "keep-packed", cfg.Lexicon.LoadMode)
	assert.Equal(t, 12, cfg.Engine.MaxDepth)
	assert.Equal(t, 5, cfg.Lexicon.UpTo)
	assert.Equal(t, 4, cfg.Engine.Workers, "unset variables keep their value")
	assert.True(t, cfg.Engine.Trace)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := []struct {
		name, value string
	}{
		{"MORPH_WORKERS", "many"},
		{"MORPH_MAX_DEPTH", "1.5"},
		{"MORPH_TRACE", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultConfig().applyEnv(fakeEnv(map[string]string{tt.name: tt.value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "morph.yaml", `
language: spanish
log_level: debug
engine:
  workers: 2
  trace: true
analyzer:
  min_token_length: 3
  stemming: false
  stopwords: true
`)
	t.Setenv("MORPH_ADDR", ":9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "spanish", cfg.Language)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.True(t, cfg.Engine.Trace)
	assert.Equal(t, DefaultMaxDepth, cfg.Engine.MaxDepth, "missing keys keep defaults")
	assert.Equal(t, ":9090", cfg.Server.Addr)

	an := cfg.AnalyzerConfig()
	assert.Equal(t, 3, an.MinTokenLength)
	assert.False(t, an.EnableStemming)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = LoadConfig(writeFile(t, "bad.yaml", "engine: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"language", func(c *Config) { c.Language = "klingon" }, "unknown language"},
		{"load mode", func(c *Config) { c.Lexicon.LoadMode = "sometimes" }, "unknown load mode"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"workers", func(c *Config) { c.Engine.Workers = 0 }, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestNewLanguage(t *testing.T) {
	for _, name := range []string{"english", "EN", "Spanish", "es"} {
		lang, err := NewLanguage(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, lang.RuleSets)
	}
	a, _ := NewLanguage("en")
	b, _ := NewLanguage("en")
	assert.NotSame(t, a, b, "each call returns a fresh module")
}

// ═══════════════════════════════════════════════════════════════════════════════
// OPEN TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestConfig_OpenEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lexicon.Entries = writeFile(t, "entries.txt", strings.Join([]string{
		"# extra words",
		"glorp:v",
		"zorb:nc",
	}, "\n"))

	eng, err := cfg.Open(quietLogger())
	require.NoError(t, err)
	lex := eng.Lexicon()

	w := eng.Analyze("glorped")
	e := lex.Entry(w)
	require.NotNil(t, e)
	assert.False(t, e.Guessed, "the entries file makes glorp a known verb")
	assert.Equal(t, 0, e.PenaltyOf(lex.LookupCategory("v").ID()))
	assert.NotNil(t, lex.Entry(lex.LookupWord("dog")), "seed entries are installed")
}

func TestConfig_OpenBinaryLexicon(t *testing.T) {
	src := buildTestLexicon(t)
	base := testBase(t)
	_, err := src.Dump(base)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	cfg := DefaultConfig()
	cfg.Lexicon.Path = base
	cfg.Lexicon.LoadMode = "keep-packed"
	eng, err := cfg.Open(quietLogger())
	require.NoError(t, err)
	lex := eng.Lexicon()
	t.Cleanup(func() { lex.Close() })

	assert.Equal(t, "run:v;penalty1:nc", lex.FormatEntry(lex.LookupWord("run")), "loaded entries win over seeds")
	got := eng.Analyze("dogs")
	assert.Same(t, lex.LookupWord("dogs"), got)
	assert.Equal(t, "dogs:nc;root:dog;features:plural", lex.FormatEntry(got))
}

func TestConfig_OpenErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lexicon.Entries = filepath.Join(t.TempDir(), "missing.txt")
	_, err := cfg.Open(quietLogger())
	assert.ErrorContains(t, err, "open entries")

	cfg = DefaultConfig()
	cfg.Lexicon.Path = filepath.Join(t.TempDir(), "nothing")
	_, err = cfg.Open(quietLogger())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Language = "klingon"
	_, err = cfg.Open(quietLogger())
	assert.Error(t, err)
}
