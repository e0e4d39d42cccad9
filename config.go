package morph

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the file form of every knob the CLI and the server expose.
type Config struct {
	Language string `yaml:"language"`
	LogLevel string `yaml:"log_level"`

	Lexicon struct {
		Path     string `yaml:"path"` // binary lexicon base path, without extension
		Entries  string `yaml:"entries"`
		LoadMode string `yaml:"load_mode"`
		UpTo     int    `yaml:"up_to"` // word indexes from here on stay on disk, 0 decodes all
	} `yaml:"lexicon"`

	Limits struct {
		Categories int `yaml:"categories"`
		Atoms      int `yaml:"atoms"`
		Words      int `yaml:"words"`
	} `yaml:"limits"`

	Engine struct {
		MaxDepth int  `yaml:"max_depth"`
		Trace    bool `yaml:"trace"`
		Workers  int  `yaml:"workers"`
	} `yaml:"engine"`

	Analyzer struct {
		MinTokenLength int  `yaml:"min_token_length"`
		Stemming       bool `yaml:"stemming"`
		Stopwords      bool `yaml:"stopwords"`
		KeepSurface    bool `yaml:"keep_surface"`
	} `yaml:"analyzer"`

	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	var cfg Config
	cfg.Language = "english"
	cfg.LogLevel = "info"
	cfg.Lexicon.LoadMode = LoadUnpackCore.String()
	limits := DefaultLimits()
	cfg.Limits.Categories = limits.Categories
	cfg.Limits.Atoms = limits.Atoms
	cfg.Limits.Words = limits.Words
	cfg.Engine.MaxDepth = DefaultMaxDepth
	cfg.Engine.Workers = 4
	an := DefaultAnalyzerConfig()
	cfg.Analyzer.MinTokenLength = an.MinTokenLength
	cfg.Analyzer.Stemming = an.EnableStemming
	cfg.Analyzer.Stopwords = an.EnableStopwords
	cfg.Server.Addr = ":8080"
	cfg.Server.AllowedOrigins = []string{"*"}
	return &cfg
}

// LoadConfig reads .env if present, then the YAML file at path over the
// defaults (an empty path skips the file), then MORPH_* environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("MORPH_LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := getenv("MORPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("MORPH_LEXICON"); v != "" {
		cfg.Lexicon.Path = v
	}
	if v := getenv("MORPH_ENTRIES"); v != "" {
		cfg.Lexicon.Entries = v
	}
	if v := getenv("MORPH_LOAD_MODE"); v != "" {
		cfg.Lexicon.LoadMode = v
	}
	if v := getenv("MORPH_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := getenv("MORPH_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := getenv("MORPH_TRACE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MORPH_TRACE: %w", err)
		}
		cfg.Engine.Trace = b
	}
	for _, iv := range []struct {
		name string
		dst  *int
	}{
		{"MORPH_MAX_DEPTH", &cfg.Engine.MaxDepth},
		{"MORPH_WORKERS", &cfg.Engine.Workers},
		{"MORPH_UP_TO", &cfg.Lexicon.UpTo},
	} {
		if v := getenv(iv.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", iv.name, err)
			}
			*iv.dst = n
		}
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (cfg *Config) Validate() error {
	if _, err := NewLanguage(cfg.Language); err != nil {
		return err
	}
	if _, err := ParseLoadMode(cfg.Lexicon.LoadMode); err != nil {
		return err
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	if cfg.Engine.Workers < 1 {
		return errors.New("engine.workers must be at least 1")
	}
	return nil
}

// Level parses LogLevel.
func (cfg *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	return l, nil
}

// Options converts the config into lexicon options.
func (cfg *Config) Options(logger *slog.Logger) Options {
	opts := DefaultOptions()
	opts.Limits = Limits{
		Categories: cfg.Limits.Categories,
		Atoms:      cfg.Limits.Atoms,
		Words:      cfg.Limits.Words,
	}
	opts.Logger = logger
	return opts
}

// EngineOptions converts the config into engine options.
func (cfg *Config) EngineOptions(logger *slog.Logger) EngineOptions {
	return EngineOptions{MaxDepth: cfg.Engine.MaxDepth, Trace: cfg.Engine.Trace, Logger: logger}
}

// AnalyzerConfig converts the config into analyzer options.
func (cfg *Config) AnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MinTokenLength:  cfg.Analyzer.MinTokenLength,
		EnableStemming:  cfg.Analyzer.Stemming,
		EnableStopwords: cfg.Analyzer.Stopwords,
		KeepSurface:     cfg.Analyzer.KeepSurface,
	}
}

// NewLanguage returns a fresh module for a built-in language name.
func NewLanguage(name string) (*Language, error) {
	switch strings.ToLower(name) {
	case "english", "en":
		return English(), nil
	case "spanish", "es":
		return Spanish(), nil
	}
	return nil, fmt.Errorf("unknown language %q", name)
}

// Open builds the lexicon and engine the config describes: the binary
// lexicon at Lexicon.Path if set, then the text entries at Lexicon.Entries.
func (cfg *Config) Open(logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lang, _ := NewLanguage(cfg.Language)
	lex := NewLexicon(cfg.Options(logger))
	if cfg.Lexicon.Path != "" {
		mode, _ := ParseLoadMode(cfg.Lexicon.LoadMode)
		if _, err := lex.Load(cfg.Lexicon.Path, cfg.Lexicon.UpTo, mode); err != nil {
			return nil, err
		}
	}
	if cfg.Lexicon.Entries != "" {
		f, err := os.Open(cfg.Lexicon.Entries)
		if err != nil {
			return nil, fmt.Errorf("open entries: %w", err)
		}
		defer f.Close()
		if _, err := lex.LoadEntries(f); err != nil {
			return nil, err
		}
	}
	return NewEngine(lex, lang, cfg.EngineOptions(logger))
}
