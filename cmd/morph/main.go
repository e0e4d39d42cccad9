package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wizenheimer/morph"
	"github.com/wizenheimer/morph/httpapi"
)

var (
	rootCmd = &cobra.Command{
		Use:           "morph",
		Short:         "Rule-driven morphological analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	configPath string
	language   string
	lexPath    string
	entries    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&language, "language", "l", "", "Rule language (english, spanish)")
	rootCmd.PersistentFlags().StringVar(&lexPath, "lexicon", "", "Binary lexicon base path (without .blex/.bidx)")
	rootCmd.PersistentFlags().StringVar(&entries, "entries", "", "Text entry file loaded after the binary lexicon")

	analyzeCmd.Flags().Int("workers", 0, "Analyze words concurrently with this many workers")
	compileCmd.Flags().Bool("production", false, "Mark the dump as a production build")
	compileCmd.Flags().String("history", "", "Free-text history stored in the .bhis stamp")
	compileCmd.Flags().Bool("seed", true, "Include the language's seed entries")
	inspectCmd.Flags().String("mode", "", "Load mode (unpack-all, unpack-core, keep-packed)")

	rootCmd.AddCommand(analyzeCmd, expandCmd, compileCmd, inspectCmd, serveCmd)
}

// loadConfig applies the command-line overrides to the loaded config.
func loadConfig() (*morph.Config, *slog.Logger, error) {
	cfg, err := morph.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if language != "" {
		cfg.Language = language
	}
	if lexPath != "" {
		cfg.Lexicon.Path = lexPath
	}
	if entries != "" {
		cfg.Lexicon.Entries = entries
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func openEngine() (*morph.Engine, *morph.Config, *slog.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := cfg.Open(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open engine: %w", err)
	}
	return eng, cfg, logger, nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze word...",
	Short: "Analyze words and print their entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cfg, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Lexicon().Close()
		workers, _ := cmd.Flags().GetInt("workers")
		if workers <= 0 {
			workers = cfg.Engine.Workers
		}
		words, err := eng.AnalyzeAll(cmd.Context(), args, workers)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, w := range words {
			if w == nil {
				fmt.Fprintf(out, "%s\t(no analysis)\n", args[i])
				continue
			}
			fmt.Fprintln(out, eng.Lexicon().FormatEntry(w))
		}
		return nil
	},
}

var expandCmd = &cobra.Command{
	Use:   "expand text...",
	Short: "Print the canonical tokens of a text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cfg, _, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Lexicon().Close()
		an := morph.NewAnalyzer(eng, cfg.AnalyzerConfig())
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(an.Expand(strings.Join(args, " ")), " "))
		return nil
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile entries-file base",
	Short: "Compile text entries into a binary lexicon (base.blex, base.bidx, base.bhis)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		lex := morph.NewLexicon(cfg.Options(logger))
		lex.BootstrapCategories()
		if seed, _ := cmd.Flags().GetBool("seed"); seed {
			lang, err := morph.NewLanguage(cfg.Language)
			if err != nil {
				return err
			}
			for _, line := range lang.Seed {
				lex.MakeEntry(line)
			}
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		n, err := lex.LoadEntries(f)
		f.Close()
		if err != nil {
			return err
		}
		production, _ := cmd.Flags().GetBool("production")
		history, _ := cmd.Flags().GetString("history")
		lex.SetHistory(morph.History{Date: time.Now().UTC(), Production: production, Text: history})
		count, err := lex.Dump(args[1])
		if err != nil {
			return fmt.Errorf("dump %s: %w", args[1], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries read, %d records written to %s\n", n, count, args[1])
		return lex.Close()
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect base [word...]",
	Short: "Load a binary lexicon and print its stamp, counts and entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		modeName, _ := cmd.Flags().GetString("mode")
		if modeName == "" {
			modeName = cfg.Lexicon.LoadMode
		}
		mode, err := morph.ParseLoadMode(modeName)
		if err != nil {
			return err
		}
		lex := morph.NewLexicon(cfg.Options(logger))
		defer lex.Close()
		if _, err := lex.Load(args[0], cfg.Lexicon.UpTo, mode); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		h := lex.History()
		fmt.Fprintf(out, "format %s, written %s, production %t\n", h.Format, h.Date.Format(time.RFC3339), h.Production)
		if h.Text != "" {
			fmt.Fprintln(out, h.Text)
		}
		st := lex.Stats()
		fmt.Fprintf(out, "%d words (%d entries, %d packed, %d purged), %d atoms, %d categories\n",
			st.Words, st.Entries, st.Packed, st.Purged, st.Atoms, st.Categories)

		words := lex.Words()
		if len(args) > 1 {
			words = words[:0]
			for _, text := range args[1:] {
				if w := lex.LookupWord(text); w != nil {
					words = append(words, w)
				} else {
					fmt.Fprintf(out, "%s\t(not in lexicon)\n", text)
				}
			}
		}
		for _, w := range words {
			if _, err := lex.EntryOf(w); err != nil {
				return fmt.Errorf("%s: %w", w.Text(), err)
			}
			fmt.Fprintln(out, lex.FormatEntry(w))
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cfg, logger, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Lexicon().Close()
		api := httpapi.New(eng, morph.NewAnalyzer(eng, cfg.AnalyzerConfig()), logger)
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		errc := make(chan error, 1)
		go func() {
			logger.Info("listening", slog.String("addr", srv.Addr), slog.String("language", eng.Language().Name))
			errc <- srv.ListenAndServe()
		}()
		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		return eng.Lexicon().Close()
	},
}
