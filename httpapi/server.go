// Package httpapi exposes a morph engine as a JSON REST API.
//
// Endpoints:
//
//	GET  /api/analyze?word=<word>
//	POST /api/expand       body: {"text":"..."}
//	GET  /api/entry?word=<word>
//	GET  /api/categories
//	GET  /api/stats
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rs/cors"
	"github.com/wizenheimer/morph"
)

// ---- JSON response types ------------------------------------------------

type categoryJSON struct {
	Name    string `json:"name"`
	Penalty int    `json:"penalty"`
}

type senseJSON struct {
	Category string   `json:"category"`
	Roots    []string `json:"roots,omitempty"`
	Features []string `json:"features,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`
	Suffix   string   `json:"suffix,omitempty"`
	Penalty  int      `json:"penalty"`
	Name     string   `json:"name,omitempty"`
}

type wordResponse struct {
	Word       string         `json:"word"`
	Entry      string         `json:"entry"`
	Categories []categoryJSON `json:"categories"`
	Roots      []string       `json:"roots,omitempty"`
	Features   []string       `json:"features,omitempty"`
	Senses     []senseJSON    `json:"senses,omitempty"`
	Number     *float64       `json:"number,omitempty"`
	Guessed    bool           `json:"guessed"`
}

type expandResponse struct {
	Tokens []string `json:"tokens"`
}

type categoryNode struct {
	Name          string   `json:"name"`
	Subcategories []string `json:"subcategories,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves one engine.
type Server struct {
	eng    *morph.Engine
	an     *morph.Analyzer
	logger *slog.Logger
}

// New builds a server. A nil logger means slog.Default().
func New(eng *morph.Engine, an *morph.Analyzer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{eng: eng, an: an, logger: logger}
}

// Handler returns the API routes wrapped in a CORS handler for origins.
func (s *Server) Handler(origins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/expand", s.handleExpand)
	mux.HandleFunc("/api/entry", s.handleEntry)
	mux.HandleFunc("/api/categories", s.handleCategories)
	mux.HandleFunc("/api/stats", s.handleStats)
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// ---- helpers ------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", slog.Any("err", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) toWordJSON(word *morph.Word) wordResponse {
	lex := s.eng.Lexicon()
	resp := wordResponse{Word: word.Text(), Entry: lex.FormatEntry(word)}
	e := lex.Entry(word)
	if e == nil {
		return resp
	}
	for p, level := range e.Categories {
		for _, c := range level {
			resp.Categories = append(resp.Categories, categoryJSON{Name: lex.CategoryName(c), Penalty: p})
		}
	}
	for _, r := range s.eng.Roots(word) {
		resp.Roots = append(resp.Roots, r.Text())
	}
	for _, f := range e.Features {
		resp.Features = append(resp.Features, lex.AtomName(f))
	}
	wordText := func(id morph.WordID) string {
		if x := lex.Word(id); x != nil {
			return x.Text()
		}
		return ""
	}
	for _, sn := range e.Senses {
		sj := senseJSON{
			Category: lex.CategoryName(sn.Category),
			Prefix:   wordText(sn.Prefix),
			Suffix:   wordText(sn.Suffix),
			Penalty:  sn.Penalty,
			Name:     sn.Name,
		}
		for _, r := range sn.Roots {
			sj.Roots = append(sj.Roots, wordText(r))
		}
		for _, f := range sn.Features {
			sj.Features = append(sj.Features, lex.AtomName(f))
		}
		resp.Senses = append(resp.Senses, sj)
	}
	if e.HasNumber {
		n := e.Number
		resp.Number = &n
	}
	resp.Guessed = e.Guessed
	return resp
}

// ---- handlers -----------------------------------------------------------

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	text := r.URL.Query().Get("word")
	if text == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'word' query parameter")
		return
	}
	word := s.eng.Analyze(text)
	if word == nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%q cannot be analyzed", text))
		return
	}
	s.writeJSON(w, http.StatusOK, s.toWordJSON(word))
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		s.writeError(w, http.StatusBadRequest, "body must be JSON with a non-empty 'text' field")
		return
	}
	tokens := s.an.Expand(body.Text)
	if tokens == nil {
		tokens = []string{}
	}
	s.writeJSON(w, http.StatusOK, expandResponse{Tokens: tokens})
}

// handleEntry reports what the lexicon already holds, without analyzing.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	text := r.URL.Query().Get("word")
	if text == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'word' query parameter")
		return
	}
	word := s.eng.Lexicon().LookupWord(text)
	if word == nil || !word.HasEntry() {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no entry for %q", text))
		return
	}
	s.writeJSON(w, http.StatusOK, s.toWordJSON(word))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	lex := s.eng.Lexicon()
	cats := lex.Categories()
	out := make([]categoryNode, 0, len(cats))
	for _, c := range cats {
		node := categoryNode{Name: c.Name()}
		for _, sub := range lex.Subcategories(c) {
			node.Subcategories = append(node.Subcategories, sub.Name())
		}
		out = append(out, node)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.eng.Lexicon().Stats())
}
