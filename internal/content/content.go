// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package content implements the content store boundary: generated
// scripts and visual-suggestion records referenced by delivery jobs.
// The write path belongs to the relay pipeline; the delivery queue only
// resolves and renders.
package content

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/store"
)

// ErrNotFound is returned when a content id does not resolve. Delivery
// jobs referencing such ids fail immediately and are not retried.
var ErrNotFound = errors.New("content not found")

// keepLast caps each collection; older records are dropped on save.
const keepLast = 50

// Script is one generated news script.
type Script struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	OriginalMessage string    `json:"original_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Video is one suggested background video.
type Video struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Channel string `json:"channel,omitempty"`
}

// Article is one suggested reference article.
type Article struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

// ImageSuggestion is one suggested image search.
type ImageSuggestion struct {
	SearchTerm string `json:"search_term"`
	SearchURL  string `json:"search_url"`
}

// Visual is one set of visual-content suggestions.
type Visual struct {
	ID              string            `json:"id"`
	Videos          []Video           `json:"videos,omitempty"`
	Articles        []Article         `json:"articles,omitempty"`
	Images          []ImageSuggestion `json:"images,omitempty"`
	OriginalMessage string            `json:"original_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

type scriptsFile struct {
	Scripts []Script `json:"scripts"`
}

type visualsFile struct {
	Visuals []Visual `json:"visuals"`
}

// Store holds both content collections, persisted as scripts.json and
// visuals.json under the data directory. Single writer per spec; all
// mutation goes through the store mutex.
type Store struct {
	mu      sync.Mutex
	dir     string
	scripts []Script
	visuals []Visual
}

// NewStore loads existing collections from dir, tolerating missing files.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir}

	var sf scriptsFile
	if err := store.Load(s.scriptsPath(), &sf); err != nil && !errors.Is(err, store.ErrNotExist) {
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	s.scripts = sf.Scripts

	var vf visualsFile
	if err := store.Load(s.visualsPath(), &vf); err != nil && !errors.Is(err, store.ErrNotExist) {
		return nil, fmt.Errorf("load visuals: %w", err)
	}
	s.visuals = vf.Visuals

	return s, nil
}

func (s *Store) scriptsPath() string { return filepath.Join(s.dir, "scripts.json") }
func (s *Store) visualsPath() string { return filepath.Join(s.dir, "visuals.json") }

// SaveScript prepends a new script record and persists the collection.
// Returns the new record's id.
func (s *Store) SaveScript(text, originalMessage string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Script{
		ID:              uuid.NewString(),
		Content:         text,
		OriginalMessage: truncate(originalMessage, 200),
		CreatedAt:       time.Now().UTC(),
	}
	s.scripts = append([]Script{rec}, s.scripts...)
	if len(s.scripts) > keepLast {
		s.scripts = s.scripts[:keepLast]
	}

	if err := store.Save(s.scriptsPath(), scriptsFile{Scripts: s.scripts}); err != nil {
		logging.Err(err).Msg("failed to persist scripts, in-memory state remains authoritative")
	}
	return rec.ID
}

// SaveVisual prepends a new visual record and persists the collection.
func (s *Store) SaveVisual(v Visual) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.ID = uuid.NewString()
	v.OriginalMessage = truncate(v.OriginalMessage, 200)
	v.CreatedAt = time.Now().UTC()
	s.visuals = append([]Visual{v}, s.visuals...)
	if len(s.visuals) > keepLast {
		s.visuals = s.visuals[:keepLast]
	}

	if err := store.Save(s.visualsPath(), visualsFile{Visuals: s.visuals}); err != nil {
		logging.Err(err).Msg("failed to persist visuals, in-memory state remains authoritative")
	}
	return v.ID
}

// Scripts returns the script collection, newest first.
func (s *Store) Scripts() []Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Script(nil), s.scripts...)
}

// Visuals returns the visual collection, newest first.
func (s *Store) Visuals() []Visual {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Visual(nil), s.visuals...)
}

// GetScript resolves a script by id.
func (s *Store) GetScript(id string) (Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.scripts {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Script{}, ErrNotFound
}

// GetVisual resolves a visual by id.
func (s *Store) GetVisual(id string) (Visual, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.visuals {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Visual{}, ErrNotFound
}

// Render resolves a content id for the given job kind and formats the
// outgoing message text. Returns ErrNotFound when the id does not
// resolve in the kind's collection.
func (s *Store) Render(kind models.JobKind, id string) (string, error) {
	switch kind {
	case models.JobScript:
		rec, err := s.GetScript(id)
		if err != nil {
			return "", err
		}
		return renderScript(rec), nil
	case models.JobVisual:
		rec, err := s.GetVisual(id)
		if err != nil {
			return "", err
		}
		return renderVisual(rec), nil
	default:
		return "", fmt.Errorf("unknown job kind %q: %w", kind, ErrNotFound)
	}
}

func renderScript(rec Script) string {
	var b strings.Builder
	b.WriteString("*Vision Point News Script*\n\n")
	b.WriteString(rec.Content)
	b.WriteString("\n\n---\nSent via Newsrelay dashboard")
	return b.String()
}

func renderVisual(rec Visual) string {
	var b strings.Builder
	b.WriteString("*Visual Content Suggestions*\n")

	if len(rec.Videos) > 0 {
		b.WriteString("\nVideos (background footage):\n")
		for i, v := range rec.Videos {
			fmt.Fprintf(&b, "%d. %s\n   %s | %s\n", i+1, v.Title, v.Channel, v.URL)
		}
	}
	if len(rec.Articles) > 0 {
		b.WriteString("\nArticles (reference material):\n")
		for i, a := range rec.Articles {
			fmt.Fprintf(&b, "%d. %s\n   %s | %s\n", i+1, a.Title, a.Source, a.URL)
		}
	}
	if len(rec.Images) > 0 {
		b.WriteString("\nImage searches:\n")
		for i, img := range rec.Images {
			fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, img.SearchTerm, img.SearchURL)
		}
	}
	if len(rec.Videos) == 0 && len(rec.Articles) == 0 && len(rec.Images) == 0 {
		b.WriteString("\nNo related visual content found for this topic.\n")
	}

	b.WriteString("\n---\nSent via Newsrelay dashboard")
	return b.String()
}

// truncate caps s at n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
