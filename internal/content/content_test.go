// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package content

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

func TestSaveAndGetScript(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	id := s.SaveScript("breaking news text", "original editorial")
	if id == "" {
		t.Fatal("SaveScript returned empty id")
	}

	rec, err := s.GetScript(id)
	if err != nil {
		t.Fatalf("GetScript failed: %v", err)
	}
	if rec.Content != "breaking news text" {
		t.Errorf("content mismatch: %q", rec.Content)
	}
}

func TestGetScriptNotFound(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if _, err := s.GetScript("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	id := s1.SaveScript("persisted", "orig")

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, err := s2.GetScript(id); err != nil {
		t.Errorf("script lost across reload: %v", err)
	}
}

func TestCollectionCappedAtFifty(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	var lastID string
	for i := 0; i < 60; i++ {
		lastID = s.SaveScript(fmt.Sprintf("script %d", i), "orig")
	}

	scripts := s.Scripts()
	if len(scripts) != 50 {
		t.Errorf("expected 50 retained scripts, got %d", len(scripts))
	}
	// Newest first: the last save must still resolve.
	if scripts[0].ID != lastID {
		t.Errorf("newest script not first")
	}
}

func TestRenderScript(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	id := s.SaveScript("script body", "orig")

	out, err := s.Render(models.JobScript, id)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "script body") {
		t.Errorf("rendered message missing body: %q", out)
	}
}

func TestRenderVisual(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	id := s.SaveVisual(Visual{
		Videos:   []Video{{Title: "clip", URL: "https://example.com/v"}},
		Articles: []Article{{Title: "piece", URL: "https://example.com/a", Source: "Dawn"}},
	})

	out, err := s.Render(models.JobVisual, id)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"clip", "piece", "Dawn"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered visual missing %q", want)
		}
	}
}

func TestRenderUnknownKind(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := s.Render(models.JobKind("bogus"), "id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown kind, got %v", err)
	}
}

func TestOriginalMessageTruncated(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	long := strings.Repeat("x", 500)
	id := s.SaveScript("body", long)

	rec, err := s.GetScript(id)
	if err != nil {
		t.Fatalf("GetScript failed: %v", err)
	}
	if len(rec.OriginalMessage) > 203 {
		t.Errorf("original message not truncated: %d bytes", len(rec.OriginalMessage))
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	// 3-byte runes; 200 is not a multiple of 3, so a byte-indexed cut
	// would land mid-rune.
	long := strings.Repeat("新聞", 150)
	id := s.SaveScript("body", long)

	rec, err := s.GetScript(id)
	if err != nil {
		t.Fatalf("GetScript failed: %v", err)
	}
	if !utf8.ValidString(rec.OriginalMessage) {
		t.Errorf("truncated original message is not valid UTF-8: %q", rec.OriginalMessage)
	}
	if len(rec.OriginalMessage) > 203 {
		t.Errorf("original message not truncated: %d bytes", len(rec.OriginalMessage))
	}
}
