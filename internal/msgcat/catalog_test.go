package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("session.player_joined", map[string]any{"Name": "Alice"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "Alice") {
		t.Fatalf("rendered = %q", got)
	}

	got, err = c.Render("result.win", map[string]any{"Name": "Bob", "Amount": 19.0})
	if err != nil {
		t.Fatalf("Render win: %v", err)
	}
	if !strings.Contains(got, "19.00") {
		t.Fatalf("amount not formatted: %q", got)
	}
}

func TestMissingKeyAndFallback(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("no.such.key", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if got := c.RenderOr("no.such.key", nil, "fallback"); got != "fallback" {
		t.Fatalf("fallback = %q", got)
	}
	// missing template data is an error, not silent emptiness
	if _, err := c.Render("session.player_joined", map[string]any{}); err == nil {
		t.Fatalf("expected missingkey error")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "session:\n  player_joined: \"welcome {{.Name}}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "10-local.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("session.player_joined", map[string]any{"Name": "Z"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "welcome Z" {
		t.Fatalf("override not applied: %q", got)
	}
	// untouched keys keep their defaults
	if _, err := c.Render("error.illegal_move", nil); err != nil {
		t.Fatalf("default lost: %v", err)
	}
}

func TestConflictingOverridesRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x:\n  y: \"v\"\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate-key error")
	}
}
