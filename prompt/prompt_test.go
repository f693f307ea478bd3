package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultWhenMissing(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "prompt.txt")}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != DefaultPrompt {
		t.Fatalf("expected default prompt")
	}
}

func TestLoadDefaultWhenBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := (&Store{Path: path}).Load()
	if err != nil || got != DefaultPrompt {
		t.Fatalf("expected default prompt, got %q err=%v", got, err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "prompt.txt")}
	if err := s.Save("  Summarize briefly.  "); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "Summarize briefly." {
		t.Fatalf("unexpected prompt %q", got)
	}
	if err := s.Save("   "); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestSaveOverwritesInNewDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prompt.txt")
	s := &Store{Path: path}
	if err := s.Save("one"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("two"); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two\n" {
		t.Fatalf("unexpected content %q", data)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the prompt file, got %d entries", len(entries))
	}
}
