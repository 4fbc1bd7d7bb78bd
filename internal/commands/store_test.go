package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/termpanel/termpanel/internal/errdefs"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commands.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s, path
}

func TestAddAndGet(t *testing.T) {
	s, path := newTestStore(t)

	cmds, err := s.Add("term-build", "Build", "make all")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Label != "Build" {
		t.Errorf("unexpected commands after add: %v", cmds)
	}

	// The file is rewritten wholesale on mutation.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("store file missing: %v", err)
	}
	var onDisk map[string][]Command
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("store file not valid JSON: %v", err)
	}
	if len(onDisk["term-build"]) != 1 {
		t.Errorf("on-disk state = %v", onDisk)
	}

	if got := s.Get("term-other"); len(got) != 0 {
		t.Errorf("unknown session should yield empty list, got %v", got)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)

	s.Add("term-a", "One", "echo 1")
	s.Add("term-a", "Two", "echo 2")

	cmds, err := s.Delete("term-a", 0)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Label != "Two" {
		t.Errorf("unexpected commands after delete: %v", cmds)
	}

	if _, err := s.Delete("term-a", 5); !errdefs.IsKind(err, errdefs.KindNotFound) {
		t.Errorf("out-of-range delete: expected not_found, got %v", err)
	}
	if _, err := s.Delete("term-none", 0); !errdefs.IsKind(err, errdefs.KindNotFound) {
		t.Errorf("unknown session delete: expected not_found, got %v", err)
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)

	s.Add("term-a", "One", "echo 1")
	if err := s.Clear("term-a"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if got := s.Get("term-a"); len(got) != 0 {
		t.Errorf("commands survived clear: %v", got)
	}
	// Clearing an absent session is a no-op.
	if err := s.Clear("term-a"); err != nil {
		t.Errorf("second Clear() error: %v", err)
	}
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.json")
	seed := map[string][]Command{
		"term-x": {{Label: "Deploy", Command: "./deploy.sh"}},
	}
	data, _ := json.Marshal(seed)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	defer s.Close()

	got := s.Get("term-x")
	if len(got) != 1 || got[0].Command != "./deploy.sh" {
		t.Errorf("startup load missed seed data: %v", got)
	}
}

func TestExternalEditReload(t *testing.T) {
	s, path := newTestStore(t)

	edited := map[string][]Command{
		"term-ext": {{Label: "External", Command: "true"}},
	}
	data, _ := json.Marshal(edited)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.Get("term-ext"); len(got) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("external edit never reloaded")
}
