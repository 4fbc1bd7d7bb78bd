// Package commands persists per-session quick-command lists. The backing
// file is the panel's only durable state: read once at startup, rewritten
// wholesale on every mutation, and watched so edits made outside the
// server show up without a restart.
package commands

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/termpanel/termpanel/internal/errdefs"
)

// Command is one quick-command button: a label and the command it types.
type Command struct {
	Label   string `json:"label"`
	Command string `json:"command"`
}

// Store maps session identifiers to their quick-command lists.
type Store struct {
	path string

	mu       sync.Mutex
	commands map[string][]Command
	saving   bool // suppresses watcher reload for our own writes

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore loads the store from path, creating an empty store if the
// file does not exist, and starts watching the file for external edits.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		commands: make(map[string][]Command),
		done:     make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("commands: file watching disabled: %v", err)
		return s, nil
	}
	// Watch the directory: editors replace files rather than write in
	// place, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		log.Printf("commands: file watching disabled: %v", err)
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.mu.Lock()
			skip := s.saving
			s.mu.Unlock()
			if skip {
				continue
			}
			if err := s.load(); err != nil {
				log.Printf("commands: reload after external edit failed: %v", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("commands: watcher error: %v", err)
		}
	}
}

// Close stops the file watcher.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	loaded := make(map[string][]Command)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	s.mu.Lock()
	s.commands = loaded
	s.mu.Unlock()
	return nil
}

// save rewrites the file wholesale. Caller holds s.mu.
func (s *Store) save() error {
	s.saving = true
	defer func() { s.saving = false }()

	data, err := json.MarshalIndent(s.commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// All returns every session's commands.
func (s *Store) All() map[string][]Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Command, len(s.commands))
	for session, cmds := range s.commands {
		out[session] = append([]Command(nil), cmds...)
	}
	return out
}

// Get returns the commands for one session. A session with no commands
// yields an empty list, not an error.
func (s *Store) Get(session string) []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands[session]...)
}

// Add appends a command to a session's list and persists.
func (s *Store) Add(session, label, command string) ([]Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[session] = append(s.commands[session], Command{Label: label, Command: command})
	if err := s.save(); err != nil {
		return nil, err
	}
	return append([]Command(nil), s.commands[session]...), nil
}

// Delete removes the command at index from a session's list and persists.
func (s *Store) Delete(session string, index int) ([]Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds, ok := s.commands[session]
	if !ok {
		return nil, errdefs.NotFound("no commands for session %s", session)
	}
	if index < 0 || index >= len(cmds) {
		return nil, errdefs.NotFound("command index %d out of range for session %s", index, session)
	}
	s.commands[session] = append(cmds[:index], cmds[index+1:]...)
	if err := s.save(); err != nil {
		return nil, err
	}
	return append([]Command(nil), s.commands[session]...), nil
}

// Clear removes all commands for a session and persists.
func (s *Store) Clear(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[session]; !ok {
		return nil
	}
	delete(s.commands, session)
	return s.save()
}
