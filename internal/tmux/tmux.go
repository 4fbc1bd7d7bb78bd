// Package tmux drives the terminal multiplexer over its command-line
// interface. The exact argv shapes here are a compatibility surface:
// sessions created by termpanel are plain tmux sessions on a private
// socket and remain usable with a bare tmux client.
package tmux

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/termpanel/termpanel/internal/errdefs"
)

// Manager manages tmux sessions on a dedicated socket.
type Manager struct {
	bin             string
	socket          string
	scrollbackLimit int
}

// NewManager creates a tmux manager for the given binary and socket name.
func NewManager(bin, socket string, scrollbackLimit int) *Manager {
	return &Manager{bin: bin, socket: socket, scrollbackLimit: scrollbackLimit}
}

// run executes a tmux subcommand on the configured socket and returns its
// stdout.
func (m *Manager) run(args ...string) (string, error) {
	full := append([]string{"-L", m.socket}, args...)
	cmd := exec.Command(m.bin, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String(), fmt.Errorf("tmux %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// ListSessions returns all session names matching the given prefix.
func (m *Manager) ListSessions(prefix string) []string {
	out, err := m.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions.
		return nil
	}
	var sessions []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			sessions = append(sessions, line)
		}
	}
	return sessions
}

// SessionExists reports whether the session is known to the multiplexer.
func (m *Manager) SessionExists(id SessionID) bool {
	_, err := m.run("has-session", "-t", id.String())
	return err == nil
}

// CreateOptions configures session creation.
type CreateOptions struct {
	Cwd        string
	InitialCmd string // typed into the fresh shell after creation
	Shell      string // overrides the default-shell option when set
}

// CreateSession creates a detached session. The session starts small
// (80x24) and is resized when the first client attaches.
func (m *Manager) CreateSession(id SessionID, opts CreateOptions) error {
	if m.SessionExists(id) {
		return errdefs.ResourceBusy("session %s already exists", id)
	}

	args := []string{"new-session", "-d", "-s", id.String(), "-x", "80", "-y", "24"}
	if opts.Cwd != "" {
		args = append(args, "-c", opts.Cwd)
	}
	if opts.Shell != "" {
		args = append(args, opts.Shell)
	}
	if _, err := m.run(args...); err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}

	// Session options; failures here are not fatal to creation.
	m.run("set-option", "-t", id.String(), "mouse", "off")
	m.run("set-option", "-t", id.String(), "history-limit", strconv.Itoa(m.scrollbackLimit))
	m.run("set-window-option", "-t", id.String(), "aggressive-resize", "on")
	m.run("set-option", "-t", id.String(), "default-terminal", "xterm-256color")

	if opts.InitialCmd != "" {
		m.run("send-keys", "-t", id.String(), opts.InitialCmd, "Enter")
	}
	return nil
}

// DestroySession kills the session. Only a genuinely absent session maps
// to NotFound; an unreachable server or a permission problem surfaces as
// a plain error.
func (m *Manager) DestroySession(id SessionID) error {
	if _, err := m.run("kill-session", "-t", id.String()); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "can't find session") || strings.Contains(msg, "no server running") {
			return errdefs.Wrap(errdefs.KindNotFound, err, "session %s not found", id)
		}
		return fmt.Errorf("destroy session %s: %w", id, err)
	}
	return nil
}

// ResizeWindow resizes the session's logical window and refreshes
// attached clients.
func (m *Manager) ResizeWindow(id SessionID, cols, rows int) {
	m.run("resize-window", "-t", id.String(), "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	m.run("refresh-client", "-t", id.String())
}

// SendKeys types keys into the session literally.
func (m *Manager) SendKeys(id SessionID, keys string) error {
	_, err := m.run("send-keys", "-t", id.String(), "-l", keys)
	return err
}

// RunCommand types a command followed by Enter.
func (m *Manager) RunCommand(id SessionID, command string) error {
	_, err := m.run("send-keys", "-t", id.String(), "-l", command+"\n")
	return err
}

// SetEnvironment sets an environment variable in the session.
func (m *Manager) SetEnvironment(id SessionID, key, value string) error {
	_, err := m.run("set-environment", "-t", id.String(), key, value)
	return err
}

// UnsetEnvironment removes an environment variable from the session.
func (m *Manager) UnsetEnvironment(id SessionID, key string) error {
	_, err := m.run("set-environment", "-t", id.String(), "-u", key)
	return err
}

// CapturePane returns scrollback content between startLine and endLine
// (tmux line addressing: negative values reach into history). endLine nil
// captures through the visible bottom.
func (m *Manager) CapturePane(id SessionID, startLine int, endLine *int) (string, error) {
	args := []string{"capture-pane", "-t", id.String(), "-p", "-e", "-J", "-S", strconv.Itoa(startLine)}
	if endLine != nil {
		args = append(args, "-E", strconv.Itoa(*endLine))
	}
	out, err := m.run(args...)
	if err != nil {
		return "", err
	}
	return out, nil
}

// HistorySize returns the number of lines in the session's history buffer.
func (m *Manager) HistorySize(id SessionID) int {
	out, err := m.run("display-message", "-t", id.String(), "-p", "#{history_size}")
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}
	return n
}

// PanePID returns the pid of the session's controlling pane process.
func (m *Manager) PanePID(id SessionID) (int, error) {
	out, err := m.run("display-message", "-t", id.String(), "-p", "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse pane pid %q: %w", strings.TrimSpace(out), err)
	}
	return pid, nil
}

// EnterCopyMode puts the session in copy-mode for scrolling.
func (m *Manager) EnterCopyMode(id SessionID) {
	m.run("copy-mode", "-t", id.String())
}

// Scroll moves the copy-mode cursor. Direction is one of up, down,
// page_up, page_down, top, bottom, exit.
func (m *Manager) Scroll(id SessionID, direction string, lines int) {
	if lines < 1 {
		lines = 1
	}
	switch direction {
	case "up":
		m.run("send-keys", "-t", id.String(), "-N", strconv.Itoa(lines), "C-y")
	case "down":
		m.run("send-keys", "-t", id.String(), "-N", strconv.Itoa(lines), "C-e")
	case "page_up":
		m.run("send-keys", "-t", id.String(), "C-b")
	case "page_down":
		m.run("send-keys", "-t", id.String(), "C-f")
	case "top":
		m.run("send-keys", "-t", id.String(), "g")
	case "bottom":
		m.run("send-keys", "-t", id.String(), "G")
	case "exit":
		m.run("send-keys", "-t", id.String(), "q")
	}
}

// AttachCommand builds the interactive attach command a PTY bridge execs.
func (m *Manager) AttachCommand(id SessionID) *exec.Cmd {
	cmd := exec.Command(m.bin, "-L", m.socket, "attach", "-t", id.String())
	return cmd
}
