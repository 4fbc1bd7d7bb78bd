package tmux

import (
	"golang.org/x/sys/unix"

	"github.com/termpanel/termpanel/internal/proc"
)

// signalsByName is the set of job-control signals clients may deliver.
var signalsByName = map[string]unix.Signal{
	"SIGINT":  unix.SIGINT,
	"SIGTERM": unix.SIGTERM,
	"SIGKILL": unix.SIGKILL,
	"SIGSTOP": unix.SIGSTOP,
	"SIGCONT": unix.SIGCONT,
	"SIGTSTP": unix.SIGTSTP,
}

// LookupSignal resolves a signal name, defaulting to SIGINT for unknown
// names.
func LookupSignal(name string) unix.Signal {
	if sig, ok := signalsByName[name]; ok {
		return sig
	}
	return unix.SIGINT
}

// DeliverSignal sends sig to the session's foreground program. The pane
// process is the shell tmux started; the signal belongs to whatever it is
// currently running, so direct children get it when any exist and the
// pane process only as a fallback. Returns false on missing session or
// query failure, never panics.
func (m *Manager) DeliverSignal(id SessionID, sig unix.Signal) bool {
	panePID, err := m.PanePID(id)
	if err != nil {
		return false
	}

	children := proc.Children(panePID)
	if len(children) == 0 {
		return proc.Signal(panePID, sig) == nil
	}
	delivered := false
	for _, child := range children {
		if proc.Signal(child, sig) == nil {
			delivered = true
		}
	}
	return delivered
}
