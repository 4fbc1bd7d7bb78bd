package tmux

import "strings"

// SessionID is a canonical, prefixed session name. All inbound names are
// normalized into one of these exactly once at the request boundary; the
// rest of the system never re-checks prefixes.
type SessionID string

func (id SessionID) String() string { return string(id) }

// Canonical normalizes a client-supplied session name into a SessionID.
// Names that already carry the prefix pass through unchanged.
func Canonical(prefix, name string) SessionID {
	if strings.HasPrefix(name, prefix) {
		return SessionID(name)
	}
	return SessionID(prefix + name)
}
