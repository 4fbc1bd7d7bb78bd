package types

// CreateSessionRequest is the request body for creating a terminal
// session. Name is optional; the server generates one when empty.
type CreateSessionRequest struct {
	Name    string `json:"name,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Command string `json:"command,omitempty"` // typed into the fresh shell
	Shell   string `json:"shell,omitempty"`   // overrides the default shell
}

// SessionResponse carries the canonical session name back to the caller.
type SessionResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// SessionList is the response for listing sessions.
type SessionList struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

// RunCommandRequest runs a command in a session via key injection.
type RunCommandRequest struct {
	Command string `json:"command"`
}

// BindDisplayRequest associates a display with a session.
type BindDisplayRequest struct {
	DisplayNum int `json:"display_num"`
}

// BindDisplayResponse reports the binding the session adopted.
type BindDisplayResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Display string `json:"display"`
}

// CommandEntry is one quick-command button.
type CommandEntry struct {
	Label   string `json:"label"`
	Command string `json:"command"`
}

// SessionCommands is a session's quick-command list.
type SessionCommands struct {
	Session  string         `json:"session"`
	Commands []CommandEntry `json:"commands"`
}

// ErrorResponse is the uniform error body: a stable kind tag plus a
// human-readable message.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
