package types

// WebSocket event names. Clients send the first group; the server sends
// the second.
const (
	EventSubscribe     = "subscribe"
	EventUnsubscribe   = "unsubscribe"
	EventInput         = "input"
	EventResize        = "resize"
	EventSignal        = "signal"
	EventScroll        = "scroll"
	EventGetScrollback = "get_scrollback"

	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventOutput       = "output"
	EventError        = "error"
	EventScrollback   = "scrollback"
)

// ClientEvent is an inbound real-time event.
type ClientEvent struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Keys    string `json:"keys,omitempty"`
	Signal  string `json:"signal,omitempty"` // e.g. "SIGINT"

	// Scroll control: command is enter/exit/up/down/page_up/page_down/
	// top/bottom.
	Command string `json:"command,omitempty"`
	Lines   int    `json:"lines,omitempty"`

	// Scrollback window, in tmux line addressing.
	StartLine *int `json:"start_line,omitempty"`
	EndLine   *int `json:"end_line,omitempty"`
}

// ServerEvent is an outbound real-time event.
type ServerEvent struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Data    string `json:"data,omitempty"`    // output payload
	Message string `json:"message,omitempty"` // error detail
	Status  string `json:"status,omitempty"`

	// Scrollback response fields.
	Content     string `json:"content,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	StartLine   int    `json:"start_line,omitempty"`
}
