package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/termpanel/termpanel/internal/tmux"
	"github.com/termpanel/termpanel/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth happens in the API-key middleware; the origin is not a trust
	// boundary for a panel that binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected control-panel socket. A client can subscribe
// to any number of sessions; output for all of them funnels through a
// single writer goroutine so concurrent PTY readers never interleave
// writes on the wire.
type wsClient struct {
	id   string
	conn *websocket.Conn

	send chan types.ServerEvent
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	sessions map[tmux.SessionID]struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan types.ServerEvent, 256),
		done:     make(chan struct{}),
		sessions: make(map[tmux.SessionID]struct{}),
	}
}

// enqueue queues an event for the writer goroutine. Events are dropped
// when the client cannot drain its buffer; a stalled browser must not
// block the PTY reader.
func (cl *wsClient) enqueue(ev types.ServerEvent) {
	select {
	case cl.send <- ev:
	case <-cl.done:
	default:
		log.Printf("ws: client %s send buffer full, dropping %s event", cl.id, ev.Type)
	}
}

func (cl *wsClient) close() {
	cl.once.Do(func() { close(cl.done) })
}

func (cl *wsClient) writeLoop() {
	for {
		select {
		case ev := <-cl.send:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				cl.close()
				return
			}
		case <-cl.done:
			return
		}
	}
}

func (cl *wsClient) track(id tmux.SessionID) {
	cl.mu.Lock()
	cl.sessions[id] = struct{}{}
	cl.mu.Unlock()
}

func (cl *wsClient) untrack(id tmux.SessionID) {
	cl.mu.Lock()
	delete(cl.sessions, id)
	cl.mu.Unlock()
}

func (cl *wsClient) tracked() []tmux.SessionID {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	ids := make([]tmux.SessionID, 0, len(cl.sessions))
	for id := range cl.sessions {
		ids = append(ids, id)
	}
	return ids
}

// eventSocket upgrades the request and dispatches client events until the
// socket closes. Disconnect releases every subscription the client held.
func (s *Server) eventSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := newWSClient(conn)
	go cl.writeLoop()

	cl.enqueue(types.ServerEvent{Type: types.EventConnected})

	defer func() {
		for _, id := range cl.tracked() {
			s.bridge.Release(id, cl.id)
		}
		cl.close()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var ev types.ClientEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			cl.enqueue(types.ServerEvent{
				Type:    types.EventError,
				Message: "malformed event",
			})
			continue
		}
		s.dispatch(cl, ev)
	}
}

// dispatch routes one inbound event. The session name is canonicalized
// here, exactly once; handlers, the bridge, and every outbound event
// carry the prefixed form regardless of what the client sent.
func (s *Server) dispatch(cl *wsClient, ev types.ClientEvent) {
	if ev.Session == "" {
		cl.enqueue(types.ServerEvent{
			Type:    types.EventError,
			Message: "session is required",
		})
		return
	}
	id := s.canonical(ev.Session)

	switch ev.Type {
	case types.EventSubscribe:
		s.handleSubscribe(cl, id, ev)
	case types.EventUnsubscribe:
		s.handleUnsubscribe(cl, id)
	case types.EventInput:
		if err := s.bridge.Write(id, ev.Keys); err != nil {
			cl.enqueue(errorEvent(id, err))
		}
	case types.EventResize:
		if ev.Cols > 0 && ev.Rows > 0 {
			s.bridge.Resize(id, ev.Cols, ev.Rows)
		}
	case types.EventSignal:
		sig := tmux.LookupSignal(ev.Signal)
		if !s.mux.DeliverSignal(id, sig) {
			cl.enqueue(types.ServerEvent{
				Type:    types.EventError,
				Session: id.String(),
				Message: "no process to signal",
			})
		}
	case types.EventScroll:
		s.handleScroll(id, ev)
	case types.EventGetScrollback:
		s.handleScrollback(cl, id, ev)
	default:
		cl.enqueue(types.ServerEvent{
			Type:    types.EventError,
			Message: "unknown event type " + ev.Type,
		})
	}
}

func (s *Server) handleSubscribe(cl *wsClient, id tmux.SessionID, ev types.ClientEvent) {
	cols, rows := ev.Cols, ev.Rows
	if cols <= 0 {
		cols = s.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = s.cfg.DefaultRows
	}

	sink := func(data string) {
		cl.enqueue(types.ServerEvent{
			Type:    types.EventOutput,
			Session: id.String(),
			Data:    data,
		})
	}
	if _, err := s.bridge.Acquire(id, cl.id, cols, rows, sink); err != nil {
		cl.enqueue(errorEvent(id, err))
		return
	}
	cl.track(id)
	cl.enqueue(types.ServerEvent{
		Type:    types.EventSubscribed,
		Session: id.String(),
	})

	// Replay the visible screen so a fresh panel is not blank until the
	// next output arrives.
	if content, err := s.mux.CapturePane(id, 0, nil); err == nil && content != "" {
		sink(content)
	}
}

func (s *Server) handleUnsubscribe(cl *wsClient, id tmux.SessionID) {
	s.bridge.Release(id, cl.id)
	cl.untrack(id)
	cl.enqueue(types.ServerEvent{
		Type:    types.EventUnsubscribed,
		Session: id.String(),
	})
}

func (s *Server) handleScroll(id tmux.SessionID, ev types.ClientEvent) {
	switch ev.Command {
	case "enter":
		s.mux.EnterCopyMode(id)
	case "exit":
		s.mux.Scroll(id, "exit", 0)
	default:
		s.mux.Scroll(id, ev.Command, ev.Lines)
	}
}

func (s *Server) handleScrollback(cl *wsClient, id tmux.SessionID, ev types.ClientEvent) {
	histSize := s.mux.HistorySize(id)

	start := -histSize
	if ev.StartLine != nil {
		start = *ev.StartLine
	}
	content, err := s.mux.CapturePane(id, start, ev.EndLine)
	if err != nil {
		cl.enqueue(errorEvent(id, err))
		return
	}
	cl.enqueue(types.ServerEvent{
		Type:        types.EventScrollback,
		Session:     id.String(),
		Content:     content,
		HistorySize: histSize,
		StartLine:   start,
	})
}

func errorEvent(id tmux.SessionID, err error) types.ServerEvent {
	return types.ServerEvent{
		Type:    types.EventError,
		Session: id.String(),
		Message: err.Error(),
	}
}
