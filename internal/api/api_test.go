package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termpanel/termpanel/internal/bridge"
	"github.com/termpanel/termpanel/internal/commands"
	"github.com/termpanel/termpanel/internal/config"
	"github.com/termpanel/termpanel/internal/display"
	"github.com/termpanel/termpanel/internal/errdefs"
	"github.com/termpanel/termpanel/internal/tmux"
	"github.com/termpanel/termpanel/pkg/types"
)

// stubTmuxBin writes a tmux stand-in that behaves like a server with no
// sessions: probes and kills fail with tmux's own stderr wording.
func stubTmuxBin(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tmux")
	script := `#!/bin/sh
case "$*" in
  *has-session*|*kill-session*) echo "can't find session" >&2; exit 1 ;;
  *) echo "no server running" >&2; exit 1 ;;
esac
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write tmux stub: %v", err)
	}
	return path
}

func testServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	dir := t.TempDir()
	return newTestServer(t, dir, apiKey, stubTmuxBin(t, dir), "termpanel-api-test")
}

func newTestServer(t *testing.T, dir, apiKey, tmuxBin, socket string) *Server {
	t.Helper()

	cfg := &config.Config{
		APIKey:       apiKey,
		DataDir:      dir,
		SettingsFile: filepath.Join(dir, "settings.json"),
		CommandsFile: filepath.Join(dir, "commands.json"),
		TmuxBin:      tmuxBin,
		TmuxSocket:   socket,
		DefaultShell: "/bin/sh",
		DefaultCols:  120,
		DefaultRows:  40,
	}
	if err := cfg.SetPrefix("term-"); err != nil {
		t.Fatalf("SetPrefix: %v", err)
	}

	mux := tmux.NewManager(cfg.TmuxBin, cfg.TmuxSocket, 1000)
	br := bridge.New(mux, bridge.Options{Grace: time.Second})
	t.Cleanup(br.CloseAll)

	displays := display.NewManager(display.Options{
		XvfbBin:       "/nonexistent/Xvfb",
		X11vncBin:     "/nonexistent/x11vnc",
		WebsockifyBin: "/nonexistent/websockify",
		X11Dir:        dir,
	})
	t.Cleanup(displays.CloseAll)

	store, err := commands.NewStore(cfg.CommandsFile)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)

	return NewServer(cfg, mux, br, displays, store)
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	s := testServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s := testServer(t, "secret")

	rec := doJSON(t, s, http.MethodGet, "/api/sessions", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/sessions", nil, map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong key status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/sessions", nil, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("good key status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIKeyQueryParam(t *testing.T) {
	s := testServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/api/sessions?api_key=secret", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query key status = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWithEmptyKey(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodGet, "/api/sessions", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestListSessionsEmpty(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodGet, "/api/sessions", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var list types.SessionList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 0 || list.Sessions == nil {
		t.Fatalf("list = %+v, want empty non-nil sessions", list)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodDelete, "/api/sessions/ghost", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Kind != string(errdefs.KindNotFound) {
		t.Fatalf("kind = %q, want %q", resp.Kind, errdefs.KindNotFound)
	}
}

func TestRunCommandMissingSession(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodPost, "/api/sessions/ghost/command",
		types.RunCommandRequest{Command: "ls"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRunCommandRequiresCommand(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodPost, "/api/sessions/sh/command",
		types.RunCommandRequest{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCommandsCRUD(t *testing.T) {
	s := testServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/commands/term-main",
		types.CommandEntry{Label: "build", Command: "make"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/commands/term-main",
		types.CommandEntry{Label: "test", Command: "make test"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/commands/term-main", nil, nil)
	var sc types.SessionCommands
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sc.Commands) != 2 || sc.Commands[0].Label != "build" {
		t.Fatalf("commands = %+v", sc.Commands)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/commands/term-main/0", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sc.Commands) != 1 || sc.Commands[0].Label != "test" {
		t.Fatalf("after delete commands = %+v", sc.Commands)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/commands/term-main/7", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("out-of-range delete status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/commands/term-main", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/commands/term-main", nil, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sc.Commands) != 0 {
		t.Fatalf("after clear commands = %+v", sc.Commands)
	}
}

func TestAddCommandValidation(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodPost, "/api/commands/term-main",
		types.CommandEntry{Label: "no command"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDisplaysEmptyAndLayout(t *testing.T) {
	s := testServer(t, "")

	rec := doJSON(t, s, http.MethodGet, "/api/displays", nil, nil)
	var list types.DisplayList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 0 {
		t.Fatalf("count = %d, want 0", list.Count)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/displays/layout", nil, nil)
	var layout struct {
		Panels []display.PanelInfo `json:"panels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &layout); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(layout.Panels) != display.PanelCount {
		t.Fatalf("panels = %d, want %d", len(layout.Panels), display.PanelCount)
	}
	if layout.Panels[0].DisplayNum != display.DisplayBase {
		t.Fatalf("panel 0 display = %d, want %d", layout.Panels[0].DisplayNum, display.DisplayBase)
	}
}

func TestCreateDisplayDependencyMissing(t *testing.T) {
	s := testServer(t, "")
	num := 100
	rec := doJSON(t, s, http.MethodPost, "/api/displays",
		types.CreateDisplayRequest{DisplayNum: &num}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Kind != string(errdefs.KindDependencyMissing) {
		t.Fatalf("kind = %q, want %q", resp.Kind, errdefs.KindDependencyMissing)
	}
}

func TestGetDisplayNotRunning(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodGet, "/api/displays/100", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateDisplayRejectsBadAddress(t *testing.T) {
	s := testServer(t, "")
	num := 250
	rec := doJSON(t, s, http.MethodPost, "/api/displays",
		types.CreateDisplayRequest{DisplayNum: &num}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for out-of-range display", rec.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := testServer(t, "")

	rec := doJSON(t, s, http.MethodGet, "/api/config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var snap map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap["session_prefix"] != "term-" {
		t.Fatalf("session_prefix = %v, want term-", snap["session_prefix"])
	}

	prefix := "dev-"
	rec = doJSON(t, s, http.MethodPatch, "/api/config",
		updateConfigRequest{SessionPrefix: &prefix}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap["session_prefix"] != "dev-" {
		t.Fatalf("session_prefix = %v, want dev-", snap["session_prefix"])
	}

	empty := ""
	rec = doJSON(t, s, http.MethodPatch, "/api/config",
		updateConfigRequest{SessionPrefix: &empty}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prefix status = %d, want 400", rec.Code)
	}
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errdefs.NotFound("x"), http.StatusNotFound},
		{errdefs.ResourceBusy("x"), http.StatusConflict},
		{errdefs.DependencyMissing("x"), http.StatusServiceUnavailable},
		{errdefs.ProcessStartFailure("x"), http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", errdefs.NotFound("inner")), http.StatusNotFound},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		s := testServer(t, "")
		c := s.echo.NewContext(req, rec)
		if err := respondError(c, tc.err); err != nil {
			t.Fatalf("respondError: %v", err)
		}
		if rec.Code != tc.want {
			t.Errorf("respondError(%v) status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

// dialWS starts an HTTP server around s and dials its event socket.
func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.echo)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, ev types.ClientEvent) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func wsRead(t *testing.T, conn *websocket.Conn) types.ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev types.ServerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal event %q: %v", payload, err)
	}
	return ev
}

// wsReadUntil skips intermediate events (output replay, mainly) until one
// of the wanted type arrives. Error events fail the test.
func wsReadUntil(t *testing.T, conn *websocket.Conn, want string) types.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ev := wsRead(t, conn)
		if ev.Type == want {
			return ev
		}
		if ev.Type == types.EventError {
			t.Fatalf("error event while waiting for %s: %s", want, ev.Message)
		}
	}
	t.Fatalf("never received %s event", want)
	return types.ServerEvent{}
}

func TestEventSocketGreeting(t *testing.T) {
	s := testServer(t, "")
	conn := dialWS(t, s)

	if ev := wsRead(t, conn); ev.Type != types.EventConnected {
		t.Fatalf("first event = %q, want %q", ev.Type, types.EventConnected)
	}
}

func TestSubscribePrefixesSessionName(t *testing.T) {
	s := testServer(t, "")
	conn := dialWS(t, s)
	wsReadUntil(t, conn, types.EventConnected)

	// A bare name must be canonicalized before any lookup: the stub knows
	// no sessions, so the NotFound error has to carry the prefixed form.
	wsSend(t, conn, types.ClientEvent{Type: types.EventSubscribe, Session: "ghost", Cols: 80, Rows: 24})
	ev := wsRead(t, conn)
	if ev.Type != types.EventError {
		t.Fatalf("event = %q, want error", ev.Type)
	}
	if ev.Session != "term-ghost" {
		t.Errorf("error session = %q, want term-ghost", ev.Session)
	}
	if !strings.Contains(ev.Message, "term-ghost") {
		t.Errorf("error message should name the canonical session: %q", ev.Message)
	}
}

func TestSubscribeRequiresSession(t *testing.T) {
	s := testServer(t, "")
	conn := dialWS(t, s)
	wsReadUntil(t, conn, types.EventConnected)

	wsSend(t, conn, types.ClientEvent{Type: types.EventSubscribe})
	ev := wsRead(t, conn)
	if ev.Type != types.EventError || !strings.Contains(ev.Message, "session is required") {
		t.Fatalf("event = %+v, want session-is-required error", ev)
	}
}

func TestEventSocketLiveSession(t *testing.T) {
	tmuxBin, err := exec.LookPath("tmux")
	if err != nil {
		t.Skip("tmux not installed")
	}
	dir := t.TempDir()
	socket := "termpanel-api-live"
	t.Cleanup(func() {
		exec.Command(tmuxBin, "-L", socket, "kill-server").Run()
	})
	s := newTestServer(t, dir, "", tmuxBin, socket)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions",
		types.CreateSessionRequest{Name: "build"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created types.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Session != "term-build" {
		t.Fatalf("created session = %q, want term-build", created.Session)
	}

	conn := dialWS(t, s)
	wsReadUntil(t, conn, types.EventConnected)

	// Subscribe with the bare name; the acknowledgment carries the
	// canonical one.
	wsSend(t, conn, types.ClientEvent{Type: types.EventSubscribe, Session: "build", Cols: 80, Rows: 24})
	sub := wsReadUntil(t, conn, types.EventSubscribed)
	if sub.Session != "term-build" {
		t.Fatalf("subscribed session = %q, want term-build", sub.Session)
	}

	// Typed input comes back as output through the PTY stream.
	wsSend(t, conn, types.ClientEvent{Type: types.EventInput, Session: "build", Keys: "echo live-marker\n"})
	deadline := time.Now().Add(10 * time.Second)
	var seen strings.Builder
	for {
		if time.Now().After(deadline) {
			t.Fatalf("output never contained marker, got: %q", seen.String())
		}
		ev := wsRead(t, conn)
		if ev.Type != types.EventOutput {
			continue
		}
		if ev.Session != "term-build" {
			t.Fatalf("output session = %q, want term-build", ev.Session)
		}
		seen.WriteString(ev.Data)
		if strings.Contains(seen.String(), "live-marker") {
			break
		}
	}

	wsSend(t, conn, types.ClientEvent{Type: types.EventUnsubscribe, Session: "build"})
	unsub := wsReadUntil(t, conn, types.EventUnsubscribed)
	if unsub.Session != "term-build" {
		t.Fatalf("unsubscribed session = %q, want term-build", unsub.Session)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/sessions/build", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCommandsFilePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commands.json")

	store, err := commands.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Add("term-a", "ls", "ls -la"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	store.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "ls -la") {
		t.Fatalf("persisted file missing command: %s", raw)
	}
}
