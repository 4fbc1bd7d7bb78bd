package bridge

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/termpanel/termpanel/internal/errdefs"
	"github.com/termpanel/termpanel/internal/proc"
	"github.com/termpanel/termpanel/internal/tmux"
)

// fakeMux stands in for the tmux manager. Attach commands run a plain
// shell on the PTY, which is enough to exercise the real reader loop.
type fakeMux struct {
	mu       sync.Mutex
	sessions map[tmux.SessionID]bool
	sent     []string
	resizes  int
}

func newFakeMux(sessions ...tmux.SessionID) *fakeMux {
	m := &fakeMux{sessions: make(map[tmux.SessionID]bool)}
	for _, s := range sessions {
		m.sessions[s] = true
	}
	return m
}

func (m *fakeMux) SessionExists(id tmux.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *fakeMux) ResizeWindow(id tmux.SessionID, cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resizes++
}

func (m *fakeMux) SendKeys(id tmux.SessionID, keys string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, keys)
	return nil
}

func (m *fakeMux) AttachCommand(id tmux.SessionID) *exec.Cmd {
	return exec.Command("/bin/sh")
}

func (m *fakeMux) sentKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// collector is a threadsafe output sink.
type collector struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *collector) sink(data string) {
	c.mu.Lock()
	c.buf.WriteString(data)
	c.mu.Unlock()
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func testOptions() Options {
	return Options{
		Grace:            300 * time.Millisecond,
		PreAttachSettle:  time.Millisecond,
		PostAttachSettle: time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestAcquireNonexistentSession(t *testing.T) {
	b := New(newFakeMux(), testOptions())
	defer b.CloseAll()

	_, err := b.Acquire("term-ghost", "sub1", 80, 24, func(string) {})
	if err == nil {
		t.Fatal("expected error acquiring nonexistent session")
	}
	if !errdefs.IsKind(err, errdefs.KindNotFound) {
		t.Errorf("expected not_found, got %q", errdefs.KindOf(err))
	}
}

func TestAcquireReusesConnection(t *testing.T) {
	b := New(newFakeMux("term-a"), testOptions())
	defer b.CloseAll()

	c1, err := b.Acquire("term-a", "sub1", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	c2, err := b.Acquire("term-a", "sub2", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if c1.PID() != c2.PID() {
		t.Errorf("expected shared connection, got pids %d and %d", c1.PID(), c2.PID())
	}
}

func TestAcquireConcurrentSingleConnection(t *testing.T) {
	b := New(newFakeMux("term-c"), testOptions())
	defer b.CloseAll()

	var wg sync.WaitGroup
	pids := make([]int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := b.Acquire("term-c", string(rune('a'+i)), 80, 24, func(string) {})
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			pids[i] = c.PID()
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(pids); i++ {
		if pids[i] != pids[0] {
			t.Fatalf("concurrent acquires produced multiple connections: %v", pids)
		}
	}
}

func TestOutputReachesSubscribers(t *testing.T) {
	b := New(newFakeMux("term-echo"), testOptions())
	defer b.CloseAll()

	var out collector
	if _, err := b.Acquire("term-echo", "sub1", 80, 24, out.sink); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	if err := b.Write("term-echo", "echo bridge-marker\n"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "bridge-marker")
	}) {
		t.Fatalf("output never contained marker, got: %q", out.String())
	}
}

func TestResubscribeWithinGraceReusesProcess(t *testing.T) {
	b := New(newFakeMux("term-g"), testOptions())
	defer b.CloseAll()

	c1, err := b.Acquire("term-g", "sub1", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	pid := c1.PID()

	b.Release("term-g", "sub1")

	// Resubscribe well inside the 300ms test grace.
	time.Sleep(50 * time.Millisecond)
	c2, err := b.Acquire("term-g", "sub2", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("re-Acquire() error: %v", err)
	}
	if c2.PID() != pid {
		t.Errorf("resubscribe within grace spawned a new process: %d != %d", c2.PID(), pid)
	}

	// The cancelled timer must not fire later and kill the live connection.
	time.Sleep(500 * time.Millisecond)
	if !proc.Alive(pid) {
		t.Error("stale reclamation timer killed an active connection")
	}
}

func TestReclaimAfterGrace(t *testing.T) {
	b := New(newFakeMux("term-r"), testOptions())
	defer b.CloseAll()

	c, err := b.Acquire("term-r", "sub1", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	pid := c.PID()

	b.Release("term-r", "sub1")

	if !waitFor(t, 3*time.Second, func() bool { return !proc.Alive(pid) }) {
		t.Fatalf("attach process %d survived past the grace window", pid)
	}

	// A later acquire starts fresh.
	c2, err := b.Acquire("term-r", "sub2", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() after reclaim error: %v", err)
	}
	if c2.PID() == pid {
		t.Error("reclaimed pid reused for new connection")
	}
}

func TestStoppedReaderReplaced(t *testing.T) {
	b := New(newFakeMux("term-s"), testOptions())
	defer b.CloseAll()

	c1, err := b.Acquire("term-s", "sub1", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	// Kill the attach process out from under the bridge.
	proc.Terminate(c1.PID())
	if !waitFor(t, 3*time.Second, c1.Stopped) {
		t.Fatal("reader never observed process death")
	}

	c2, err := b.Acquire("term-s", "sub2", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() after death error: %v", err)
	}
	if c2.PID() == c1.PID() {
		t.Error("dead connection was handed back to a new subscriber")
	}
}

func TestWriteFallsBackToMux(t *testing.T) {
	mux := newFakeMux("term-f")
	b := New(mux, testOptions())
	defer b.CloseAll()

	// No connection exists: Write goes through send-keys.
	if err := b.Write("term-f", "ls\n"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	sent := mux.sentKeys()
	if len(sent) != 1 || sent[0] != "ls\n" {
		t.Errorf("expected fallback send-keys, got %v", sent)
	}
}

func TestCloseAllReclaimsEverything(t *testing.T) {
	b := New(newFakeMux("term-x", "term-y"), testOptions())

	cx, err := b.Acquire("term-x", "s", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	cy, err := b.Acquire("term-y", "s", 80, 24, func(string) {})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	b.CloseAll()

	for _, pid := range []int{cx.PID(), cy.PID()} {
		if !waitFor(t, 2*time.Second, func() bool { return !proc.Alive(pid) }) {
			t.Errorf("pid %d still alive after CloseAll", pid)
		}
	}
}
