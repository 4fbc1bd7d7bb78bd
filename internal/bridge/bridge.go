// Package bridge multiplexes one PTY per terminal session to any number
// of WebSocket subscribers. It owns the attach process, the single reader
// goroutine per session, and the delayed reclamation that keeps a page
// reload from killing the attach process.
package bridge

import (
	"context"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ptylib "github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/termpanel/termpanel/internal/errdefs"
	"github.com/termpanel/termpanel/internal/metrics"
	"github.com/termpanel/termpanel/internal/proc"
	"github.com/termpanel/termpanel/internal/tmux"
)

const (
	// readChunk bounds a single PTY read. Large enough that escape
	// sequences rarely split across reads under load.
	readChunk = 16384
	// pollInterval is the reader's readiness-wait timeout; cancellation
	// is observed within one interval.
	pollInterval = 50 * time.Millisecond
)

// Multiplexer is the subset of the tmux manager the bridge depends on.
type Multiplexer interface {
	SessionExists(id tmux.SessionID) bool
	ResizeWindow(id tmux.SessionID, cols, rows int)
	SendKeys(id tmux.SessionID, keys string) error
	AttachCommand(id tmux.SessionID) *exec.Cmd
}

// Sink receives filtered output for one subscriber. Implementations must
// not block for long; the reader calls every sink in turn.
type Sink func(data string)

// Conn is the bridge state for one session: the attach process, its PTY
// master, and the subscriber set.
type Conn struct {
	session tmux.SessionID
	cmd     *exec.Cmd
	ptmx    *os.File
	pid     int
	cancel  context.CancelFunc
	stopped atomic.Bool // set by the reader on exit; the liveness signal

	mu          sync.Mutex
	subscribers map[string]Sink
	generation  uint64      // bumped on every subscriber-set change
	reclaim     *time.Timer // pending empty-set teardown, nil if none

	// writeMu serializes raw writes to the master; interleaved writes
	// from concurrent callers would corrupt the input stream.
	writeMu sync.Mutex
}

// Session returns the canonical session id this connection serves.
func (c *Conn) Session() tmux.SessionID { return c.session }

// PID returns the attach process pid.
func (c *Conn) PID() int { return c.pid }

// Stopped reports whether the reader has exited.
func (c *Conn) Stopped() bool { return c.stopped.Load() }

// Options configures a Bridge.
type Options struct {
	// Grace is how long an empty subscriber set survives before the
	// connection is reclaimed.
	Grace time.Duration
	// PreAttachSettle and PostAttachSettle bound the resize/attach/resize
	// dance against multiplexer readiness races.
	PreAttachSettle  time.Duration
	PostAttachSettle time.Duration
}

// Bridge owns the session→connection table.
type Bridge struct {
	mux  Multiplexer
	opts Options

	mu    sync.Mutex
	conns map[tmux.SessionID]*Conn
}

// New creates a Bridge. Zero option fields get production defaults.
func New(mux Multiplexer, opts Options) *Bridge {
	if opts.Grace == 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.PreAttachSettle == 0 {
		opts.PreAttachSettle = 50 * time.Millisecond
	}
	if opts.PostAttachSettle == 0 {
		opts.PostAttachSettle = 100 * time.Millisecond
	}
	return &Bridge{
		mux:   mux,
		opts:  opts,
		conns: make(map[tmux.SessionID]*Conn),
	}
}

// Acquire returns the live connection for session, creating one if
// needed, and registers the subscriber. A connection whose reader has
// stopped is torn down and replaced. Acquiring a session unknown to the
// multiplexer is a NotFound error and has no side effects.
func (b *Bridge) Acquire(session tmux.SessionID, subscriberID string, cols, rows int, sink Sink) (*Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conn, ok := b.conns[session]; ok {
		if !conn.Stopped() {
			conn.addSubscriber(subscriberID, sink)
			return conn, nil
		}
		b.teardownLocked(conn)
	}

	if !b.mux.SessionExists(session) {
		return nil, errdefs.NotFound("session %s does not exist", session)
	}

	conn, err := b.spawn(session, cols, rows)
	if err != nil {
		return nil, err
	}
	conn.addSubscriber(subscriberID, sink)
	b.conns[session] = conn
	metrics.BridgesActive.Inc()
	return conn, nil
}

// spawn attaches a PTY to the session and starts the reader.
func (b *Bridge) spawn(session tmux.SessionID, cols, rows int) (*Conn, error) {
	// Resize the multiplexer window before attaching so the first frame
	// the client sees is already at its own geometry.
	b.mux.ResizeWindow(session, cols, rows)
	time.Sleep(b.opts.PreAttachSettle)

	cmd := b.mux.AttachCommand(session)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindProcessStartFailure, err, "attach to session %s", session)
	}

	if err := unix.SetNonblock(int(ptmx.Fd()), true); err != nil {
		ptmx.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, errdefs.Wrap(errdefs.KindProcessStartFailure, err, "set nonblocking master for %s", session)
	}

	// The attach process and the multiplexer settle independently; a
	// second resize after attach covers the race between them.
	time.Sleep(b.opts.PostAttachSettle)
	b.mux.ResizeWindow(session, cols, rows)

	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		session:     session,
		cmd:         cmd,
		ptmx:        ptmx,
		pid:         cmd.Process.Pid,
		cancel:      cancel,
		subscribers: make(map[string]Sink),
	}
	go conn.readLoop(ctx)
	go cmd.Wait() // reap the attach process when it exits
	return conn, nil
}

// readLoop is the single reader for a connection. It waits for
// readability with a bounded timeout, reads a chunk, filters it, and
// broadcasts whatever remains. EOF or a fatal I/O error ends the loop and
// marks the connection stopped.
func (c *Conn) readLoop(ctx context.Context) {
	defer c.stopped.Store(true)

	fd := int32(c.ptmx.Fd())
	buf := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(pollInterval.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(int(fd), buf)
		if nr > 0 {
			data := FilterResponses(strings.ToValidUTF8(string(buf[:nr]), "�"))
			if data != "" {
				metrics.OutputBytesTotal.Add(float64(nr))
				c.broadcast(data)
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			// EIO is the normal end of a Linux PTY master; EBADF means
			// teardown closed the fd under us.
			return
		}
		if nr == 0 {
			return // EOF
		}
	}
}

// broadcast delivers data to every subscriber. The subscriber snapshot is
// taken under the lock; the sends happen outside it.
func (c *Conn) broadcast(data string) {
	c.mu.Lock()
	sinks := make([]Sink, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		sinks = append(sinks, s)
	}
	c.mu.Unlock()

	for _, s := range sinks {
		s(data)
	}
}

func (c *Conn) addSubscriber(id string, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[id] = sink
	c.generation++
	if c.reclaim != nil {
		c.reclaim.Stop()
		c.reclaim = nil
	}
	metrics.SubscribersActive.Inc()
}

// Release removes a subscriber. When the set becomes empty the connection
// is not torn down immediately; a grace timer fires only if no subscriber
// arrived in the meantime. The timer carries the subscriber-set
// generation, so a resubscribe followed by another release never lets a
// stale timer kill the fresh subscription's connection.
func (b *Bridge) Release(session tmux.SessionID, subscriberID string) {
	b.mu.Lock()
	conn, ok := b.conns[session]
	b.mu.Unlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	if _, had := conn.subscribers[subscriberID]; !had {
		conn.mu.Unlock()
		return
	}
	delete(conn.subscribers, subscriberID)
	conn.generation++
	metrics.SubscribersActive.Dec()
	if len(conn.subscribers) > 0 {
		conn.mu.Unlock()
		return
	}
	gen := conn.generation
	if conn.reclaim != nil {
		conn.reclaim.Stop()
	}
	conn.reclaim = time.AfterFunc(b.opts.Grace, func() {
		b.reclaimIfIdle(session, gen)
	})
	conn.mu.Unlock()
}

// reclaimIfIdle tears the connection down iff the subscriber set is still
// at the generation the timer was scheduled for.
func (b *Bridge) reclaimIfIdle(session tmux.SessionID, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.conns[session]
	if !ok {
		return
	}
	conn.mu.Lock()
	idle := len(conn.subscribers) == 0 && conn.generation == gen
	conn.mu.Unlock()
	if idle {
		b.teardownLocked(conn)
	}
}

// Write sends raw bytes to the session. With a live connection the bytes
// go straight to the PTY master; otherwise they fall back to the
// multiplexer's own key injection so scripted input works without any
// attached client.
func (b *Bridge) Write(session tmux.SessionID, data string) error {
	b.mu.Lock()
	conn, ok := b.conns[session]
	b.mu.Unlock()

	if ok && !conn.Stopped() {
		if err := conn.write([]byte(data)); err == nil {
			return nil
		}
	}
	return b.mux.SendKeys(session, data)
}

// write pushes data to the master, retrying on EAGAIN since the fd is
// nonblocking.
func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for len(data) > 0 {
		n, err := c.ptmx.Write(data)
		data = data[n:]
		if err != nil {
			if errn, ok := err.(interface{ Timeout() bool }); ok && errn.Timeout() {
				time.Sleep(time.Millisecond)
				continue
			}
			if pathErr, ok := err.(*os.PathError); ok && pathErr.Err == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			return errdefs.Wrap(errdefs.KindStreamFault, err, "write to %s", c.session)
		}
	}
	return nil
}

// Resize updates the PTY window size and the multiplexer's logical window
// size; the two desync the shell's line wrapping from the rendered grid
// if either is skipped.
func (b *Bridge) Resize(session tmux.SessionID, cols, rows int) {
	b.mu.Lock()
	conn, ok := b.conns[session]
	b.mu.Unlock()

	if ok {
		_ = ptylib.Setsize(conn.ptmx, &ptylib.Winsize{
			Cols: uint16(cols),
			Rows: uint16(rows),
		})
	}
	b.mux.ResizeWindow(session, cols, rows)
}

// Drop tears down the connection for session immediately, if one exists.
// Used when the session itself is destroyed.
func (b *Bridge) Drop(session tmux.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.conns[session]; ok {
		b.teardownLocked(conn)
	}
}

// CloseAll tears down every connection without the grace delay. Shutdown
// only.
func (b *Bridge) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		b.teardownLocked(conn)
	}
}

// teardownLocked reclaims a connection's resources. Caller holds b.mu.
func (b *Bridge) teardownLocked(conn *Conn) {
	if _, ok := b.conns[conn.session]; !ok {
		return
	}
	delete(b.conns, conn.session)

	conn.mu.Lock()
	if conn.reclaim != nil {
		conn.reclaim.Stop()
		conn.reclaim = nil
	}
	remaining := len(conn.subscribers)
	conn.subscribers = make(map[string]Sink)
	conn.mu.Unlock()
	for i := 0; i < remaining; i++ {
		metrics.SubscribersActive.Dec()
	}

	conn.cancel()
	conn.ptmx.Close()
	proc.Terminate(conn.pid)
	metrics.BridgesActive.Dec()
	log.Printf("bridge: reclaimed connection for %s (pid %d)", conn.session, conn.pid)
}
