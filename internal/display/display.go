// Package display supervises virtual display slots. Each slot is a
// three-stage pipeline — Xvfb framebuffer, x11vnc export, websockify
// bridge — owned as a unit: started in order with settle checks, torn
// down in reverse, and self-healing when the framebuffer dies behind our
// back.
package display

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/termpanel/termpanel/internal/errdefs"
	"github.com/termpanel/termpanel/internal/metrics"
	"github.com/termpanel/termpanel/internal/proc"
)

// Fixed allocation policy: GUI panel index maps 1:1 to a display number,
// which makes a panel a stable addressable resource for clients. Ports
// derive from the display number.
const (
	PanelCount  = 3
	DisplayBase = 100
)

// Slot is one allocated display plus its supervised process chain.
type Slot struct {
	DisplayNum int    `json:"display_num"`
	PanelIndex int    `json:"panel_index"`
	Display    string `json:"display"` // ":100"
	VNCPort    int    `json:"vnc_port"`
	WSPort     int    `json:"ws_port"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`

	xvfbPID, vncPID, wsPID int
}

// BindingEnv is the typed environment a session exports to route GUI
// output to a slot. Only recognized keys exist; there is nothing to typo.
type BindingEnv struct {
	Display    string // DISPLAY
	GDKBackend string // GDK_BACKEND
	QTPlatform string // QT_QPA_PLATFORM
}

// Vars returns the variables to set. WAYLAND_DISPLAY must additionally be
// unset; Unset lists such keys.
func (e BindingEnv) Vars() map[string]string {
	return map[string]string{
		"DISPLAY":         e.Display,
		"GDK_BACKEND":     e.GDKBackend,
		"QT_QPA_PLATFORM": e.QTPlatform,
	}
}

// Unset returns the variables a bound session must clear.
func (e BindingEnv) Unset() []string {
	return []string{"WAYLAND_DISPLAY"}
}

// ExportCommand returns the one-liner a shell runs to adopt the binding.
func (e BindingEnv) ExportCommand() string {
	return fmt.Sprintf(
		"export DISPLAY=%s && unset WAYLAND_DISPLAY && export GDK_BACKEND=%s && export QT_QPA_PLATFORM=%s",
		e.Display, e.GDKBackend, e.QTPlatform,
	)
}

// Options configures a Manager. Binary paths and port bases are
// overridable so tests can run the pipeline with stand-in processes.
type Options struct {
	XvfbBin       string
	X11vncBin     string
	WebsockifyBin string
	X11Dir        string // directory with .X<N>-lock files and .X11-unix sockets

	VNCPortBase int // port for DisplayBase, +1 per display (default 5900)
	WSPortBase  int // likewise (default 6100)

	FramebufferSettle time.Duration
	RFBSettle         time.Duration
	BridgeSettle      time.Duration

	LookPath func(string) (string, error) // default exec.LookPath
}

// Manager owns the slot table.
type Manager struct {
	opts Options

	mu    sync.Mutex
	slots map[int]*Slot
}

// NewManager creates a display manager. Zero option fields get defaults.
func NewManager(opts Options) *Manager {
	if opts.XvfbBin == "" {
		opts.XvfbBin = "Xvfb"
	}
	if opts.X11vncBin == "" {
		opts.X11vncBin = "x11vnc"
	}
	if opts.WebsockifyBin == "" {
		opts.WebsockifyBin = "websockify"
	}
	if opts.X11Dir == "" {
		opts.X11Dir = "/tmp"
	}
	if opts.VNCPortBase == 0 {
		opts.VNCPortBase = 5900
	}
	if opts.WSPortBase == 0 {
		opts.WSPortBase = 6100
	}
	if opts.FramebufferSettle == 0 {
		opts.FramebufferSettle = 500 * time.Millisecond
	}
	if opts.RFBSettle == 0 {
		opts.RFBSettle = 500 * time.Millisecond
	}
	if opts.BridgeSettle == 0 {
		opts.BridgeSettle = 300 * time.Millisecond
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	return &Manager{opts: opts, slots: make(map[int]*Slot)}
}

// ResolveNumber validates an explicit display number or maps a panel
// index to its fixed display number.
func ResolveNumber(displayNum, panelIndex *int) (int, error) {
	switch {
	case displayNum != nil:
		n := *displayNum
		if n < DisplayBase || n >= DisplayBase+PanelCount {
			return 0, fmt.Errorf("invalid display number %d: must be %d-%d", n, DisplayBase, DisplayBase+PanelCount-1)
		}
		return n, nil
	case panelIndex != nil:
		i := *panelIndex
		if i < 0 || i >= PanelCount {
			return 0, fmt.Errorf("invalid panel index %d: must be 0-%d", i, PanelCount-1)
		}
		return DisplayBase + i, nil
	default:
		return 0, fmt.Errorf("display number or panel index required")
	}
}

func (m *Manager) vncPort(num int) int { return m.opts.VNCPortBase + (num - DisplayBase) }
func (m *Manager) wsPort(num int) int  { return m.opts.WSPortBase + (num - DisplayBase) }

// checkDependencies returns the pipeline binaries that are not installed.
func (m *Manager) checkDependencies() []string {
	var missing []string
	for _, bin := range []string{m.opts.XvfbBin, m.opts.X11vncBin, m.opts.WebsockifyBin} {
		if _, err := m.opts.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

// displayFree positively confirms the OS display resource is unclaimed.
// The table alone is not enough: stale lock files survive crashed servers
// and other processes allocate displays outside our lifetime.
func (m *Manager) displayFree(num int) bool {
	lock := filepath.Join(m.opts.X11Dir, fmt.Sprintf(".X%d-lock", num))
	socket := filepath.Join(m.opts.X11Dir, ".X11-unix", fmt.Sprintf("X%d", num))
	if _, err := os.Stat(lock); err == nil {
		return false
	}
	if _, err := os.Stat(socket); err == nil {
		return false
	}
	return true
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// cleanEnv strips competing display-server variables and targets the
// given display.
func cleanEnv(display string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "WAYLAND_DISPLAY=") ||
			strings.HasPrefix(kv, "XDG_SESSION_TYPE=") ||
			strings.HasPrefix(kv, "DISPLAY=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		"DISPLAY="+display,
		"GDK_BACKEND=x11",
		"QT_QPA_PLATFORM=xcb",
	)
}

// startStage launches one pipeline stage and verifies it survives its
// settle window. On early exit it returns ProcessStartFailure carrying
// the captured stderr.
func startStage(name string, cmd *exec.Cmd, settle time.Duration) (int, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	pid, err := proc.Spawn(cmd)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindProcessStartFailure, err, "start %s", name)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(settle):
		return pid, nil
	case err := <-done:
		detail := strings.TrimSpace(stderr.String())
		if detail == "" && err != nil {
			detail = err.Error()
		}
		return 0, errdefs.ProcessStartFailure("%s exited during startup: %s", name, detail)
	}
}

// Allocate brings up the pipeline for a resolved display number. If the
// slot is already running its info is returned idempotently with
// created=false. Any stage failing triggers reverse-order teardown of the
// stages already started.
func (m *Manager) Allocate(num, width, height int) (*Slot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocateLocked(num, width, height)
}

// allocateLocked does the pipeline launch. Caller holds m.mu.
func (m *Manager) allocateLocked(num, width, height int) (*Slot, bool, error) {
	if slot, ok := m.slots[num]; ok {
		if proc.Alive(slot.xvfbPID) {
			return slot, false, nil
		}
		// Framebuffer died behind our back: clear the stale slot first.
		m.releaseLocked(slot)
	}

	if missing := m.checkDependencies(); len(missing) > 0 {
		return nil, false, errdefs.DependencyMissing(
			"missing dependencies: %s. Install with: sudo apt install xvfb x11vnc websockify",
			strings.Join(missing, ", "))
	}

	vncPort := m.vncPort(num)
	wsPort := m.wsPort(num)
	if !portFree(vncPort) {
		return nil, false, errdefs.ResourceBusy("VNC port %d is in use", vncPort)
	}
	if !portFree(wsPort) {
		return nil, false, errdefs.ResourceBusy("WebSocket port %d is in use", wsPort)
	}
	if !m.displayFree(num) {
		return nil, false, errdefs.ResourceBusy("display :%d is in use by another process", num)
	}

	start := time.Now()
	display := fmt.Sprintf(":%d", num)
	env := cleanEnv(display)

	// Stage 1: framebuffer.
	xvfb := exec.Command(m.opts.XvfbBin, display,
		"-screen", "0", fmt.Sprintf("%dx%dx24", width, height),
		"-ac", "+extension", "GLX", "+extension", "RENDER", "-nolisten", "tcp")
	xvfb.Env = env
	xvfbPID, err := startStage("Xvfb", xvfb, m.opts.FramebufferSettle)
	if err != nil {
		return nil, false, err
	}

	// Stage 2: remote-frame-buffer export bound to stage 1's display.
	vnc := exec.Command(m.opts.X11vncBin,
		"-display", display,
		"-rfbport", strconv.Itoa(vncPort),
		"-nopw", "-forever", "-shared", "-noxdamage", "-wait", "5", "-defer", "5")
	vnc.Env = env
	vncPID, err := startStage("x11vnc", vnc, m.opts.RFBSettle)
	if err != nil {
		proc.Terminate(xvfbPID)
		return nil, false, err
	}

	// Stage 3: websocket bridge bound to stage 2's port.
	ws := exec.Command(m.opts.WebsockifyBin,
		strconv.Itoa(wsPort), fmt.Sprintf("127.0.0.1:%d", vncPort))
	wsPID, err := startStage("websockify", ws, m.opts.BridgeSettle)
	if err != nil {
		proc.Terminate(vncPID)
		proc.Terminate(xvfbPID)
		return nil, false, err
	}

	slot := &Slot{
		DisplayNum: num,
		PanelIndex: num - DisplayBase,
		Display:    display,
		VNCPort:    vncPort,
		WSPort:     wsPort,
		Width:      width,
		Height:     height,
		xvfbPID:    xvfbPID,
		vncPID:     vncPID,
		wsPID:      wsPID,
	}
	m.slots[num] = slot
	metrics.DisplaysActive.Inc()
	metrics.DisplayAllocateDuration.Observe(time.Since(start).Seconds())
	return slot, true, nil
}

// Release tears the slot down, stages in reverse start order, each
// best-effort.
func (m *Manager) Release(num int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[num]
	if !ok {
		return errdefs.NotFound("display :%d not found", num)
	}
	m.releaseLocked(slot)
	return nil
}

func (m *Manager) releaseLocked(slot *Slot) {
	proc.Terminate(slot.wsPID)
	proc.Terminate(slot.vncPID)
	proc.Terminate(slot.xvfbPID)
	delete(m.slots, slot.DisplayNum)
	metrics.DisplaysActive.Dec()
}

// Probe liveness-checks a slot's framebuffer. A dead framebuffer evicts
// the slot; slots self-heal from external termination.
func (m *Manager) Probe(num int) (*Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[num]
	if !ok {
		return nil, false
	}
	if !proc.Alive(slot.xvfbPID) {
		m.releaseLocked(slot)
		return nil, false
	}
	return slot, true
}

// List probes every tracked slot, evicting dead ones, and returns the
// live slots in display-number order.
func (m *Manager) List() []*Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []*Slot
	var live []*Slot
	for _, slot := range m.slots {
		if proc.Alive(slot.xvfbPID) {
			live = append(live, slot)
		} else {
			dead = append(dead, slot)
		}
	}
	for _, slot := range dead {
		m.releaseLocked(slot)
	}
	for i := 1; i < len(live); i++ {
		for j := i; j > 0 && live[j-1].DisplayNum > live[j].DisplayNum; j-- {
			live[j-1], live[j] = live[j], live[j-1]
		}
	}
	return live
}

// Resize restarts the slot at a new geometry. The lock is held across
// the teardown and relaunch so a concurrent Allocate for the same number
// cannot interleave and claim the freed display or ports.
func (m *Manager) Resize(num, width, height int) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[num]
	if !ok {
		return nil, errdefs.NotFound("display :%d not found", num)
	}
	m.releaseLocked(slot)
	fresh, _, err := m.allocateLocked(num, width, height)
	return fresh, err
}

// BindingEnv returns the environment a session exports to target the
// slot. Pure function of slot state.
func (m *Manager) BindingEnv(num int) (BindingEnv, bool) {
	slot, ok := m.Probe(num)
	if !ok {
		return BindingEnv{}, false
	}
	return BindingEnv{
		Display:    slot.Display,
		GDKBackend: "x11",
		QTPlatform: "xcb",
	}, true
}

// PanelInfo describes one fixed panel→display mapping.
type PanelInfo struct {
	PanelIndex int    `json:"panel_index"`
	DisplayNum int    `json:"display_num"`
	Display    string `json:"display"`
	VNCPort    int    `json:"vnc_port"`
	WSPort     int    `json:"ws_port"`
}

// PanelLayout returns the fixed panel configuration.
func (m *Manager) PanelLayout() []PanelInfo {
	panels := make([]PanelInfo, 0, PanelCount)
	for i := 0; i < PanelCount; i++ {
		num := DisplayBase + i
		panels = append(panels, PanelInfo{
			PanelIndex: i,
			DisplayNum: num,
			Display:    fmt.Sprintf(":%d", num),
			VNCPort:    m.vncPort(num),
			WSPort:     m.wsPort(num),
		})
	}
	return panels
}

// CloseAll releases every slot. Shutdown only.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range m.slots {
		m.releaseLocked(slot)
	}
}
