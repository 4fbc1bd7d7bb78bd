// Package proc probes and terminates OS processes by pid. It is the one
// place that talks to the process table directly; everything above it
// (display pipeline, PTY bridge) treats child processes as opaque pids.
package proc

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// terminateGrace is how long a process gets between SIGTERM and SIGKILL.
const terminateGrace = 100 * time.Millisecond

// Spawn starts cmd and returns its pid. The command runs detached from
// the caller's terminal; stdout/stderr wiring is the caller's business.
func Spawn(cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// Alive reports whether pid refers to a live process, using a signal-0
// probe. EPERM counts as alive: the process exists, we just can't signal it.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// Terminate performs a graceful-then-forceful two-phase shutdown.
// It is idempotent and never fails on a process that is already gone.
func Terminate(pid int) {
	if pid <= 0 {
		return
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return // ESRCH: already gone
	}
	time.Sleep(terminateGrace)
	_ = unix.Kill(pid, unix.SIGKILL)
	// Reap if it was our child; ECHILD is expected for foreign processes.
	var ws unix.WaitStatus
	_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
}

// Signal delivers sig to pid.
func Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Children returns the direct children of pid, discovered by scanning
// /proc/<pid>/stat PPID fields.
func Children(pid int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var kids []int
	for _, entry := range entries {
		child, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if parentOf(child) == pid {
			kids = append(kids, child)
		}
	}
	return kids
}

// parentOf reads the PPID out of /proc/<pid>/stat. Returns 0 on any
// failure. The comm field is parenthesized and may contain spaces, so the
// parse anchors on the last ')'.
func parentOf(pid int) int {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0
	}
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return 0
	}
	fields := strings.Fields(s[idx+2:])
	if len(fields) < 2 {
		return 0
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return ppid
}
