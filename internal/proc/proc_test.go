package proc

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSpawnAndAlive(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	pid, err := Spawn(cmd)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	defer cmd.Process.Kill()
	defer cmd.Wait()

	if !Alive(pid) {
		t.Errorf("expected pid %d alive right after spawn", pid)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	pid, err := Spawn(cmd)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	Terminate(pid)
	go cmd.Wait() // reap via os/exec as well; Terminate's Wait4 may lose the race

	deadline := time.Now().Add(2 * time.Second)
	for Alive(pid) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if Alive(pid) {
		t.Fatalf("pid %d still alive after Terminate", pid)
	}

	// Second call on a dead pid must not panic or signal anything else.
	Terminate(pid)
	Terminate(-1)
	Terminate(0)
}

func TestAliveBogusPid(t *testing.T) {
	if Alive(0) || Alive(-5) {
		t.Error("nonpositive pids must not be alive")
	}
}

func TestChildren(t *testing.T) {
	// sh spawns a sleep child and then waits on it.
	cmd := exec.Command("sh", "-c", "sleep 60 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if kids := Children(cmd.Process.Pid); len(kids) > 0 {
			for _, k := range kids {
				_ = unix.Kill(k, unix.SIGKILL)
			}
		}
		cmd.Process.Kill()
		cmd.Wait()
	}()

	var kids []int
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		kids = Children(cmd.Process.Pid)
		if len(kids) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(kids) == 0 {
		t.Fatal("expected sh to have a sleep child")
	}
	for _, k := range kids {
		if !Alive(k) {
			t.Errorf("child %d reported dead", k)
		}
	}
}

func TestParentOfSelf(t *testing.T) {
	if got := parentOf(os.Getpid()); got != os.Getppid() {
		t.Errorf("parentOf(self) = %d, want %d", got, os.Getppid())
	}
}
