package shell

import (
	"errors"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/zhubert/tether/logger"
)

func TestBuildEnv(t *testing.T) {
	t.Setenv("TETHER_TEST_KEEP", "keep")
	t.Setenv("TETHER_TEST_OVERRIDE", "old")
	t.Setenv("CLAUDECODE", "1")

	env := buildEnv(map[string]string{
		"TETHER_TEST_OVERRIDE": "new",
		"TETHER_TEST_ADDED":    "added",
	})

	if !slices.Contains(env, "TETHER_TEST_KEEP=keep") {
		t.Error("inherited variable missing")
	}
	if !slices.Contains(env, "TETHER_TEST_OVERRIDE=new") {
		t.Error("override not applied")
	}
	if slices.Contains(env, "TETHER_TEST_OVERRIDE=old") {
		t.Error("overridden value still present")
	}
	if !slices.Contains(env, "TETHER_TEST_ADDED=added") {
		t.Error("added variable missing")
	}
	if slices.Contains(env, "CLAUDECODE=1") {
		t.Error("scrubbed variable still present")
	}
}

func TestProcessLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	p, err := Spawn("/bin/sh", "", nil, logger.WithComponent("test"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if !p.Alive() {
		t.Fatal("process not alive after spawn")
	}
	if p.PID() <= 0 {
		t.Errorf("PID = %d, want > 0", p.PID())
	}

	if err := p.WriteString("echo hello\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	select {
	case line := <-p.Lines():
		if line != "hello" {
			t.Errorf("line = %q, want hello", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no output within 5s")
	}

	p.Terminate(2 * time.Second)

	if p.Alive() {
		t.Error("process alive after Terminate")
	}
	select {
	case _, ok := <-p.Lines():
		if ok {
			t.Error("unexpected output after exit")
		}
	case <-time.After(2 * time.Second):
		t.Error("lines channel not closed after exit")
	}
}

// A command whose output nobody consumed leaves the reader goroutine parked
// on the channel send. Terminate must unblock it and run it to completion, so
// the lines channel is closed and drained by the time Terminate returns.
func TestTerminateReleasesBlockedReader(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	p, err := Spawn("/bin/sh", "", nil, logger.WithComponent("test"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := p.WriteString("printf 'a\\nb\\nc\\n'\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	// Consume one line so the reader is known to be parked on the next send.
	select {
	case <-p.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("no output within 5s")
	}

	p.Terminate(2 * time.Second)

	if _, ok := <-p.Lines(); ok {
		t.Error("undelivered line survived Terminate")
	}
}

func TestSpawnBadShell(t *testing.T) {
	_, err := Spawn("/nonexistent/shell-binary", "", nil, logger.WithComponent("test"))
	if err == nil {
		t.Fatal("expected error for missing shell")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error type = %T, want *SpawnError", err)
	}
}
