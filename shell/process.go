package shell

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SpawnError reports a failure to create the shell subprocess: executable not
// found, invalid working directory, or an OS-level creation failure.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start shell %s: %v", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// scrubbedEnvVars are removed from the inherited environment before the
// caller's overrides are applied. CLAUDECODE leaks the parent agent context
// into the shell and breaks nested agent invocations.
var scrubbedEnvVars = []string{"CLAUDECODE"}

// Process owns one shell subprocess and its pipes. Stdin is a write-only
// pipe; stdout and stderr share a single read pipe so diagnostic and normal
// output interleave in arrival order.
//
// A single reader goroutine turns the output pipe into a channel of whole
// lines (trailing \r\n stripped). The channel is unbuffered: a line produced
// after a caller stops reading — a timed-out command still running — stays
// queued until the next reader arrives. A monitor goroutine is the sole
// caller of cmd.Wait and signals exit by closing waitDone.
type Process struct {
	cmd      *exec.Cmd
	lines    chan string
	waitDone chan struct{}
	outRead  *os.File
	log      *slog.Logger

	mu    sync.Mutex
	stdin io.WriteCloser
}

// Spawn launches a shell subprocess in the given working directory with the
// caller's environment overrides layered over the inherited environment.
func Spawn(shellPath, cwd string, env map[string]string, log *slog.Logger) (*Process, error) {
	cmd := exec.Command(shellPath)
	cmd.Dir = cwd
	cmd.Env = buildEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Shell: shellPath, Err: err}
	}

	// One pipe for both stdout and stderr. cmd.Wait does not manage this
	// pipe (it's not from StdoutPipe), so reads never race against Wait.
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Shell: shellPath, Err: err}
	}
	cmd.Stdout = outWrite
	cmd.Stderr = outWrite

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outRead.Close()
		outWrite.Close()
		return nil, &SpawnError{Shell: shellPath, Err: err}
	}

	// The child holds its own copy of the write end; drop ours so the read
	// end sees EOF when the child exits.
	outWrite.Close()

	p := &Process{
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan string),
		waitDone: make(chan struct{}),
		outRead:  outRead,
		log:      log,
	}

	go p.readLines(outRead)
	go p.monitorExit()

	return p, nil
}

// buildEnv overlays overrides onto the inherited environment, dropping
// scrubbed variables and any inherited value the overrides replace.
func buildEnv(overrides map[string]string) []string {
	skip := make(map[string]bool, len(scrubbedEnvVars)+len(overrides))
	for _, name := range scrubbedEnvVars {
		skip[name] = true
	}
	for name := range overrides {
		skip[name] = true
	}

	inherited := os.Environ()
	env := make([]string, 0, len(inherited)+len(overrides))
	for _, kv := range inherited {
		name, _, _ := strings.Cut(kv, "=")
		if !skip[name] {
			env = append(env, kv)
		}
	}
	for name, value := range overrides {
		env = append(env, name+"="+value)
	}
	return env
}

// readLines feeds whole lines from the output pipe into the lines channel.
// The channel is closed on EOF, which is how readers observe process death.
func (p *Process) readLines(r io.ReadCloser) {
	defer close(p.lines)
	defer r.Close()

	reader := bufio.NewReader(r)
	for {
		text, err := reader.ReadString('\n')
		if len(text) > 0 {
			text = strings.TrimSuffix(text, "\n")
			text = strings.TrimSuffix(text, "\r")
			p.lines <- text
		}
		if err != nil {
			if err != io.EOF {
				p.log.Debug("error reading shell output", "error", err)
			}
			return
		}
	}
}

// monitorExit is the sole caller of cmd.Wait. Everyone else observes exit
// through the waitDone channel.
func (p *Process) monitorExit() {
	err := p.cmd.Wait()
	p.log.Debug("shell process exited", "error", err)
	close(p.waitDone)
}

// Lines returns the channel of output lines. The channel is closed when the
// process's output stream reaches EOF.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Alive returns true until the process has exited. Liveness is observed
// lazily — there is no background polling beyond the single Wait.
func (p *Process) Alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// PID returns the subprocess's process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// WriteString writes to the process stdin.
func (p *Process) WriteString(s string) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if stdin == nil || !p.Alive() {
		return fmt.Errorf("process not running")
	}

	if _, err := io.WriteString(stdin, s); err != nil {
		return fmt.Errorf("failed to write to shell: %w", err)
	}
	return nil
}

// Wait blocks until the process exits or the timeout elapses. Returns true
// if the process exited within the timeout.
func (p *Process) Wait(timeout time.Duration) bool {
	select {
	case <-p.waitDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Terminate ends the subprocess: a graceful `exit` through stdin first, then
// a kill if the shell hasn't exited within the grace period. Always closes
// stdin and tears down the output reader; after Terminate returns, the lines
// channel is closed and the reader goroutine has exited.
func (p *Process) Terminate(grace time.Duration) {
	if p.Alive() {
		if err := p.WriteString("exit\n"); err == nil {
			if !p.Wait(grace) {
				p.log.Debug("shell ignored exit, killing", "pid", p.PID())
				p.cmd.Process.Kill()
				<-p.waitDone
			}
		} else {
			p.cmd.Process.Kill()
			<-p.waitDone
		}
	}

	p.mu.Lock()
	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}
	p.mu.Unlock()

	// The reader may still be parked on a send for lines nobody consumed,
	// the usual state after a timed-out command. Closing the read end fails
	// its next read even if an orphaned grandchild still holds the write
	// end, and draining unblocks the pending send; together they guarantee
	// the reader goroutine exits and the channel closes.
	p.outRead.Close()
	for range p.lines {
	}
}
