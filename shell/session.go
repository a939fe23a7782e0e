package shell

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/tether/transcript"
)

// Result statuses.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// Result is the outcome of one Execute call.
type Result struct {
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
	Command   string `json:"command,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Options configures a new session.
type Options struct {
	ID         string            // Session identifier (empty = generated)
	Shell      string            // Shell executable (empty = auto-detect)
	Cwd        string            // Initial working directory (empty = current directory)
	Env        map[string]string // Environment overrides layered over the inherited env
	CloseGrace time.Duration     // Grace period before force-kill on Close
}

// Session is one persistent shell subprocess plus the bookkeeping around it.
// Execute calls are serialized: a second Execute blocks until the first
// finishes, so two commands can never interleave on the shell's stdin.
type Session struct {
	id         string
	shellPath  string
	cwd        string
	env        map[string]string
	closeGrace time.Duration
	createdAt  time.Time
	log        *slog.Logger

	proc  *Process
	trans *transcript.Writer

	execMu sync.Mutex // serializes Execute

	mu           sync.Mutex // guards the fields below
	commandCount int
	lastCommand  string
	closed       bool
	dead         bool // subprocess observed dead mid-command
}

// Info is a point-in-time snapshot of a session's state.
type Info struct {
	SessionID    string `json:"session_id"`
	Shell        string `json:"shell"`
	Cwd          string `json:"cwd"`
	Alive        bool   `json:"alive"`
	PID          int    `json:"pid,omitempty"`
	CommandCount int    `json:"command_count"`
	LastCommand  string `json:"last_command,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// GenerateID returns a fresh session identifier of the form shell-a1b2c3.
func GenerateID() string {
	buf := make([]byte, 3)
	rand.Read(buf)
	return "shell-" + hex.EncodeToString(buf)
}

// New creates a session from the given options without starting the
// subprocess. Call Start before Execute.
func New(opts Options, log *slog.Logger) *Session {
	id := opts.ID
	if id == "" {
		id = GenerateID()
	}
	shellPath := opts.Shell
	if shellPath == "" {
		shellPath = Detect()
	}
	grace := opts.CloseGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	return &Session{
		id:         id,
		shellPath:  shellPath,
		cwd:        cwd,
		env:        opts.Env,
		closeGrace: grace,
		createdAt:  time.Now().UTC(),
		log:        log.With("session_id", id),
	}
}

// Start launches the shell subprocess and opens the session transcript.
func (s *Session) Start() error {
	proc, err := Spawn(s.shellPath, s.cwd, s.env, s.log)
	if err != nil {
		return err
	}
	s.proc = proc

	trans, err := transcript.Open(s.id)
	if err != nil {
		// The session is usable without a transcript.
		s.log.Warn("failed to open transcript", "error", err)
	}
	s.trans = trans

	s.trans.Logf("session started: shell=%s pid=%d cwd=%s", s.shellPath, proc.PID(), s.cwd)
	s.log.Info("session started", "shell", s.shellPath, "pid", proc.PID(), "cwd", s.cwd)
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Alive reports whether the shell subprocess is still running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	gone := s.closed || s.dead
	s.mu.Unlock()
	return !gone && s.proc != nil && s.proc.Alive()
}

// Execute runs one command in the session's shell and waits for its
// completion marker, up to the given timeout.
//
// On success the result carries the command's merged stdout/stderr and its
// exit code. On timeout the result carries whatever whole lines arrived
// before the deadline; the command keeps running in the shell and its later
// output surfaces at the start of the next Execute. If the shell dies
// mid-command, the partial output is returned as a success with no exit code.
func (s *Session) Execute(command string, timeout time.Duration) Result {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	if !s.Alive() {
		return Result{
			Status: StatusError,
			Error:  fmt.Sprintf("session %s is not running", s.id),
		}
	}

	command = NormalizePowerShellQuoting(command)
	sentinel := newSentinel()

	s.trans.Logf("$ %s", command)
	s.log.Debug("executing command", "command", command, "timeout", timeout)

	if err := s.proc.WriteString(commandBlock(command, sentinel)); err != nil {
		s.trans.Logf("[write error: %v]", err)
		return Result{
			Status: StatusError,
			Error:  fmt.Sprintf("failed to send command: %v", err),
		}
	}

	outcome := collectUntilSentinel(s.proc.Lines(), sentinel, timeout)
	output := strings.Join(outcome.lines, "\n")
	s.recordCommand(command)

	switch outcome.state {
	case readTimedOut:
		s.trans.Logf("[TIMEOUT after %dms]\n%s", timeout.Milliseconds(), output)
		s.log.Warn("command timed out", "command", command, "timeout", timeout)
		return Result{
			Status:    StatusTimeout,
			Output:    output,
			TimeoutMs: int(timeout.Milliseconds()),
			Command:   command,
		}
	case readEOF:
		// Shell died mid-command. Report what arrived; exit code unknown.
		s.mu.Lock()
		s.dead = true
		s.mu.Unlock()
		s.trans.Logf("%s\n[shell exited during command]", output)
		s.log.Warn("shell exited during command", "command", command)
		return Result{
			Status:  StatusOK,
			Output:  output,
			Command: command,
		}
	default:
		if outcome.exitCode != nil {
			s.trans.Logf("%s\n[exit: %d]", output, *outcome.exitCode)
		} else {
			s.trans.Logf("%s\n[exit: unknown]", output)
		}
		return Result{
			Status:   StatusOK,
			Output:   output,
			ExitCode: outcome.exitCode,
			Command:  command,
		}
	}
}

func (s *Session) recordCommand(command string) {
	s.mu.Lock()
	s.commandCount++
	s.lastCommand = command
	s.mu.Unlock()
}

// Close terminates the shell subprocess and closes the transcript. Close is
// idempotent; calls after the first are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.proc != nil {
		s.proc.Terminate(s.closeGrace)
	}
	s.trans.Logf("session closed")
	s.trans.Close()
	s.log.Info("session closed")
}

// Info returns a snapshot of the session's state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		SessionID:    s.id,
		Shell:        s.shellPath,
		Cwd:          s.cwd,
		Alive:        !s.closed && !s.dead && s.proc != nil && s.proc.Alive(),
		CommandCount: s.commandCount,
		LastCommand:  s.lastCommand,
		CreatedAt:    s.createdAt.Format(time.RFC3339),
	}
	if info.Alive {
		info.PID = s.proc.PID()
	}
	return info
}
