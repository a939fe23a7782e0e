package shell

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sentinelPrefix starts every completion marker. The random hex suffix makes
// each marker unique, so output that happens to contain the prefix cannot be
// mistaken for the real marker.
const sentinelPrefix = "__TETHER_DONE_"

// newSentinel returns a fresh completion marker for one command execution.
func newSentinel() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return sentinelPrefix + hex[:8]
}

// commandBlock assembles the text written to the shell's stdin for one
// command: the command itself followed by an echo of its exit status
// concatenated with the sentinel.
//
// The `: _` no-ops before and after reset bash's $_ (last argument of the
// previous command) to a stable placeholder, so commands that reference $_
// see a harmless value instead of fragments of the injected echo.
func commandBlock(command, sentinel string) string {
	var b strings.Builder
	b.WriteString(": _\n")
	b.WriteString(command)
	b.WriteString("\n")
	b.WriteString("echo $?:")
	b.WriteString(sentinel)
	b.WriteString("\n")
	b.WriteString(": _\n")
	return b.String()
}

// readState is the terminal state of a sentinel read loop.
type readState int

const (
	// readMatched means the sentinel line arrived and carried an exit code.
	readMatched readState = iota
	// readEOF means the output stream closed before the sentinel appeared;
	// the shell process died mid-command.
	readEOF
	// readTimedOut means the deadline elapsed before the sentinel appeared.
	readTimedOut
)

// readOutcome is the result of collecting output for one command. exitCode
// is nil when the sentinel line's status field could not be parsed.
type readOutcome struct {
	state    readState
	lines    []string
	exitCode *int
}

// collectUntilSentinel reads whole lines from the channel until a line
// containing the sentinel arrives, the channel closes, or the deadline
// elapses. Only complete lines are ever returned; a partial line the shell
// has emitted but not terminated is not visible here by construction.
//
// On timeout the read is simply abandoned. The subprocess is left running and
// its channel is not drained, so lines produced afterwards are observed by
// the next command's collect loop.
func collectUntilSentinel(lines <-chan string, sentinel string, timeout time.Duration) readOutcome {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var collected []string
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return readOutcome{state: readEOF, lines: collected}
			}
			if idx := strings.Index(line, sentinel); idx >= 0 {
				return readOutcome{
					state:    readMatched,
					lines:    collected,
					exitCode: parseExitCode(line[:idx]),
				}
			}
			collected = append(collected, line)
		case <-deadline.C:
			return readOutcome{state: readTimedOut, lines: collected}
		}
	}
}

// parseExitCode extracts the numeric exit status from the text preceding the
// sentinel on its line. The echo produces "<status>:<sentinel>"; after
// trimming the trailing colon the remainder must parse as an integer. Output
// glued in front of the status (a command that printed without a trailing
// newline) makes the status unrecoverable, so the exit code is reported as
// unknown (nil) rather than guessed.
func parseExitCode(beforeSentinel string) *int {
	s := strings.TrimSuffix(beforeSentinel, ":")
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &code
}
