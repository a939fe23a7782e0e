// Package shell implements persistent interactive shell sessions driven over
// stdin/stdout pipes.
//
// # Overview
//
// A Session owns one long-lived shell subprocess. Commands are executed
// against it one at a time, with environment variables and working directory
// persisting between calls. Because a shell is an unframed byte stream, the
// package uses a sentinel handshake to recover discrete command/response
// pairs: after each command it injects an echo of the command's exit status
// concatenated with a unique random marker, then reads output lines until
// that marker appears.
//
// # Command Flow
//
//	Session.Execute(command, timeoutMs)
//	    ↓ (execution gate: one in-flight command per session)
//	commandBlock() — command + sentinel echo written to stdin
//	    ↓
//	collectUntilSentinel() — line loop: Reading → Matched | Eof | TimedOut
//	    ↓
//	Result{ok | timeout | error}
//
// # Components
//
// Detect: picks the best available shell for the host platform.
//
// NormalizePowerShellQuoting: rewrites nested PowerShell invocations so the
// outer shell does not expand PowerShell's $ variables.
//
// Process: the subprocess and its pipes. Stderr is merged into stdout so
// diagnostics interleave with normal output in arrival order.
//
// Session: the public surface — Start, Execute, Close, Info.
//
// # Timeouts
//
// A command that exceeds its deadline is abandoned, not killed: Execute
// returns whatever whole lines were collected, tagged as a timeout, and the
// subprocess keeps running. Output the runaway command produces afterwards is
// not drained; whatever arrives before the next command's sentinel is
// prefixed onto that command's output. This is a known protocol limitation,
// kept deliberately — draining would race against the next command.
package shell
