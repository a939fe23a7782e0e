// Package transcript writes per-session command logs.
//
// Each session gets its own file under the logs directory, named
// <session-id>_<timestamp>.log, recording every command sent to the shell
// and every outcome. Transcript writes are best effort: a session must keep
// working even when its transcript cannot be written.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/paths"
)

// Writer appends timestamped entries to one session's transcript file.
// All methods are safe on a nil receiver, which is how a session with a
// failed transcript open keeps running.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates a transcript file for the given session. The filename embeds
// the open time so restarted sessions with a reused id do not clobber old
// transcripts.
func Open(sessionID string) (*Writer, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.log", sessionID, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}

	return &Writer{file: file, path: path}, nil
}

// Path returns the transcript file's location, or "" on a nil Writer.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Logf appends one timestamped line. Errors are logged and swallowed.
func (w *Writer) Logf(format string, args ...any) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}

	stamp := time.Now().UTC().Format("15:04:05.000")
	line := fmt.Sprintf("[%s] %s\n", stamp, fmt.Sprintf(format, args...))
	if _, err := w.file.WriteString(line); err != nil {
		logger.WithComponent("transcript").Debug("transcript write failed", "path", w.path, "error", err)
	}
}

// Close flushes and closes the transcript file. Safe to call more than once.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}
