package shell

import (
	"os"
	"testing"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/paths"
)

// TestMain points HOME at a scratch directory so session transcripts and the
// server log never touch the real user's state.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "tether-test-home")
	if err != nil {
		os.Exit(1)
	}
	os.Setenv("HOME", tmp)
	os.Unsetenv("XDG_CONFIG_HOME")
	os.Unsetenv("XDG_DATA_HOME")
	os.Unsetenv("XDG_STATE_HOME")
	paths.Reset()
	logger.Reset()

	code := m.Run()

	logger.Close()
	os.RemoveAll(tmp)
	os.Exit(code)
}
