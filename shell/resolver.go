package shell

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/zhubert/tether/logger"
)

// probes abstracts the filesystem and environment lookups used by shell
// detection, so tests can exercise every platform branch without the host's
// real shell inventory.
type probes struct {
	goos     string
	getenv   func(string) string
	isFile   func(string) bool
	lookPath func(string) (string, error)
}

// defaultProbes returns probes backed by the real OS.
func defaultProbes() probes {
	return probes{
		goos:   runtime.GOOS,
		getenv: os.Getenv,
		isFile: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && !info.IsDir()
		},
		lookPath: exec.LookPath,
	}
}

// Detect returns the best available shell for the current platform.
//
// On Windows, probes in order of preference:
//  1. Git Bash (bin\bash.exe — full PATH with ls, git, etc.)
//  2. Git Bash (usr\bin\bash.exe — works but minimal PATH)
//  3. bash on PATH (e.g. WSL, MSYS2)
//  4. PowerShell 7+ (pwsh)
//  5. PowerShell 5 (powershell)
//  6. cmd.exe (always available)
//
// On Unix, uses $SHELL or falls back to /bin/sh. Detection is deterministic
// for a given filesystem and environment snapshot and always produces a value.
func Detect() string {
	return detect(defaultProbes())
}

func detect(p probes) string {
	log := logger.WithComponent("shell")

	if p.goos != "windows" {
		if sh := p.getenv("SHELL"); sh != "" {
			return sh
		}
		return "/bin/sh"
	}

	// Git Bash — prefer bin\bash.exe (full PATH) over usr\bin\bash.exe.
	// PROGRAMFILES env vars cover non-standard install locations.
	programDirs := []string{
		p.getenv("PROGRAMFILES"),
		p.getenv("PROGRAMFILES(X86)"),
	}
	if programDirs[0] == "" {
		programDirs[0] = `C:\Program Files`
	}
	if programDirs[1] == "" {
		programDirs[1] = `C:\Program Files (x86)`
	}
	for _, pdir := range programDirs {
		for _, sub := range []string{filepath.Join("Git", "bin", "bash.exe"), filepath.Join("Git", "usr", "bin", "bash.exe")} {
			candidate := filepath.Join(pdir, sub)
			if p.isFile(candidate) {
				log.Info("detected shell", "path", candidate)
				return candidate
			}
		}
	}

	// bash on PATH (e.g. WSL, MSYS2)
	for _, name := range []string{"bash.exe", "bash"} {
		if path, err := p.lookPath(name); err == nil {
			log.Info("detected shell", "path", path)
			return path
		}
	}

	// PowerShell 7+
	if path, err := p.lookPath("pwsh"); err == nil {
		log.Info("detected shell", "path", path)
		return path
	}

	// PowerShell 5 (ships with Windows)
	if path, err := p.lookPath("powershell"); err == nil {
		log.Info("detected shell", "path", path)
		return path
	}

	// cmd.exe — always available
	log.Info("detected shell: cmd.exe (fallback)")
	return "cmd.exe"
}
