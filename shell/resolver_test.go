package shell

import (
	"errors"
	"path/filepath"
	"testing"
)

func fakeProbes(goos string, env map[string]string, files map[string]bool, path map[string]string) probes {
	return probes{
		goos: goos,
		getenv: func(key string) string {
			return env[key]
		},
		isFile: func(p string) bool {
			return files[p]
		},
		lookPath: func(name string) (string, error) {
			if p, ok := path[name]; ok {
				return p, nil
			}
			return "", errors.New("executable file not found")
		},
	}
}

func TestDetectUnix(t *testing.T) {
	t.Run("uses SHELL", func(t *testing.T) {
		p := fakeProbes("linux", map[string]string{"SHELL": "/usr/bin/zsh"}, nil, nil)
		if got := detect(p); got != "/usr/bin/zsh" {
			t.Errorf("detect = %q, want /usr/bin/zsh", got)
		}
	})

	t.Run("falls back to sh", func(t *testing.T) {
		p := fakeProbes("darwin", nil, nil, nil)
		if got := detect(p); got != "/bin/sh" {
			t.Errorf("detect = %q, want /bin/sh", got)
		}
	})
}

func TestDetectWindows(t *testing.T) {
	gitBashBin := filepath.Join(`C:\Program Files`, "Git", "bin", "bash.exe")
	gitBashUsr := filepath.Join(`C:\Program Files`, "Git", "usr", "bin", "bash.exe")

	tests := []struct {
		name  string
		env   map[string]string
		files map[string]bool
		path  map[string]string
		want  string
	}{
		{
			name:  "git bash bin preferred",
			files: map[string]bool{gitBashBin: true, gitBashUsr: true},
			path:  map[string]string{"pwsh": `C:\pwsh.exe`},
			want:  gitBashBin,
		},
		{
			name:  "git bash usr fallback",
			files: map[string]bool{gitBashUsr: true},
			want:  gitBashUsr,
		},
		{
			name: "custom program files",
			env:  map[string]string{"PROGRAMFILES": `D:\Programs`},
			files: map[string]bool{
				filepath.Join(`D:\Programs`, "Git", "bin", "bash.exe"): true,
			},
			want: filepath.Join(`D:\Programs`, "Git", "bin", "bash.exe"),
		},
		{
			name: "bash on PATH",
			path: map[string]string{"bash.exe": `C:\msys64\bash.exe`},
			want: `C:\msys64\bash.exe`,
		},
		{
			name: "pwsh before powershell",
			path: map[string]string{"pwsh": `C:\pwsh.exe`, "powershell": `C:\ps.exe`},
			want: `C:\pwsh.exe`,
		},
		{
			name: "powershell 5",
			path: map[string]string{"powershell": `C:\ps.exe`},
			want: `C:\ps.exe`,
		},
		{
			name: "cmd last resort",
			want: "cmd.exe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fakeProbes("windows", tt.env, tt.files, tt.path)
			if got := detect(p); got != tt.want {
				t.Errorf("detect = %q, want %q", got, tt.want)
			}
		})
	}
}
