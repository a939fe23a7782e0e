// Package cli provides utilities for checking the host's shell inventory.
package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Prerequisite represents a shell executable the server may hand to sessions
type Prerequisite struct {
	Name        string // Command name or absolute path (e.g., "bash", "/bin/sh")
	Required    bool   // Whether the server can run at all without it
	Description string // Human-readable description
}

// DefaultPrerequisites returns the shells worth probing on this host. Only a
// POSIX sh (or cmd.exe on Windows) is required; the rest are optional
// alternatives a client may request by path.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "sh",
			Required:    true,
			Description: "POSIX shell (session fallback)",
		},
		{
			Name:        "bash",
			Required:    false,
			Description: "GNU Bash",
		},
		{
			Name:        "zsh",
			Required:    false,
			Description: "Z shell",
		},
		{
			Name:        "pwsh",
			Required:    false,
			Description: "PowerShell 7+",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Check verifies that a shell is available in PATH (or at its absolute path)
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := resolvePath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path

	if version := getVersion(path); version != "" {
		result.Version = version
	}

	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateShell checks that a specific shell, requested by name or path, is
// usable for sessions. An empty name is valid; it means auto-detect.
func ValidateShell(name string) error {
	if name == "" {
		return nil
	}
	if _, err := resolvePath(name); err != nil {
		return fmt.Errorf("configured shell %s is not available: %w", name, err)
	}
	return nil
}

// ValidateRequired checks that all required prerequisites are met.
// Returns nil if all required shells are found, otherwise returns an error
// describing what's missing
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		result := Check(prereq)
		if !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)", prereq.Name, prereq.Description))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required shells:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// resolvePath resolves a shell by PATH lookup, or verifies an absolute path
// points at a regular file.
func resolvePath(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		info, err := os.Stat(name)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", name)
		}
		return name, nil
	}
	return exec.LookPath(name)
}

// getVersion attempts to get the version of a shell
func getVersion(path string) string {
	output, err := exec.Command(path, "--version").Output()
	if err != nil {
		return ""
	}

	// Return first line of output, trimmed
	lines := strings.Split(string(output), "\n")
	if len(lines) == 0 {
		return ""
	}
	version := strings.TrimSpace(lines[0])
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Available shells:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		if r.Found && r.Version != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Version))
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
