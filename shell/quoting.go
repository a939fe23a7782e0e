package shell

import (
	"regexp"
	"strings"
)

// powershellCommandPattern matches powershell/pwsh invocations whose -Command
// argument is double-quoted and contains a $ sigil — the case where the outer
// shell would expand the $ before PowerShell ever sees it.
var powershellCommandPattern = regexp.MustCompile(
	`((?:powershell(?:\.exe)?|pwsh(?:\.exe)?)\s+(?:-\w+\s+)*-[Cc]ommand\s+)"((?:[^"\\]|\\.)*\$(?:[^"\\]|\\.)*)"`,
)

// NormalizePowerShellQuoting rewrites PowerShell commands to use single
// quotes around -Command.
//
// Bash expands $ variables inside double-quoted strings, which corrupts
// PowerShell's $_ and other PS variables before they reach the inner
// interpreter. This detects patterns like:
//
//	powershell.exe -Command "... $_ ..."
//
// and rewrites them to:
//
//	powershell.exe -Command '... $_ ...'
//
// with any single quotes inside the argument escaped so the result
// stays valid for the outer shell. Commands that don't match pass through
// unchanged, and the rewrite is idempotent — single-quoted arguments no
// longer match the pattern.
func NormalizePowerShellQuoting(command string) string {
	return powershellCommandPattern.ReplaceAllStringFunc(command, func(match string) string {
		sub := powershellCommandPattern.FindStringSubmatch(match)
		inner := strings.ReplaceAll(sub[2], "'", `'\''`)
		return sub[1] + "'" + inner + "'"
	})
}
