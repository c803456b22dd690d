package agent

import "regexp"

// ansiPattern matches CSI/OSC ANSI escape sequences. No ANSI-stripping
// library appears anywhere in the retrieved example pack, so this is
// implemented on the standard library rather than inventing a dependency
// the corpus never demonstrated (see DESIGN.md).
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][A-B0-2]`)

// StripANSI removes ANSI escape sequences from s, producing the text
// written to the lane's readable terminal.log (as opposed to
// terminal-raw.log, which keeps the original bytes).
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
