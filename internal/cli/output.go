package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// stdout receives command output; tests replace it
var stdout io.Writer = os.Stdout

// PrintError prints an error message to stderr
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	fmt.Fprintf(stdout, "✅ "+format+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(stdout, "⚠️  "+format+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	fmt.Fprintf(stdout, format+"\n", args...)
}

// PrintHeader prints a section header
func PrintHeader(title string) {
	fmt.Fprintln(stdout, title)
	fmt.Fprintln(stdout, strings.Repeat("=", len(title)))
}

// PrintDivider prints a visual divider
func PrintDivider() {
	fmt.Fprintln(stdout, strings.Repeat("-", 70))
}

// PrintJSON prints v as indented JSON
func PrintJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatExpiry renders an optional expiration date
func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
