// Package debug provides env-gated diagnostic logging.
package debug

import (
	"fmt"
	"os"
)

var (
	enabled     = os.Getenv("WAGGLE_DEBUG") != ""
	verboseMode = false
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output regardless of the environment.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// Logf writes a diagnostic line to stderr when debug output is active.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
