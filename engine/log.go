package engine

import "fmt"

// Debug enables progress and warning output from the engine. Warnings are
// informational; the run continues.
var Debug = false

// Log prints a formatted engine message when Debug is set.
func Log(format string, args ...any) {
	if Debug {
		fmt.Printf("[engine] "+format+"\n", args...)
	}
}
