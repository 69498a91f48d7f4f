package gpu

import "fmt"

// Debug enables verbose adapter and dispatch logging.
var Debug = false

// Log prints a formatted message when Debug is set.
func Log(format string, args ...any) {
	if Debug {
		fmt.Printf("[gpu] "+format+"\n", args...)
	}
}
