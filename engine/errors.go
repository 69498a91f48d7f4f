package engine

import "fmt"

// ConfigurationError reports mismatched dimensions or invalid settings.
// It is always raised before the first simulation step, so a failed run
// leaves no partial state behind.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// AcceleratorError wraps device initialization or kernel failures from the
// GPU backend. The caller decides whether to retry on the CPU backend;
// the engine never substitutes one silently.
type AcceleratorError struct {
	Op  string
	Err error
}

func (e *AcceleratorError) Error() string {
	return fmt.Sprintf("accelerator: %s: %v", e.Op, e.Err)
}

func (e *AcceleratorError) Unwrap() error { return e.Err }
