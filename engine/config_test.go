package engine

import "testing"

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }, true},
		{"negative learning rate", func(c *Config) { c.LearningRate = -1 }, false},
		{"margin too large", func(c *Config) { c.CoefMargin = 0.5 }, false},
		{"zero margin", func(c *Config) { c.CoefMargin = 0 }, false},
		{"inverted delay bounds", func(c *Config) { c.DelayMin = 10; c.DelayMax = 5 }, false},
		{"negative delay min", func(c *Config) { c.DelayMin = -1 }, false},
		{"negative batch", func(c *Config) { c.BeatsPerBatch = -1 }, false},
		{"negative epochs", func(c *Config) { c.Epochs = -2 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAcceleratorErrorUnwrap(t *testing.T) {
	inner := &ConfigurationError{Reason: "boom"}
	err := &AcceleratorError{Op: "compile", Err: inner}
	if err.Unwrap() != inner {
		t.Error("Unwrap should return the wrapped error")
	}
	if err.Error() == "" {
		t.Error("error string should not be empty")
	}
}
