package config

import (
	"fmt"
	"strings"
)

var knownEngines = map[string]struct{}{
	"softsynth": {},
	"external":  {},
	"hardware":  {},
}

// Validate checks the configuration for contradictions a run cannot recover from.
func (c *Config) Validate() error {
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateHardware(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRender() error {
	for _, engine := range c.Render.Engines {
		if _, ok := knownEngines[engine]; !ok {
			return fmt.Errorf("render.engines: unknown engine %q (known: softsynth, external, hardware)", engine)
		}
	}
	if c.Render.SampleRate < 8000 {
		return fmt.Errorf("render.sample_rate: %d is below the 8000 Hz minimum", c.Render.SampleRate)
	}
	return nil
}

func (c *Config) validateHardware() error {
	wantsHardware := false
	for _, engine := range c.Render.Engines {
		if engine == "hardware" {
			wantsHardware = true
		}
	}
	if wantsHardware && strings.TrimSpace(c.Hardware.ControlURL) == "" {
		return fmt.Errorf("hardware.control_url: required when render.engines includes hardware")
	}
	if c.Hardware.MaxLossRate < 0 || c.Hardware.MaxLossRate >= 1 {
		return fmt.Errorf("hardware.max_loss_rate: %v must be within [0, 1)", c.Hardware.MaxLossRate)
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.IntroSkipSeconds >= c.Analysis.WindowSeconds*4 {
		return fmt.Errorf("analysis.intro_skip_seconds: %d is implausibly large for a %ds window",
			c.Analysis.IntroSkipSeconds, c.Analysis.WindowSeconds)
	}
	if c.Analysis.AnalysisRate > c.Render.SampleRate {
		return fmt.Errorf("analysis.analysis_rate: %d exceeds render.sample_rate %d",
			c.Analysis.AnalysisRate, c.Render.SampleRate)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
