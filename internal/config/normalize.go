package config

import (
	"fmt"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRender()
	c.normalizeAnalysis()
	c.normalizeWorkflow()
	c.normalizeOutput()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRender() {
	engines := make([]string, 0, len(c.Render.Engines))
	seen := make(map[string]struct{}, len(c.Render.Engines))
	for _, name := range c.Render.Engines {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		engines = append(engines, normalized)
	}
	if len(engines) == 0 {
		engines = []string{"external", "softsynth"}
	}
	c.Render.Engines = engines

	if c.Render.MaxSeconds <= 0 {
		c.Render.MaxSeconds = defaultRenderMaxSeconds
	}
	if c.Render.SampleRate <= 0 {
		c.Render.SampleRate = defaultRenderSampleRate
	}
	if c.Render.RenderTimeout <= 0 {
		c.Render.RenderTimeout = defaultRenderTimeout
	}
	c.Render.ChipModel = strings.TrimSpace(c.Render.ChipModel)
	if c.Render.ChipModel == "" {
		c.Render.ChipModel = defaultChipModel
	}
	c.Render.ExternalBinary = strings.TrimSpace(c.Render.ExternalBinary)
	c.Render.FlacBinary = strings.TrimSpace(c.Render.FlacBinary)
	if c.Render.FlacBinary == "" {
		c.Render.FlacBinary = "flac"
	}
	c.Render.LameBinary = strings.TrimSpace(c.Render.LameBinary)
	if c.Render.LameBinary == "" {
		c.Render.LameBinary = "lame"
	}
}

func (c *Config) normalizeAnalysis() {
	if c.Analysis.WindowSeconds <= 0 {
		c.Analysis.WindowSeconds = defaultWindowSeconds
	}
	if c.Analysis.IntroSkipSeconds < 0 {
		c.Analysis.IntroSkipSeconds = defaultIntroSkipSeconds
	}
	if c.Analysis.AnalysisRate <= 0 {
		c.Analysis.AnalysisRate = defaultAnalysisRate
	}
	if c.Analysis.Workers <= 0 {
		workers := runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
		c.Analysis.Workers = workers
	}
	if c.Analysis.JobTimeout <= 0 {
		c.Analysis.JobTimeout = defaultAnalysisJobTO
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Lanes <= 0 {
		c.Workflow.Lanes = defaultLanes
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.StallTimeout <= 0 {
		c.Workflow.StallTimeout = defaultStallTimeout
	}
}

func (c *Config) normalizeOutput() {
	if strings.TrimSpace(c.Output.RecordsFile) == "" {
		c.Output.RecordsFile = defaultRecordsFile
	}
	if strings.TrimSpace(c.Output.AuditFile) == "" {
		c.Output.AuditFile = defaultAuditFile
	}
	if c.Output.RetryAttempts <= 0 {
		c.Output.RetryAttempts = defaultRetryAttempts
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
