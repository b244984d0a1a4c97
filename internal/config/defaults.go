package config

const (
	defaultLibraryDir        = "~/chiptunes"
	defaultCacheDir          = "~/.local/share/chipscore/cache"
	defaultOutputDir         = "~/.local/share/chipscore/output"
	defaultLogDir            = "~/.local/share/chipscore/logs"
	defaultStateDir          = "~/.local/share/chipscore/state"
	defaultRenderMaxSeconds  = 180
	defaultRenderSampleRate  = 44100
	defaultRenderTimeout     = 300
	defaultChipModel         = "6581"
	defaultHardwareLossRate  = 0.05
	defaultHardwareTimeout   = 30
	defaultWindowSeconds     = 90
	defaultIntroSkipSeconds  = 15
	defaultAnalysisRate      = 11025
	defaultAnalysisJobTO     = 120
	defaultLanes             = 4
	defaultHeartbeatInterval = 5
	defaultStallTimeout      = 120
	defaultRecordsFile       = "classifications.jsonl"
	defaultAuditFile         = "audit.jsonl"
	defaultRetryAttempts     = 3
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LibraryDir: defaultLibraryDir,
			CacheDir:   defaultCacheDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
		},
		Render: Render{
			Engines:       []string{"external", "softsynth"},
			MaxSeconds:    defaultRenderMaxSeconds,
			SampleRate:    defaultRenderSampleRate,
			ChipModel:     defaultChipModel,
			RenderTimeout: defaultRenderTimeout,
		},
		Hardware: Hardware{
			MaxLossRate:   defaultHardwareLossRate,
			StreamTimeout: defaultHardwareTimeout,
		},
		Analysis: Analysis{
			WindowSeconds:    defaultWindowSeconds,
			IntroSkipSeconds: defaultIntroSkipSeconds,
			AnalysisRate:     defaultAnalysisRate,
			Workers:          0, // 0 = runtime.NumCPU()/2, clamped in normalize
			JobTimeout:       defaultAnalysisJobTO,
		},
		Workflow: Workflow{
			Lanes:             defaultLanes,
			HeartbeatInterval: defaultHeartbeatInterval,
			StallTimeout:      defaultStallTimeout,
		},
		Output: Output{
			RecordsFile:   defaultRecordsFile,
			AuditFile:     defaultAuditFile,
			RetryAttempts: defaultRetryAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
