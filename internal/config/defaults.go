package config

const (
	defaultConfigPath             = "~/.config/sifter/config.toml"
	defaultDataDir                = "~/.local/share/sifter"
	defaultResultsDir             = "~/.local/share/sifter/results"
	defaultUploadDir              = "~/.local/share/sifter/uploads"
	defaultLogDir                 = "~/.local/share/sifter/logs"
	defaultSettingsFallbackPath   = "~/.local/share/sifter/workflow_settings.toml"
	defaultAPIBind                = "127.0.0.1:7491"
	defaultStoreDriver            = DriverSQLite
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "openai/gpt-4o-mini"
	defaultLLMReferer             = "https://github.com/sifter/sifter"
	defaultLLMTitle               = "Sifter Keyword Analyzer"
	defaultLLMTimeoutSeconds      = 90
	defaultWorkflowName           = "excel_processor"
	defaultChunkSize              = 100
	defaultSheetName              = "CATEGORY"
	defaultCategory               = "general"
	defaultAnalyzerTimeoutSeconds = 120
	defaultChunkFailurePolicy     = PolicyIsolate
	defaultPersistRetryAttempts   = 3
	defaultPersistRetryBackoffMS  = 250
	defaultSettingsCacheTTL       = 60
	defaultEventSubjectPrefix     = "sifter.sessions"
	defaultEventHubCapacity       = 1024
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogMaxSizeMB           = 20
	defaultLogMaxBackups          = 5
	defaultLogRetentionDays       = 30
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Chunk failure policies.
const (
	PolicyIsolate = "isolate"
	PolicyAbort   = "abort"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			ResultsDir: defaultResultsDir,
			UploadDir:  defaultUploadDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Store: Store{
			Driver: defaultStoreDriver,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			Name:                   defaultWorkflowName,
			DefaultChunkSize:       defaultChunkSize,
			SheetName:              defaultSheetName,
			DefaultCategory:        defaultCategory,
			AnalyzerTimeoutSeconds: defaultAnalyzerTimeoutSeconds,
			ChunkFailurePolicy:     defaultChunkFailurePolicy,
			PersistRetryAttempts:   defaultPersistRetryAttempts,
			PersistRetryBackoffMS:  defaultPersistRetryBackoffMS,
		},
		Settings: Settings{
			FallbackPath:    defaultSettingsFallbackPath,
			CacheTTLSeconds: defaultSettingsCacheTTL,
		},
		Events: Events{
			SubjectPrefix: defaultEventSubjectPrefix,
			HubCapacity:   defaultEventHubCapacity,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyRequestTimeout,
			SessionCompleted: true,
			SessionFailed:    true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
			RetentionDays: defaultLogRetentionDays,
			Compress:      true,
		},
	}
}
