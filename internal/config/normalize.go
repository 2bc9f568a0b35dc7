package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeLLM()
	c.normalizeWorkflow()
	if err := c.normalizeSettings(); err != nil {
		return err
	}
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ResultsDir) == "" {
		c.Paths.ResultsDir = defaultResultsDir
	}
	if c.Paths.ResultsDir, err = expandPath(c.Paths.ResultsDir); err != nil {
		return fmt.Errorf("paths.results_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("SIFTER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "postgresql", "pg":
		c.Store.Driver = DriverPostgres
	case "sqlite3":
		c.Store.Driver = DriverSQLite
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" && c.Store.Driver == DriverPostgres {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("SIFTER_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.Name = strings.TrimSpace(c.Workflow.Name)
	if c.Workflow.Name == "" {
		c.Workflow.Name = defaultWorkflowName
	}
	if c.Workflow.DefaultChunkSize <= 0 {
		c.Workflow.DefaultChunkSize = defaultChunkSize
	}
	c.Workflow.SheetName = strings.TrimSpace(c.Workflow.SheetName)
	if c.Workflow.SheetName == "" {
		c.Workflow.SheetName = defaultSheetName
	}
	c.Workflow.DefaultCategory = strings.TrimSpace(c.Workflow.DefaultCategory)
	if c.Workflow.DefaultCategory == "" {
		c.Workflow.DefaultCategory = defaultCategory
	}
	c.Workflow.TermColumn = strings.TrimSpace(c.Workflow.TermColumn)
	c.Workflow.CategoryColumn = strings.TrimSpace(c.Workflow.CategoryColumn)
	if c.Workflow.AnalyzerTimeoutSeconds <= 0 {
		c.Workflow.AnalyzerTimeoutSeconds = defaultAnalyzerTimeoutSeconds
	}
	c.Workflow.ChunkFailurePolicy = strings.ToLower(strings.TrimSpace(c.Workflow.ChunkFailurePolicy))
	if c.Workflow.ChunkFailurePolicy == "" {
		c.Workflow.ChunkFailurePolicy = defaultChunkFailurePolicy
	}
	if c.Workflow.PersistRetryBackoffMS <= 0 {
		c.Workflow.PersistRetryBackoffMS = defaultPersistRetryBackoffMS
	}
}

func (c *Config) normalizeSettings() error {
	var err error
	if strings.TrimSpace(c.Settings.FallbackPath) == "" {
		c.Settings.FallbackPath = defaultSettingsFallbackPath
	}
	if c.Settings.FallbackPath, err = expandPath(c.Settings.FallbackPath); err != nil {
		return fmt.Errorf("settings.fallback_path: %w", err)
	}
	if c.Settings.CacheTTLSeconds < 0 {
		c.Settings.CacheTTLSeconds = 0
	}
	return nil
}

func (c *Config) normalizeEvents() {
	c.Events.NATSURL = strings.TrimSpace(c.Events.NATSURL)
	if c.Events.NATSURL == "" {
		if value, ok := os.LookupEnv("NATS_URL"); ok {
			c.Events.NATSURL = strings.TrimSpace(value)
		}
	}
	c.Events.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Events.SubjectPrefix), ".")
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = defaultEventSubjectPrefix
	}
	if c.Events.HubCapacity <= 0 {
		c.Events.HubCapacity = defaultEventHubCapacity
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
