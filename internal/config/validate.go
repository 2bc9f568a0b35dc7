package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Paths.DataDir) == "" {
			return errors.New("paths.data_dir must be set for the sqlite store")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("store.dsn must be set when store.driver is postgres (or set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (expected sqlite or postgres)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.default_chunk_size":       c.Workflow.DefaultChunkSize,
		"workflow.analyzer_timeout_seconds": c.Workflow.AnalyzerTimeoutSeconds,
		"workflow.persist_retry_backoff_ms": c.Workflow.PersistRetryBackoffMS,
		"llm.timeout_seconds":               c.LLM.TimeoutSeconds,
		"notifications.request_timeout":     c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.ChunkRetryAttempts < 0 {
		return errors.New("workflow.chunk_retry_attempts must be >= 0")
	}
	if c.Workflow.PersistRetryAttempts < 0 {
		return errors.New("workflow.persist_retry_attempts must be >= 0")
	}
	switch c.Workflow.ChunkFailurePolicy {
	case PolicyIsolate, PolicyAbort:
	default:
		return fmt.Errorf("workflow.chunk_failure_policy: unsupported value %q (expected isolate or abort)", c.Workflow.ChunkFailurePolicy)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.HubCapacity <= 0 {
		return errors.New("events.hub_capacity must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
