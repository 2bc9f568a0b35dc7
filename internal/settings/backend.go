package settings

import (
	"context"
	"time"
)

// Well-known settings.
const (
	KeyAgentInstructions = "agent_instructions"
)

// Setting is one stored value.
type Setting struct {
	Workflow    string
	Key         string
	Value       string
	Description string
	UpdatedAt   time.Time
}

// Backend is a durable settings store. Get reports found=false for missing or
// soft-deleted keys.
type Backend interface {
	Name() string
	Get(ctx context.Context, workflow, key string) (string, bool, error)
	Set(ctx context.Context, setting Setting) error
	All(ctx context.Context, workflow string) ([]Setting, error)
	Delete(ctx context.Context, workflow, key string) (bool, error)
}
