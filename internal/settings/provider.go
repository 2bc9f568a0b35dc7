package settings

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"sifter/internal/config"
	"sifter/internal/database"
	"sifter/internal/logging"
	"sifter/internal/services"
)

const stageName = "settings"

// Provider reads and writes settings through the primary backend, switching to
// the fallback for any call the primary cannot serve.
type Provider struct {
	primary  Backend
	fallback Backend
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewProvider builds a Provider. primary may be nil, in which case only the
// fallback is used. A non-positive ttl disables read caching.
func NewProvider(primary, fallback Backend, ttl time.Duration, logger *slog.Logger) *Provider {
	p := &Provider{
		primary:  primary,
		fallback: fallback,
		logger:   logging.NewComponentLogger(logger, "settings"),
	}
	if ttl > 0 {
		p.cache = cache.New(ttl, 2*ttl)
	}
	return p
}

// Get returns the stored value or def when the key is missing or no backend
// can be read.
func (p *Provider) Get(ctx context.Context, workflow, key, def string) string {
	value, found, err := p.Lookup(ctx, workflow, key)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "settings unavailable; using default", "settings_read_failed",
			logging.String("workflow", workflow),
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database connectivity and the settings fallback file"),
			logging.String(logging.FieldImpact, "built-in default used"),
		)
		return def
	}
	if !found {
		return def
	}
	return value
}

// Lookup returns the stored value and whether it exists.
func (p *Provider) Lookup(ctx context.Context, workflow, key string) (string, bool, error) {
	cacheKey := cacheKeyFor(workflow, key)
	if p.cache != nil {
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached.(string), true, nil
		}
	}

	var (
		value string
		found bool
	)
	err := p.each(ctx, "get", func(b Backend) error {
		var err error
		value, found, err = b.Get(ctx, workflow, key)
		return err
	})
	if err != nil {
		return "", false, err
	}
	if found && p.cache != nil {
		p.cache.Set(cacheKey, value, cache.DefaultExpiration)
	}
	return value, found, nil
}

// Set stores a value. An empty description keeps any existing one.
func (p *Provider) Set(ctx context.Context, workflow, key, value, description string) error {
	workflow, key = strings.TrimSpace(workflow), strings.TrimSpace(key)
	if workflow == "" || key == "" {
		return services.Wrap(services.ErrValidation, stageName, "set", "workflow and key are required", nil)
	}
	setting := Setting{Workflow: workflow, Key: key, Value: value, Description: strings.TrimSpace(description)}
	err := p.each(ctx, "set", func(b Backend) error {
		return b.Set(ctx, setting)
	})
	p.invalidate(workflow, key)
	return err
}

// All lists active settings for a workflow.
func (p *Provider) All(ctx context.Context, workflow string) ([]Setting, error) {
	var out []Setting
	err := p.each(ctx, "list", func(b Backend) error {
		var err error
		out, err = b.All(ctx, workflow)
		return err
	})
	return out, err
}

// Delete soft-deletes a setting, reporting whether it existed.
func (p *Provider) Delete(ctx context.Context, workflow, key string) (bool, error) {
	var deleted bool
	err := p.each(ctx, "delete", func(b Backend) error {
		var err error
		deleted, err = b.Delete(ctx, workflow, key)
		return err
	})
	p.invalidate(workflow, key)
	return deleted, err
}

// each runs fn against the primary backend and, when that fails, against the
// fallback. The returned error is set only if every backend failed.
func (p *Provider) each(ctx context.Context, op string, fn func(Backend) error) error {
	var primaryErr error
	if p.primary != nil {
		if primaryErr = fn(p.primary); primaryErr == nil {
			return nil
		}
		if p.fallback == nil {
			return services.Wrap(services.ErrPersistence, stageName, op, p.primary.Name(), primaryErr)
		}
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "primary settings store failed; using fallback", "settings_fallback",
			logging.String("operation", op),
			logging.String("fallback", p.fallback.Name()),
			logging.Error(primaryErr),
			logging.String(logging.FieldErrorHint, "check database connectivity"),
			logging.String(logging.FieldImpact, "settings served from fallback file"),
		)
	}
	if p.fallback == nil {
		return services.Wrap(services.ErrConfiguration, stageName, op, "no settings backend configured", nil)
	}
	if err := fn(p.fallback); err != nil {
		if primaryErr != nil {
			return services.Wrap(services.ErrPersistence, stageName, op, "all settings backends failed", errors.Join(primaryErr, err))
		}
		return services.Wrap(services.ErrPersistence, stageName, op, p.fallback.Name(), err)
	}
	return nil
}

func (p *Provider) invalidate(workflow, key string) {
	if p.cache != nil {
		p.cache.Delete(cacheKeyFor(workflow, key))
	}
}

func cacheKeyFor(workflow, key string) string {
	return workflow + "\x00" + key
}

// NewFromConfig wires the database backend (when db is non-nil) in front of
// the configured fallback file.
func NewFromConfig(cfg *config.Config, db *database.DB, logger *slog.Logger) *Provider {
	var primary Backend
	if db != nil {
		primary = NewDBBackend(db)
	}
	return NewProvider(primary, NewFileBackend(cfg.Settings.FallbackPath), cfg.SettingsCacheTTL(), logger)
}
