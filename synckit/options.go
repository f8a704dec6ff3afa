package synckit

import (
	"errors"
	"log/slog"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// EngineOption is a functional option for configuring an Engine via NewEngine.
type EngineOption func(*EngineBuilder) error

// NewEngine constructs an Engine using functional options on top of the
// builder.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	b := NewEngineBuilder()

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpLoad, "synckit", err)
		}
	}

	if b.store == nil {
		return nil, syncErrors.E(
			syncErrors.Op("NewEngine"),
			syncErrors.Component("synckit"),
			syncErrors.KindInvalid,
			errors.New("store is required (use WithStore(...))"),
		)
	}
	if b.executor == nil {
		return nil, syncErrors.E(
			syncErrors.Op("NewEngine"),
			syncErrors.Component("synckit"),
			syncErrors.KindInvalid,
			errors.New("executor is required (use WithExecutor(...))"),
		)
	}

	e, err := b.Build()
	if err != nil {
		return nil, syncErrors.E(syncErrors.Op("NewEngine"), syncErrors.Component("synckit"), syncErrors.KindInvalid, err)
	}
	return e, nil
}

// WithStore injects the persistent store, e.g. sqlite.New or postgres.New.
func WithStore(s PersistentStore) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithStore(s)
		return nil
	}
}

// WithExecutor sets the remote executor, e.g. an httptransport.Executor.
func WithExecutor(x RemoteExecutor) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithExecutor(x)
		return nil
	}
}

func WithConnectivity(o ConnectivityObserver) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithConnectivity(o)
		return nil
	}
}

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithConfig(cfg)
		return nil
	}
}

// WithConfigFile loads the configuration from a YAML or JSON file.
func WithConfigFile(path string, opts ...ConfigLoaderOption) EngineOption {
	return func(b *EngineBuilder) error {
		loader := NewConfigLoader(opts...)
		if err := loader.LoadFromFile(path); err != nil {
			return err
		}
		b.WithConfig(loader.Current())
		return nil
	}
}

func WithMetrics(m MetricsCollector) EngineOption {
	return func(b *EngineBuilder) error {
		if m == nil {
			return errors.New("metrics collector must not be nil")
		}
		b.WithMetrics(m)
		return nil
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithLogger(logger)
		return nil
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithClock(now)
		return nil
	}
}

func WithRetry(cfg RetryConfig) EngineOption {
	return func(b *EngineBuilder) error {
		if cfg.MaxAttempts < 1 {
			return errors.New("retry MaxAttempts must be at least 1")
		}
		b.WithRetry(cfg)
		return nil
	}
}

// WithSyncInterval enables periodic cycles while online.
func WithSyncInterval(interval time.Duration) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithSyncInterval(interval)
		return nil
	}
}

// WithRequestTimeout bounds every request made to the executor.
func WithRequestTimeout(timeout time.Duration) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithRequestTimeout(timeout)
		return nil
	}
}

func WithDrainPolicy(policy DrainPolicy) EngineOption {
	return func(b *EngineBuilder) error {
		b.WithDrainPolicy(policy)
		return nil
	}
}

// WithAutoRollback restores the pre-cycle snapshot automatically when a
// cycle's failures outnumber its successes.
func WithAutoRollback() EngineOption {
	return func(b *EngineBuilder) error {
		b.WithAutoRollback(true)
		return nil
	}
}

// WithResources limits and orders the synced resource types.
func WithResources(resources ...ResourceConfig) EngineOption {
	return func(b *EngineBuilder) error {
		if len(resources) == 0 {
			return errors.New("at least one resource is required")
		}
		b.config.Resources = resources
		kept := b.config.SnapshotTypes[:0:0]
		for _, rt := range b.config.SnapshotTypes {
			if _, ok := b.config.Endpoint(rt); ok {
				kept = append(kept, rt)
			}
		}
		b.config.SnapshotTypes = kept
		return nil
	}
}

// WithSnapshotTypes sets the resource types captured before each cycle.
func WithSnapshotTypes(types ...ResourceType) EngineOption {
	return func(b *EngineBuilder) error {
		b.config.SnapshotTypes = types
		return nil
	}
}

func WithMaxRetries(n int) EngineOption {
	return func(b *EngineBuilder) error {
		b.config.Queue.MaxRetries = n
		return nil
	}
}
