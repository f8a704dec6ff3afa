package synckit

import (
	"fmt"
	"log/slog"
	"time"
)

// EngineBuilder provides a fluent interface for constructing an Engine.
type EngineBuilder struct {
	config       Config
	store        PersistentStore
	executor     RemoteExecutor
	connectivity ConnectivityObserver
	metrics      MetricsCollector
	logger       *slog.Logger
	now          func() time.Time
	retry        *RetryConfig
}

// NewEngineBuilder creates a builder holding DefaultConfig.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *EngineBuilder) WithConfig(cfg Config) *EngineBuilder {
	b.config = cfg
	return b
}

// WithStore sets the PersistentStore.
func (b *EngineBuilder) WithStore(store PersistentStore) *EngineBuilder {
	b.store = store
	return b
}

// WithExecutor sets the RemoteExecutor.
func (b *EngineBuilder) WithExecutor(executor RemoteExecutor) *EngineBuilder {
	b.executor = executor
	return b
}

// WithConnectivity sets the ConnectivityObserver. Without one the engine
// assumes it is always online.
func (b *EngineBuilder) WithConnectivity(observer ConnectivityObserver) *EngineBuilder {
	b.connectivity = observer
	return b
}

func (b *EngineBuilder) WithMetrics(metrics MetricsCollector) *EngineBuilder {
	b.metrics = metrics
	return b
}

func (b *EngineBuilder) WithLogger(logger *slog.Logger) *EngineBuilder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now, mainly for tests.
func (b *EngineBuilder) WithClock(now func() time.Time) *EngineBuilder {
	b.now = now
	return b
}

// WithRetry enables in-cycle retries of resource fetches.
func (b *EngineBuilder) WithRetry(cfg RetryConfig) *EngineBuilder {
	b.retry = &cfg
	return b
}

func (b *EngineBuilder) WithSyncInterval(interval time.Duration) *EngineBuilder {
	b.config.SyncInterval = Duration(interval)
	return b
}

func (b *EngineBuilder) WithRequestTimeout(timeout time.Duration) *EngineBuilder {
	b.config.RequestTimeout = Duration(timeout)
	return b
}

func (b *EngineBuilder) WithDrainPolicy(policy DrainPolicy) *EngineBuilder {
	b.config.Drain = policy
	return b
}

func (b *EngineBuilder) WithAutoRollback(enabled bool) *EngineBuilder {
	b.config.AutoRollback = enabled
	return b
}

// Build validates the configuration and creates the Engine.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, fmt.Errorf("PersistentStore is required")
	}
	if b.executor == nil {
		return nil, fmt.Errorf("RemoteExecutor is required")
	}
	cfg := b.config
	if err := (&BasicValidator{}).Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	conn := b.connectivity
	if conn == nil {
		conn = alwaysOnline{}
	}
	metrics := b.metrics
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	return newEngine(cfg, b.store, b.executor, conn, metrics, logger.With("component", "synckit"), now, b.retry), nil
}

// Reset clears the builder, allowing reuse.
func (b *EngineBuilder) Reset() *EngineBuilder {
	*b = EngineBuilder{config: DefaultConfig()}
	return b
}
