package synckit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as "5m", "24h", etc. in
// both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// ResourceConfig binds a resource type to the endpoint it is fetched from.
// A positive PageSize fetches the listing page by page with skip/limit.
type ResourceConfig struct {
	Type     ResourceType `json:"type" yaml:"type"`
	Endpoint string       `json:"endpoint" yaml:"endpoint"`
	PageSize int          `json:"page_size,omitempty" yaml:"page_size,omitempty"`
}

// QueueConfig holds the offline queue limits.
type QueueConfig struct {
	MaxRetries          int `json:"max_retries" yaml:"max_retries"`
	MaxAgeDays          int `json:"max_age_days" yaml:"max_age_days"`
	PurgeRetryThreshold int `json:"purge_retry_threshold" yaml:"purge_retry_threshold"`
}

// DrainPolicy controls how replay failures are handled.
type DrainPolicy struct {
	// StopOnConnectivityLoss pauses the drain at the first connectivity
	// failure; later actions wait for the next cycle.
	StopOnConnectivityLoss bool `json:"stop_on_connectivity_loss" yaml:"stop_on_connectivity_loss"`

	// ConnectivityConsumesRetry charges the retry budget for connectivity
	// failures as well as server rejections.
	ConnectivityConsumesRetry bool `json:"connectivity_consumes_retry" yaml:"connectivity_consumes_retry"`

	// FailFastOnClientError parks an action as failed on a 4xx rejection
	// (other than 408 and 429) without using up its remaining retries.
	FailFastOnClientError bool `json:"fail_fast_on_client_error" yaml:"fail_fast_on_client_error"`
}

// Config is the engine configuration.
type Config struct {
	Resources     []ResourceConfig `json:"resources" yaml:"resources"`
	SnapshotTypes []ResourceType   `json:"snapshot_types" yaml:"snapshot_types"`

	SyncInterval        Duration `json:"sync_interval" yaml:"sync_interval"`
	MaintenanceInterval Duration `json:"maintenance_interval" yaml:"maintenance_interval"`
	RequestTimeout      Duration `json:"request_timeout" yaml:"request_timeout"`
	ConflictRetention   Duration `json:"conflict_retention" yaml:"conflict_retention"`

	Queue            QueueConfig `json:"queue" yaml:"queue"`
	Drain            DrainPolicy `json:"drain" yaml:"drain"`
	SnapshotCapacity int         `json:"snapshot_capacity" yaml:"snapshot_capacity"`
	AutoRollback     bool        `json:"auto_rollback" yaml:"auto_rollback"`
}

const (
	DefaultMaxRetries          = 5
	DefaultMaxAgeDays          = 7
	DefaultPurgeRetryThreshold = 5
	DefaultMaintenanceInterval = 5 * time.Minute
	DefaultConflictRetention   = 24 * time.Hour
	DefaultRequestTimeout      = 30 * time.Second
	DefaultProductPageSize     = 100
)

// DefaultResources maps every built-in resource type to its storefront
// endpoint, in sync order.
func DefaultResources() []ResourceConfig {
	return []ResourceConfig{
		{Type: ResourceProducts, Endpoint: "/products", PageSize: DefaultProductPageSize},
		{Type: ResourceCategories, Endpoint: "/categories/all"},
		{Type: ResourceCarBrands, Endpoint: "/car-brands"},
		{Type: ResourceCarModels, Endpoint: "/car-models"},
		{Type: ResourceProductBrands, Endpoint: "/product-brands"},
		{Type: ResourceCart, Endpoint: "/cart"},
		{Type: ResourceFavorites, Endpoint: "/favorites"},
		{Type: ResourceOrders, Endpoint: "/orders"},
	}
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Resources:           DefaultResources(),
		SnapshotTypes:       []ResourceType{ResourceProducts, ResourceCategories, ResourceCart, ResourceFavorites, ResourceOrders},
		MaintenanceInterval: Duration(DefaultMaintenanceInterval),
		RequestTimeout:      Duration(DefaultRequestTimeout),
		ConflictRetention:   Duration(DefaultConflictRetention),
		Queue: QueueConfig{
			MaxRetries:          DefaultMaxRetries,
			MaxAgeDays:          DefaultMaxAgeDays,
			PurgeRetryThreshold: DefaultPurgeRetryThreshold,
		},
		Drain: DrainPolicy{
			StopOnConnectivityLoss: true,
		},
		SnapshotCapacity: DefaultSnapshotCapacity,
	}
}

func (c Config) resource(rt ResourceType) (ResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.Type == rt {
			return r, true
		}
	}
	return ResourceConfig{}, false
}

// Endpoint returns the configured endpoint of rt.
func (c Config) Endpoint(rt ResourceType) (string, bool) {
	for _, r := range c.Resources {
		if r.Type == rt {
			return r.Endpoint, true
		}
	}
	return "", false
}

// ConfigValidator validates configuration before applying it.
type ConfigValidator interface {
	Validate(config *Config) error
	Name() string
}

// ConfigWatcher monitors configuration changes.
type ConfigWatcher interface {
	OnConfigChanged(oldConfig, newConfig *Config)
	OnConfigError(err error)
	Name() string
}

// ConfigTransformer allows modification of configuration during loading.
type ConfigTransformer interface {
	Transform(config *Config) (*Config, error)
	Name() string
}

// ConfigLoader reads engine configuration from YAML or JSON. Fields absent
// from the document keep their DefaultConfig values.
type ConfigLoader struct {
	mu            sync.RWMutex
	currentConfig *Config
	validators    []ConfigValidator
	watchers      []ConfigWatcher
	transformers  []ConfigTransformer
	logger        *slog.Logger
}

// ConfigLoaderOption provides configuration options for ConfigLoader.
type ConfigLoaderOption interface {
	apply(*ConfigLoader)
}

type configLoaderOptionFunc func(*ConfigLoader)

func (f configLoaderOptionFunc) apply(cl *ConfigLoader) {
	f(cl)
}

// WithConfigValidator adds a configuration validator.
func WithConfigValidator(validator ConfigValidator) ConfigLoaderOption {
	return configLoaderOptionFunc(func(cl *ConfigLoader) {
		cl.validators = append(cl.validators, validator)
	})
}

// WithWatcher adds a configuration change watcher.
func WithWatcher(watcher ConfigWatcher) ConfigLoaderOption {
	return configLoaderOptionFunc(func(cl *ConfigLoader) {
		cl.watchers = append(cl.watchers, watcher)
	})
}

// WithTransformer adds a configuration transformer.
func WithTransformer(transformer ConfigTransformer) ConfigLoaderOption {
	return configLoaderOptionFunc(func(cl *ConfigLoader) {
		cl.transformers = append(cl.transformers, transformer)
	})
}

// WithConfigLogger sets a logger for the config loader.
func WithConfigLogger(logger *slog.Logger) ConfigLoaderOption {
	return configLoaderOptionFunc(func(cl *ConfigLoader) {
		cl.logger = logger
	})
}

// NewConfigLoader creates a loader with the BasicValidator installed.
func NewConfigLoader(opts ...ConfigLoaderOption) *ConfigLoader {
	cl := &ConfigLoader{
		validators: []ConfigValidator{&BasicValidator{}},
	}
	for _, opt := range opts {
		opt.apply(cl)
	}
	return cl
}

// LoadFromFile loads configuration from a YAML or JSON file.
func (cl *ConfigLoader) LoadFromFile(filepath string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.logger != nil {
		cl.logger.Debug("Loading configuration from file", "path", filepath)
	}

	file, err := os.Open(filepath)
	if err != nil {
		cl.notifyError(err)
		return fmt.Errorf("failed to open config file %s: %w", filepath, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		cl.notifyError(err)
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	return cl.loadFromBytes(data, detectFormat(filepath))
}

// LoadFromBytes loads configuration from raw bytes.
func (cl *ConfigLoader) LoadFromBytes(data []byte, format string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.loadFromBytes(data, format)
}

func (cl *ConfigLoader) loadFromBytes(data []byte, format string) error {
	config := DefaultConfig()

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			cl.notifyError(err)
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &config); err != nil {
			cl.notifyError(err)
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}

	return cl.applyConfig(&config)
}

func (cl *ConfigLoader) applyConfig(config *Config) error {
	for _, transformer := range cl.transformers {
		transformed, err := transformer.Transform(config)
		if err != nil {
			if cl.logger != nil {
				cl.logger.Error("Configuration transformation failed", "transformer", transformer.Name(), "error", err)
			}
			cl.notifyError(err)
			return fmt.Errorf("transformer %s failed: %w", transformer.Name(), err)
		}
		config = transformed
	}

	for _, validator := range cl.validators {
		if err := validator.Validate(config); err != nil {
			if cl.logger != nil {
				cl.logger.Error("Configuration validation failed", "validator", validator.Name(), "error", err)
			}
			cl.notifyError(err)
			return fmt.Errorf("validator %s failed: %w", validator.Name(), err)
		}
	}

	oldConfig := cl.currentConfig
	cl.currentConfig = config

	for _, watcher := range cl.watchers {
		go func(w ConfigWatcher) {
			defer func() {
				if r := recover(); r != nil && cl.logger != nil {
					cl.logger.Error("Config watcher panic", "watcher", w.Name(), "panic", r)
				}
			}()
			w.OnConfigChanged(oldConfig, config)
		}(watcher)
	}

	if cl.logger != nil {
		cl.logger.Debug("Configuration applied successfully",
			"resources", len(config.Resources),
			"snapshot_types", len(config.SnapshotTypes))
	}
	return nil
}

func (cl *ConfigLoader) notifyError(err error) {
	for _, w := range cl.watchers {
		w.OnConfigError(err)
	}
}

// Current returns a copy of the loaded configuration, or DefaultConfig when
// nothing has been loaded.
func (cl *ConfigLoader) Current() Config {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.currentConfig == nil {
		return DefaultConfig()
	}
	return *cl.currentConfig
}

// detectFormat determines file format from extension.
func detectFormat(filepath string) string {
	ext := strings.ToLower(filepath[strings.LastIndex(filepath, ".")+1:])
	switch ext {
	case "yml", "yaml":
		return "yaml"
	case "json":
		return "json"
	default:
		return "yaml"
	}
}

// BasicValidator rejects configurations the engine cannot run with.
type BasicValidator struct{}

func (v *BasicValidator) Name() string {
	return "basic"
}

func (v *BasicValidator) Validate(config *Config) error {
	if len(config.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}
	seen := make(map[ResourceType]bool, len(config.Resources))
	for _, r := range config.Resources {
		if r.Type == "" {
			return fmt.Errorf("resource type is required")
		}
		if _, err := codecFor(r.Type); err != nil {
			return fmt.Errorf("resource %q has no registered schema", r.Type)
		}
		if seen[r.Type] {
			return fmt.Errorf("duplicate resource: %s", r.Type)
		}
		seen[r.Type] = true
		if !strings.HasPrefix(r.Endpoint, "/") {
			return fmt.Errorf("endpoint of %s must start with '/', got %q", r.Type, r.Endpoint)
		}
		if r.PageSize < 0 {
			return fmt.Errorf("page size of %s must not be negative", r.Type)
		}
	}
	for _, rt := range config.SnapshotTypes {
		if !seen[rt] {
			return fmt.Errorf("snapshot type %s is not a configured resource", rt)
		}
	}
	if config.SyncInterval < 0 {
		return fmt.Errorf("sync interval must not be negative")
	}
	if config.MaintenanceInterval <= 0 {
		return fmt.Errorf("maintenance interval must be positive")
	}
	if config.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue max_retries must be positive, got %d", config.Queue.MaxRetries)
	}
	if config.SnapshotCapacity <= 0 {
		return fmt.Errorf("snapshot capacity must be positive, got %d", config.SnapshotCapacity)
	}
	return nil
}

// LoggingWatcher logs configuration changes.
type LoggingWatcher struct {
	logger *slog.Logger
}

func NewLoggingWatcher(logger *slog.Logger) *LoggingWatcher {
	return &LoggingWatcher{logger: logger}
}

func (w *LoggingWatcher) Name() string {
	return "logging"
}

func (w *LoggingWatcher) OnConfigChanged(oldConfig, newConfig *Config) {
	if w.logger == nil {
		return
	}
	if oldConfig == nil {
		w.logger.Debug("Initial configuration loaded", "resources", len(newConfig.Resources))
	} else {
		w.logger.Debug("Configuration updated",
			"old_resources", len(oldConfig.Resources),
			"new_resources", len(newConfig.Resources),
			"sync_interval", newConfig.SyncInterval.Std())
	}
}

func (w *LoggingWatcher) OnConfigError(err error) {
	if w.logger != nil {
		w.logger.Error("Configuration error", "error", err)
	}
}
