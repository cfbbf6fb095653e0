package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/core/ports/driving"
	"github.com/custodia-labs/foldline/internal/logger"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyModelVersion        = "model.version"
	keyScreeningThreshold  = "mode.screening_threshold"
	keyValidationTokens    = "mode.validation_token_threshold"
	keyAccuracyThreshold   = "mode.accuracy_threshold"
	keyPrecisionScreening  = "precision.screening"
	keyPrecisionValidation = "precision.validation"
	keyPrecisionFloorsPfx  = "precision.floors."
	keyCacheBackend        = "cache.backend"
	keyCacheTiersPfx       = "cache.tiers."
	keyResultTTL           = "cache.result_ttl"
	keyFeatureTTL          = "cache.feature_ttl"
	keyRedisAddr           = "cache.redis.addr"
	keyRedisPassword       = "cache.redis.password"
	keyRedisDB             = "cache.redis.db"
	keyRedisPrefix         = "cache.redis.prefix"
	keyS3Endpoint          = "cache.s3.endpoint"
	keyS3AccessKey         = "cache.s3.access_key"
	keyS3SecretKey         = "cache.s3.secret_key"
	keyS3Bucket            = "cache.s3.bucket"
	keyS3UseSSL            = "cache.s3.use_ssl"
	keyS3Prefix            = "cache.s3.prefix"
	keyAlignmentTimeout    = "timeouts.alignment"
	keyInferenceTimeout    = "timeouts.inference"
	keyInferenceURL        = "inference.url"
	keyInferenceRate       = "inference.rate"
	keyInferenceBurst      = "inference.burst"
	keyProfilesPfx         = "profiles."
	keyMiniBatchSize       = "degradation.mini_batch_size"
	keyMaxParallel         = "concurrency.max_parallel"
	keyRetryWeightBoost    = "constraints.retry_weight_boost"
	keySchedulerEnabled    = "scheduler.enabled"
)

// Policy is an immutable snapshot of everything derived from Settings.
// It is replaced wholesale on reload, never mutated.
type Policy struct {
	Settings  domain.Settings
	Precision *PrecisionManager
	Modes     *ModeSelector
	Fallbacks *DegradationController
}

// NewPolicy validates settings and builds the derived components.
func NewPolicy(settings domain.Settings) (*Policy, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	precision, err := NewPrecisionManager(settings.Precision.Floors)
	if err != nil {
		return nil, err
	}
	return &Policy{
		Settings:  settings,
		Precision: precision,
		Modes:     NewModeSelector(settings.Mode),
		Fallbacks: NewDegradationController(DefaultFallbackChain(settings.MiniBatchSize)),
	}, nil
}

// PolicySource supplies the active policy snapshot.
type PolicySource interface {
	Policy() *Policy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy struct {
	P *Policy
}

// Policy returns the fixed snapshot.
func (s StaticPolicy) Policy() *Policy {
	return s.P
}

// SettingsService reads settings from the config store and publishes them
// as an atomically swapped Policy.
type SettingsService struct {
	configStore driven.ConfigStore
	current     atomic.Pointer[Policy]

	mu        sync.Mutex
	listeners []func(*Policy)
}

// NewSettingsService loads and validates the configuration. Invalid
// configuration is returned as an error wrapping domain.ErrConfig.
func NewSettingsService(configStore driven.ConfigStore) (*SettingsService, error) {
	s := &SettingsService{configStore: configStore}
	settings, err := s.Read()
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(settings)
	if err != nil {
		return nil, err
	}
	s.current.Store(policy)
	return s, nil
}

// Policy returns the active snapshot.
func (s *SettingsService) Policy() *Policy {
	return s.current.Load()
}

// Current returns the active settings.
func (s *SettingsService) Current() domain.Settings {
	return s.current.Load().Settings
}

// OnReload registers fn to run after every successful reload.
func (s *SettingsService) OnReload(fn func(*Policy)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the config store and swaps in a new snapshot.
// On any error the previous snapshot stays active.
func (s *SettingsService) Reload(_ context.Context) error {
	if s.configStore != nil {
		if err := s.configStore.Load(); err != nil {
			return fmt.Errorf("%w: reload %s: %w", domain.ErrConfig, s.configStore.Path(), err)
		}
	}
	settings, err := s.Read()
	if err != nil {
		logger.Warn("Keeping previous settings: %v", err)
		return err
	}
	policy, err := NewPolicy(settings)
	if err != nil {
		logger.Warn("Keeping previous settings: %v", err)
		return err
	}

	previous := s.current.Swap(policy)
	if previous != nil && previous.Settings.ModelVersion != settings.ModelVersion {
		logger.Info("Model version changed: %s -> %s", previous.Settings.ModelVersion, settings.ModelVersion)
	}

	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(policy)
	}
	return nil
}

// Read builds Settings from defaults overlaid with the config store.
// Values of the wrong type are configuration errors, never silently ignored.
func (s *SettingsService) Read() (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if s.configStore == nil {
		return settings, nil
	}
	r := &configReader{store: s.configStore}

	settings.ModelVersion = r.str(keyModelVersion, settings.ModelVersion)

	settings.Mode.ScreeningThreshold = r.integer(keyScreeningThreshold, settings.Mode.ScreeningThreshold)
	settings.Mode.ValidationTokenThreshold = r.integer(keyValidationTokens, settings.Mode.ValidationTokenThreshold)
	settings.Mode.AccuracyThreshold = r.float(keyAccuracyThreshold, settings.Mode.AccuracyThreshold)

	settings.Precision.Screening = r.precision(keyPrecisionScreening, settings.Precision.Screening)
	settings.Precision.Validation = r.precision(keyPrecisionValidation, settings.Precision.Validation)
	for _, stage := range domain.Stages() {
		key := keyPrecisionFloorsPfx + string(stage)
		settings.Precision.Floors[stage] = r.precision(key, settings.Precision.Floors[stage])
	}

	settings.Cache.Backend = domain.BackendKind(r.str(keyCacheBackend, string(settings.Cache.Backend)))
	for _, tier := range domain.TierOrder() {
		if b := r.str(keyCacheTiersPfx+string(tier)+".backend", ""); b != "" {
			if settings.Cache.TierBackends == nil {
				settings.Cache.TierBackends = make(map[domain.TierID]domain.BackendKind)
			}
			settings.Cache.TierBackends[tier] = domain.BackendKind(b)
		}
	}
	settings.Cache.ResultTTL = r.duration(keyResultTTL, settings.Cache.ResultTTL)
	settings.Cache.FeatureTTL = r.duration(keyFeatureTTL, settings.Cache.FeatureTTL)
	settings.Cache.Redis.Addr = r.str(keyRedisAddr, settings.Cache.Redis.Addr)
	settings.Cache.Redis.Password = r.str(keyRedisPassword, settings.Cache.Redis.Password)
	settings.Cache.Redis.DB = r.integer(keyRedisDB, settings.Cache.Redis.DB)
	settings.Cache.Redis.KeyPrefix = r.str(keyRedisPrefix, settings.Cache.Redis.KeyPrefix)
	settings.Cache.ObjectStore.Endpoint = r.str(keyS3Endpoint, settings.Cache.ObjectStore.Endpoint)
	settings.Cache.ObjectStore.AccessKey = r.str(keyS3AccessKey, settings.Cache.ObjectStore.AccessKey)
	settings.Cache.ObjectStore.SecretKey = r.str(keyS3SecretKey, settings.Cache.ObjectStore.SecretKey)
	settings.Cache.ObjectStore.Bucket = r.str(keyS3Bucket, settings.Cache.ObjectStore.Bucket)
	settings.Cache.ObjectStore.UseSSL = r.boolean(keyS3UseSSL, settings.Cache.ObjectStore.UseSSL)
	settings.Cache.ObjectStore.Prefix = r.str(keyS3Prefix, settings.Cache.ObjectStore.Prefix)

	settings.Timeouts.Alignment = r.duration(keyAlignmentTimeout, settings.Timeouts.Alignment)
	settings.Timeouts.Inference = r.duration(keyInferenceTimeout, settings.Timeouts.Inference)

	settings.Inference.URL = r.str(keyInferenceURL, settings.Inference.URL)
	settings.Inference.Rate = r.float(keyInferenceRate, settings.Inference.Rate)
	settings.Inference.Burst = r.integer(keyInferenceBurst, settings.Inference.Burst)

	for _, mode := range []domain.Mode{domain.ModeScreening, domain.ModeValidation} {
		prefix := keyProfilesPfx + string(mode) + "."
		p := settings.Profiles[mode]
		p.DiffusionSteps = r.integer(prefix+"diffusion_steps", p.DiffusionSteps)
		p.Samples = r.integer(prefix+"samples", p.Samples)
		p.BatchSize = r.integer(prefix+"batch_size", p.BatchSize)
		settings.Profiles[mode] = p
	}

	settings.MiniBatchSize = r.integer(keyMiniBatchSize, settings.MiniBatchSize)
	settings.MaxParallel = r.integer(keyMaxParallel, settings.MaxParallel)
	settings.RetryWeightBoost = r.float(keyRetryWeightBoost, settings.RetryWeightBoost)

	settings.Scheduler = r.scheduler(settings.Scheduler)

	if r.err != nil {
		return domain.Settings{}, r.err
	}
	return settings, nil
}

// configReader overlays typed config values on defaults and keeps the
// first error it meets.
type configReader struct {
	store driven.ConfigStore
	err   error
}

func (r *configReader) fail(key string, val any, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s: want %s, got %v (%T)", domain.ErrConfig, key, want, val, val)
	}
}

func (r *configReader) str(key, def string) string {
	val, ok := r.store.Get(key)
	if !ok {
		return def
	}
	s, ok := val.(string)
	if !ok {
		r.fail(key, val, "string")
		return def
	}
	if s == "" {
		return def
	}
	return s
}

func (r *configReader) integer(key string, def int) int {
	val, ok := r.store.Get(key)
	if !ok {
		return def
	}
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		r.fail(key, val, "integer")
		return def
	}
}

func (r *configReader) float(key string, def float64) float64 {
	val, ok := r.store.Get(key)
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		r.fail(key, val, "number")
		return def
	}
}

func (r *configReader) boolean(key string, def bool) bool {
	val, ok := r.store.Get(key)
	if !ok {
		return def
	}
	b, ok := val.(bool)
	if !ok {
		r.fail(key, val, "boolean")
		return def
	}
	return b
}

// duration accepts a Go duration string ("15m") or integer seconds.
func (r *configReader) duration(key string, def time.Duration) time.Duration {
	val, ok := r.store.Get(key)
	if !ok {
		return def
	}
	switch v := val.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(key, val, "duration")
			return def
		}
		return d
	case int64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	default:
		r.fail(key, val, "duration")
		return def
	}
}

func (r *configReader) precision(key string, def domain.Precision) domain.Precision {
	s := r.str(key, "")
	if s == "" {
		return def
	}
	p, err := domain.ParsePrecision(s)
	if err != nil {
		r.fail(key, s, "precision")
		return def
	}
	return p
}

// scheduler reads per-task settings. Task IDs use dashes; TOML tables use
// underscores, so "cache-purge" lives under [scheduler.cache_purge].
func (r *configReader) scheduler(cfg domain.SchedulerConfig) domain.SchedulerConfig {
	cfg.Enabled = r.boolean(keySchedulerEnabled, cfg.Enabled)

	taskKeys := map[string]string{
		domain.TaskIDCachePurge:   "cache_purge",
		domain.TaskIDVersionSweep: "version_sweep",
	}
	tasks := make(map[string]domain.TaskConfig, len(cfg.TaskConfigs))
	for id, tc := range cfg.TaskConfigs {
		tasks[id] = tc
	}
	for taskID, configKey := range taskKeys {
		prefix := "scheduler." + configKey + "."
		tc := tasks[taskID]
		tc.Enabled = r.boolean(prefix+"enabled", tc.Enabled)
		tc.Interval = r.duration(prefix+"interval", tc.Interval)
		tasks[taskID] = tc
	}
	cfg.TaskConfigs = tasks
	return cfg
}

// FormatValue renders a config value for display.
func FormatValue(val any) string {
	switch v := val.(type) {
	case string:
		return strconv.Quote(v)
	case []any:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprint(v)
	}
}
