package domain

import (
	"fmt"
	"time"
)

// BackendKind names a cache storage engine.
type BackendKind string

// Available cache backends.
const (
	// BackendMemory keeps entries in process memory.
	BackendMemory BackendKind = "memory"

	// BackendSQLite keeps entries in the local SQLite database.
	BackendSQLite BackendKind = "sqlite"

	// BackendRedis keeps entries in a shared Redis instance.
	BackendRedis BackendKind = "redis"

	// BackendObjectStore keeps entries in an S3-compatible bucket.
	BackendObjectStore BackendKind = "s3"
)

// IsValid returns true if the backend is recognised.
func (b BackendKind) IsValid() bool {
	switch b {
	case BackendMemory, BackendSQLite, BackendRedis, BackendObjectStore:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (b BackendKind) String() string {
	return string(b)
}

// ModeSettings holds the mode selector thresholds.
type ModeSettings struct {
	// ScreeningThreshold is the batch size above which screening is chosen.
	ScreeningThreshold int

	// ValidationTokenThreshold is the token count above which a structure
	// always gets validation.
	ValidationTokenThreshold int

	// AccuracyThreshold bounds the urgent-screening rule.
	AccuracyThreshold float64
}

// PrecisionSettings holds precision defaults and stage floors.
type PrecisionSettings struct {
	// Screening and Validation are used when a request has no precision hint.
	Screening  Precision
	Validation Precision

	Floors PrecisionPolicy
}

// DefaultFor returns the default precision of a mode.
func (p PrecisionSettings) DefaultFor(m Mode) Precision {
	if m == ModeScreening {
		return p.Screening
	}
	return p.Validation
}

// RedisSettings holds the Redis backend connection.
type RedisSettings struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// ObjectStoreSettings holds the S3-compatible backend connection.
type ObjectStoreSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// CacheSettings holds cache hierarchy configuration.
type CacheSettings struct {
	// Backend is the default engine for every tier.
	Backend BackendKind

	// TierBackends overrides Backend per tier.
	TierBackends map[TierID]BackendKind

	ResultTTL  time.Duration
	FeatureTTL time.Duration

	Redis       RedisSettings
	ObjectStore ObjectStoreSettings
}

// BackendFor returns the engine configured for a tier.
func (c CacheSettings) BackendFor(tier TierID) BackendKind {
	if b, ok := c.TierBackends[tier]; ok && b != "" {
		return b
	}
	return c.Backend
}

// Policies returns the tier policies with configured TTLs applied.
func (c CacheSettings) Policies() map[TierID]TierPolicy {
	policies := DefaultTierPolicies()
	if p, ok := policies[TierResult]; ok {
		p.TTL = c.ResultTTL
		policies[TierResult] = p
	}
	if p, ok := policies[TierFeature]; ok {
		p.TTL = c.FeatureTTL
		policies[TierFeature] = p
	}
	return policies
}

// TimeoutSettings bounds external calls.
type TimeoutSettings struct {
	Alignment time.Duration
	Inference time.Duration
}

// InferenceSettings configures the remote inference service.
type InferenceSettings struct {
	URL string

	// Rate is the sustained number of inference calls per second; 0 disables
	// throttling.
	Rate  float64
	Burst int
}

// ModeProfile tunes the model invocation for a mode.
type ModeProfile struct {
	DiffusionSteps int
	Samples        int
	BatchSize      int
}

// Settings is the complete orchestrator configuration. A Settings value is
// never mutated after it is published; reloads build a new one.
type Settings struct {
	ModelVersion string

	Mode      ModeSettings
	Precision PrecisionSettings
	Cache     CacheSettings
	Timeouts  TimeoutSettings
	Inference InferenceSettings

	// Profiles holds per-mode model invocation parameters.
	Profiles map[Mode]ModeProfile

	// MiniBatchSize is the batch size used after a GPU memory fallback.
	MiniBatchSize int

	// MaxParallel bounds concurrently processed items per request.
	MaxParallel int

	// RetryWeightBoost multiplies soft-constraint strength on the
	// hard-constraint retry.
	RetryWeightBoost float64

	Scheduler SchedulerConfig
}

// DefaultSettings returns the shipped configuration.
func DefaultSettings() Settings {
	return Settings{
		ModelVersion: "v1",
		Mode: ModeSettings{
			ScreeningThreshold:       100,
			ValidationTokenThreshold: 1500,
			AccuracyThreshold:        0.8,
		},
		Precision: PrecisionSettings{
			Screening:  PrecisionBF16,
			Validation: PrecisionFP32,
			Floors:     DefaultPrecisionPolicy(),
		},
		Cache: CacheSettings{
			Backend:    BackendMemory,
			ResultTTL:  15 * time.Minute,
			FeatureTTL: 24 * time.Hour,
			Redis: RedisSettings{
				Addr:      "localhost:6379",
				KeyPrefix: "foldline",
			},
			ObjectStore: ObjectStoreSettings{
				Bucket: "foldline-cache",
			},
		},
		Timeouts: TimeoutSettings{
			Alignment: 10 * time.Minute,
			Inference: 30 * time.Minute,
		},
		Inference: InferenceSettings{
			URL:   "http://localhost:8808",
			Rate:  2,
			Burst: 4,
		},
		Profiles: map[Mode]ModeProfile{
			ModeScreening:  {DiffusionSteps: 20, Samples: 1, BatchSize: 8},
			ModeValidation: {DiffusionSteps: 200, Samples: 5, BatchSize: 1},
		},
		MiniBatchSize:    1,
		MaxParallel:      4,
		RetryWeightBoost: 2.0,
		Scheduler:        DefaultSchedulerConfig(),
	}
}

// Profile returns the profile for a mode, or the zero profile.
func (s *Settings) Profile(m Mode) ModeProfile {
	return s.Profiles[m]
}

// Validate checks everything except precision floors, which the
// precision manager owns. All failures wrap ErrConfig.
func (s *Settings) Validate() error {
	if s.ModelVersion == "" {
		return fmt.Errorf("%w: model.version is required", ErrConfig)
	}
	if s.Mode.ScreeningThreshold < 1 {
		return fmt.Errorf("%w: mode.screening_threshold must be positive", ErrConfig)
	}
	if s.Mode.ValidationTokenThreshold < 1 {
		return fmt.Errorf("%w: mode.validation_token_threshold must be positive", ErrConfig)
	}
	if s.Mode.AccuracyThreshold < 0 || s.Mode.AccuracyThreshold > 1 {
		return fmt.Errorf("%w: mode.accuracy_threshold must be within [0,1]", ErrConfig)
	}
	if !s.Precision.Screening.IsValid() || !s.Precision.Validation.IsValid() {
		return fmt.Errorf("%w: mode precision defaults must be set", ErrConfig)
	}
	if !s.Cache.Backend.IsValid() {
		return fmt.Errorf("%w: unknown cache backend %q", ErrConfig, s.Cache.Backend)
	}
	for tier, b := range s.Cache.TierBackends {
		if !tier.IsValid() {
			return fmt.Errorf("%w: unknown cache tier %q", ErrConfig, tier)
		}
		if !b.IsValid() {
			return fmt.Errorf("%w: tier %s: unknown cache backend %q", ErrConfig, tier, b)
		}
	}
	if s.Cache.ResultTTL < 0 || s.Cache.FeatureTTL < 0 {
		return fmt.Errorf("%w: cache TTLs must not be negative", ErrConfig)
	}
	if s.Timeouts.Alignment < 0 || s.Timeouts.Inference < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrConfig)
	}
	if s.MiniBatchSize < 1 {
		return fmt.Errorf("%w: degradation.mini_batch_size must be positive", ErrConfig)
	}
	if s.MaxParallel < 1 {
		return fmt.Errorf("%w: concurrency.max_parallel must be positive", ErrConfig)
	}
	if s.RetryWeightBoost < 1 {
		return fmt.Errorf("%w: constraints.retry_weight_boost must be at least 1", ErrConfig)
	}
	if s.Inference.Rate < 0 || s.Inference.Burst < 0 {
		return fmt.Errorf("%w: inference rate and burst must not be negative", ErrConfig)
	}
	return nil
}
