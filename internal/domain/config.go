package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Detection engine tunables
	Detection DetectionConfig `json:"detection"`

	// External verification adapter
	Verification VerificationConfig `json:"verification"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DetectionConfig holds the detection engine's tunable parameters.
// The shared-prefix length and fuzzy threshold are deliberately
// configuration, not constants: the right values depend on the national
// id-number format and the population's name quality.
type DetectionConfig struct {
	// MinConfidence is the global threshold below which a candidate
	// pair produces no flag. The boundary is inclusive.
	MinConfidence float64 `json:"minConfidence"`

	// PartialIDPrefixLen is the shared-prefix length for partial id
	// matches. The default 6 covers the YYMMDD birth-date segment of a
	// South African id number.
	PartialIDPrefixLen int `json:"partialIdPrefixLen"`

	// FuzzySimilarityThreshold is the minimum name similarity for a
	// fuzzy hit, in [0,1].
	FuzzySimilarityThreshold float64 `json:"fuzzySimilarityThreshold"`

	// BlockingKeys selects which blocking strategies the pair
	// generator uses: "id_prefix", "passport", "phone", "email",
	// "name_dob".
	BlockingKeys []string `json:"blockingKeys"`

	// WorkerCount bounds concurrent pair evaluation within a scan.
	WorkerCount int `json:"workerCount"`

	// PhoneCountryCode is the national dialing prefix a leading "0"
	// folds into during phone normalization.
	PhoneCountryCode string `json:"phoneCountryCode"`

	// Population identifies the learner population for the scan lease.
	Population string `json:"population"`

	// LeaseTTL bounds how long a crashed scan can hold the lease.
	LeaseTTL time.Duration `json:"leaseTtl"`

	// ProgressInterval is how often a running scan persists its interim
	// counters and publishes a progress event.
	ProgressInterval time.Duration `json:"progressInterval"`
}

// VerificationConfig holds external verification adapter settings.
type VerificationConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Provider string `json:"provider"`

	// Timeout per verification call; on expiry the rule does not fire.
	Timeout time.Duration `json:"timeout"`

	// CacheTTL controls how long verification results are reused.
	CacheTTL time.Duration `json:"cacheTtl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DefaultDetectionConfig(),
		Verification: VerificationConfig{
			Enabled:  false,
			Timeout:  5 * time.Second,
			CacheTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// DefaultDetectionConfig returns the documented detection defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MinConfidence:            0.5,
		PartialIDPrefixLen:       6,
		FuzzySimilarityThreshold: 0.85,
		BlockingKeys:             []string{"id_prefix", "passport", "phone", "email", "name_dob"},
		WorkerCount:              8,
		PhoneCountryCode:         "27",
		Population:               "default",
		LeaseTTL:                 time.Hour,
		ProgressInterval:         2 * time.Second,
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
