package domain

import "time"

// Config holds the complete ringscan configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Detection thresholds for the analysis pipeline
	Detection DetectionConfig `json:"detection" mapstructure:"detection"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Async worker consuming submitted batches
	Worker WorkerConfig `json:"worker" mapstructure:"worker"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// DetectionConfig holds the thresholds used by the detectors.
type DetectionConfig struct {
	// Cycle length bounds, inclusive. MaxCycleLength must stay small:
	// cycle search is exponential in it.
	MinCycleLength int `json:"minCycleLength" mapstructure:"min_cycle_length"`
	MaxCycleLength int `json:"maxCycleLength" mapstructure:"max_cycle_length"`

	// Distinct counterparties needed to flag fan-in or fan-out
	FanThreshold int `json:"fanThreshold" mapstructure:"fan_threshold"`

	// Shell accounts have at most this many transactions in total
	ShellMaxActivity int `json:"shellMaxActivity" mapstructure:"shell_max_activity"`

	// Outgoing transactions needed to flag high velocity
	VelocityMinOutgoing int `json:"velocityMinOutgoing" mapstructure:"velocity_min_outgoing"`

	// Z-score at or above which an amount is anomalous
	AnomalyZScore float64 `json:"anomalyZScore" mapstructure:"anomaly_z_score"`

	// Workers bounds how many detector units run at once
	Workers int `json:"workers" mapstructure:"workers"`

	// MaxUploadBytes caps the size of an uploaded ledger
	MaxUploadBytes int64 `json:"maxUploadBytes" mapstructure:"max_upload_bytes"`

	// ReportCacheTTL is how long analysis reports stay cached by content hash
	ReportCacheTTL time.Duration `json:"reportCacheTtl" mapstructure:"report_cache_ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// WorkerConfig controls the in-process batch worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU cache and Go channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultDetectionConfig returns the stock detector thresholds.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MinCycleLength:      3,
		MaxCycleLength:      5,
		FanThreshold:        10,
		ShellMaxActivity:    3,
		VelocityMinOutgoing: 4,
		AnomalyZScore:       2.0,
		Workers:             7,
		MaxUploadBytes:      32 << 20,
		ReportCacheTTL:      10 * time.Minute,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier:      TierCommunity,
		Detection: DefaultDetectionConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./ringscan.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
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
		PostgresDB:   "ringscan",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   64,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	return cfg
}
