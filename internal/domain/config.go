package domain

// Config holds the complete fraudsvc configuration.
type Config struct {
	Server ServerConfig `json:"server"`
	Tier   Tier         `json:"tier"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	SecretKey string `json:"-"`

	RateLimitTiers      map[ClientTier]int `json:"rateLimitTiers"`
	CacheTTLSeconds     int                `json:"cacheTtlSeconds"`
	MLEnabled           bool               `json:"mlEnabled"`
	MLTimeoutMS         int                `json:"mlTimeoutMs"`
	MLEndpoint          string             `json:"mlEndpoint"`
	VerticalThresholds  map[Vertical]int   `json:"verticalThresholds"`
	ImpossibleTravelKMH float64            `json:"impossibleTravelSpeedKmh"`

	// ConsortiumRetentionDays is the rolling window after which an
	// unseen consortium entry ages out.
	ConsortiumRetentionDays int `json:"consortiumRetentionDays"`
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

// Tier represents the deployment tier, selecting storage backends.
type Tier string

const (
	TierCommunity  Tier = "community"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for the community tier
// (SQLite + in-memory cache + in-process channel bus).
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
			SQLitePath: "./fraudsvc.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudsvc",
		},
		RateLimitTiers: map[ClientTier]int{
			ClientTierBronze: 100,
			ClientTierSilver: 1000,
			ClientTierGold:   10000,
		},
		CacheTTLSeconds:         300,
		MLEnabled:               false,
		MLTimeoutMS:             50,
		VerticalThresholds:      cloneThresholds(DefaultVerticalThresholds),
		ImpossibleTravelKMH:     900,
		ConsortiumRetentionDays: 30,
	}
}

// ProConfig returns a configuration for the pro tier (Postgres + Redis +
// NATS), otherwise identical to DefaultConfig.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudsvc",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
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

func cloneThresholds(m map[Vertical]int) map[Vertical]int {
	out := make(map[Vertical]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
