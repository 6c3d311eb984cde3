package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Decision engine tunables
	Scoring ScoringConfig `json:"scoring"`
	Block   BlockConfig   `json:"block"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
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

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channel bus.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS.
	TierPro Tier = "pro"
)

// AmountTier maps an amount threshold to a rule score contribution.
// Tiers are evaluated highest threshold first; the first one exceeded wins.
type AmountTier struct {
	Threshold float64 `json:"threshold"`
	Score     float64 `json:"score"`
}

// VelocityTier maps a window transaction count to a rule score
// contribution, highest threshold first.
type VelocityTier struct {
	Count int64   `json:"count"`
	Score float64 `json:"score"`
}

// CustomRuleConfig defines an operator-supplied CEL rule that contributes
// extra score and a trigger tag to the rule signal.
type CustomRuleConfig struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Score      float64 `json:"score"`
	Trigger    string  `json:"trigger"`
	Enabled    bool    `json:"enabled"`
}

// ScoringConfig holds every tunable of the scoring pipeline. All fields
// have defaults; zero values fall back to DefaultScoringConfig.
type ScoringConfig struct {
	// Rule scorer
	AmountTiers          []AmountTier                `json:"amountTiers"`
	KindScores           map[TransactionKind]float64 `json:"kindScores"`
	HighRiskCountries    []string                    `json:"highRiskCountries"`
	MediumRiskCountries  []string                    `json:"mediumRiskCountries"`
	LowRiskCountries     []string                    `json:"lowRiskCountries"`
	UnknownCountryScore  float64                     `json:"unknownCountryScore"`
	NightTimeScore       float64                     `json:"nightTimeScore"`
	VelocityTiers        []VelocityTier              `json:"velocityTiers"`
	UnusualLocationScore float64                     `json:"unusualLocationScore"`

	// Scenario matcher
	HomeCountries []string `json:"homeCountries"`

	// Resolver cut points
	RuleHighCutoff         float64 `json:"ruleHighCutoff"`
	RuleMediumCutoff       float64 `json:"ruleMediumCutoff"`
	AdvisoryStrongCutoff   float64 `json:"advisoryStrongCutoff"`
	AdvisoryElevatedCutoff float64 `json:"advisoryElevatedCutoff"`

	// Velocity window used to resolve the RecentCount covariate.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// Operator-defined CEL rule extensions.
	CustomRules []CustomRuleConfig `json:"customRules,omitempty"`
}

// BlockConfig holds the account block state machine tunables.
type BlockConfig struct {
	// MaxAttempts is the high-risk event count that triggers a block.
	MaxAttempts int `json:"maxAttempts"`

	// Duration is the block cool-down.
	Duration time.Duration `json:"duration"`

	// SweepInterval is how often the background sweeper runs.
	SweepInterval time.Duration `json:"sweepInterval"`

	// Shards controls lock granularity in the block store.
	Shards int `json:"shards"`
}

// DefaultScoringConfig returns the scoring defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		AmountTiers: []AmountTier{
			{Threshold: 200000, Score: 25},
			{Threshold: 100000, Score: 20},
			{Threshold: 50000, Score: 15},
			{Threshold: 20000, Score: 10},
			{Threshold: 10000, Score: 5},
			{Threshold: 5000, Score: 2},
		},
		KindScores: map[TransactionKind]float64{
			KindInternational: 20,
			KindTransfer:      12,
			KindOnline:        8,
			KindCard:          3,
		},
		HighRiskCountries:   []string{"NG", "RU", "KP", "IR"},
		MediumRiskCountries: []string{"CN", "PK", "UA", "VE"},
		LowRiskCountries:    []string{"IN", "US", "GB", "DE", "SG", "JP"},
		UnknownCountryScore: 5,
		NightTimeScore:      10,
		VelocityTiers: []VelocityTier{
			{Count: 10, Score: 15},
			{Count: 7, Score: 12},
			{Count: 5, Score: 10},
			{Count: 3, Score: 5},
		},
		UnusualLocationScore: 15,

		HomeCountries: []string{"IN", "US", "GB"},

		RuleHighCutoff:         60,
		RuleMediumCutoff:       30,
		AdvisoryStrongCutoff:   70,
		AdvisoryElevatedCutoff: 50,

		VelocityWindow: time.Hour,
	}
}

// DefaultBlockConfig returns the block state machine defaults.
func DefaultBlockConfig() BlockConfig {
	return BlockConfig{
		MaxAttempts:   3,
		Duration:      24 * time.Hour,
		SweepInterval: 5 * time.Minute,
		Shards:        16,
	}
}

// DefaultConfig returns a default configuration for the Community tier.
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
			SQLitePath: "./kestrel.db",
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
		Scoring: DefaultScoringConfig(),
		Block:   DefaultBlockConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
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
