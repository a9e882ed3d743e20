package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration tree for both services. Keys load from an
// optional YAML file, then from BDS_* environment variables.
type Config struct {
	Pod      PodConfig      `mapstructure:"pod"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	SSE      SSEConfig      `mapstructure:"sse"`
	DB       DBConfig       `mapstructure:"db"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Grid     GridConfig     `mapstructure:"grid"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

type PodConfig struct {
	ID string `mapstructure:"id"`
}

type ClusterConfig struct {
	Name string `mapstructure:"name"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	AdminRatePerMin   int           `mapstructure:"adminRatePerMin"`
	ConnectRatePerMin int           `mapstructure:"connectRatePerMin"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type SSEConfig struct {
	Timeout                time.Duration `mapstructure:"timeout"`
	HeartbeatInterval      time.Duration `mapstructure:"heartbeatInterval"`
	MaxConnectionsPerUser  int           `mapstructure:"maxConnectionsPerUser"`
	ClientTimeoutThreshold time.Duration `mapstructure:"clientTimeoutThreshold"`
	MailboxSize            int           `mapstructure:"mailboxSize"`
}

type DBConfig struct {
	BatchSize int `mapstructure:"batchSize"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GridConfig struct {
	// Backend selects the grid implementation at process start: redis | memory.
	Backend        string        `mapstructure:"backend"`
	ContentTTL     time.Duration `mapstructure:"contentTTL"`
	PendingTTL     time.Duration `mapstructure:"pendingTTL"`
	LookupTimeout  time.Duration `mapstructure:"lookupTimeout"`
	LocalCacheSize int           `mapstructure:"localCacheSize"`
}

type KafkaConfig struct {
	Brokers []string           `mapstructure:"brokers"`
	Topic   KafkaTopicConfig   `mapstructure:"topic"`
	Consume KafkaConsumeConfig `mapstructure:"consumer"`
	Retry   KafkaRetryConfig   `mapstructure:"retry"`
}

type KafkaTopicConfig struct {
	NameOrchestration string `mapstructure:"nameOrchestration"`
}

type KafkaConsumeConfig struct {
	GroupOrchestration string `mapstructure:"groupOrchestration"`
}

type KafkaRetryConfig struct {
	MaxAttempts  int           `mapstructure:"maxAttempts"`
	BackoffDelay time.Duration `mapstructure:"backoffDelay"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	BatchSize    int           `mapstructure:"batchSize"`
}

type ScheduleConfig struct {
	PrecomputeInterval time.Duration `mapstructure:"precomputeInterval"`
	ActivationInterval time.Duration `mapstructure:"activationInterval"`
	ExpirationInterval time.Duration `mapstructure:"expirationInterval"`
	StaleReapInterval  time.Duration `mapstructure:"staleReapInterval"`
	StaleThreshold     time.Duration `mapstructure:"staleThreshold"`
	LockAtLeastFor     time.Duration `mapstructure:"lockAtLeastFor"`
	LockAtMostFor      time.Duration `mapstructure:"lockAtMostFor"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pod.id", "pod-local")
	v.SetDefault("cluster.name", "default")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.adminRatePerMin", 60)
	v.SetDefault("http.connectRatePerMin", 30)
	v.SetDefault("http.shutdownTimeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sse.timeout", 30*time.Minute)
	v.SetDefault("sse.heartbeatInterval", 30*time.Second)
	v.SetDefault("sse.maxConnectionsPerUser", 5)
	v.SetDefault("sse.clientTimeoutThreshold", 90*time.Second)
	v.SetDefault("sse.mailboxSize", 1024)

	v.SetDefault("db.batchSize", 1000)

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/broadcast?sslmode=disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("grid.backend", "redis")
	v.SetDefault("grid.contentTTL", time.Hour)
	v.SetDefault("grid.pendingTTL", 24*time.Hour)
	v.SetDefault("grid.lookupTimeout", 500*time.Millisecond)
	v.SetDefault("grid.localCacheSize", 4096)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.nameOrchestration", "broadcast.orchestration.v1")
	v.SetDefault("kafka.consumer.groupOrchestration", "broadcast-delivery.orchestration")
	v.SetDefault("kafka.retry.maxAttempts", 3)
	v.SetDefault("kafka.retry.backoffDelay", time.Second)

	v.SetDefault("outbox.pollInterval", 2*time.Second)
	v.SetDefault("outbox.batchSize", 100)

	v.SetDefault("schedule.precomputeInterval", time.Minute)
	v.SetDefault("schedule.activationInterval", time.Minute)
	v.SetDefault("schedule.expirationInterval", time.Minute)
	v.SetDefault("schedule.staleReapInterval", time.Minute)
	v.SetDefault("schedule.staleThreshold", 2*time.Minute)
	v.SetDefault("schedule.lockAtLeastFor", 2*time.Second)
	v.SetDefault("schedule.lockAtMostFor", 5*time.Minute)
}

// LoadConfig reads the optional config file named by --config_file (or the
// BDS_CONFIG_FILE env var), layers environment overrides and returns the
// resolved tree.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot produce a working process.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.SSE.MaxConnectionsPerUser < 1 {
		return fmt.Errorf("sse.maxConnectionsPerUser must be >= 1")
	}
	if c.DB.BatchSize < 1 {
		return fmt.Errorf("db.batchSize must be >= 1")
	}
	switch c.Grid.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("grid.backend must be redis or memory, got %q", c.Grid.Backend)
	}
	if c.Schedule.LockAtMostFor < c.Schedule.LockAtLeastFor {
		return fmt.Errorf("schedule.lockAtMostFor must be >= schedule.lockAtLeastFor")
	}
	return nil
}
