package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	Worker    WorkerConfig    `mapstructure:"worker_pool"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	FailOpen          bool `mapstructure:"fail_open"`
	RegisterPerMinute int  `mapstructure:"register_per_minute"`
	LoginPerMinute    int  `mapstructure:"login_per_minute"`
	ChatPerMinute     int  `mapstructure:"chat_per_minute"`
	PoolPerMinute     int  `mapstructure:"pool_per_minute"`
	APIPerMinute      int  `mapstructure:"api_per_minute"`
}

// LoggingConfig controls the zap logger built by middleware/log.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json, text
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

type KafkaConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Brokers       []string       `mapstructure:"brokers"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Topics        TopicsConfig   `mapstructure:"topics"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

type TopicsConfig struct {
	PoolEvents string `mapstructure:"pool_events"`
	DLQ        string `mapstructure:"dlq"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type GRPCConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Address       string        `mapstructure:"address"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// PoolConfig holds the pool lifecycle policy knobs.
type PoolConfig struct {
	DefaultTimeLimit int    `mapstructure:"default_time_limit"`
	DefaultMaxUsers  int    `mapstructure:"default_max_users"`
	PageSize         int    `mapstructure:"page_size"`
	SavingsPerSeat   int    `mapstructure:"savings_per_seat"`
	SavingsPerJoin   int    `mapstructure:"savings_per_join"`
	LeavePolicy      string `mapstructure:"leave_policy"` // permissive, strict
	ExpireBatch      int    `mapstructure:"expire_batch"`
}

type ChatConfig struct {
	PageSize   int           `mapstructure:"page_size"`
	Retention  time.Duration `mapstructure:"retention"`
	PurgeBatch int           `mapstructure:"purge_batch"`
}

type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ExpirySpec      string `mapstructure:"expiry_spec"`
	PurgeSpec       string `mapstructure:"purge_spec"`
	MaxPurgeBatches int    `mapstructure:"max_purge_batches"`
}

type PresenceConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SnowflakeConfig struct {
	DatacenterID int64 `mapstructure:"datacenter_id"`
	WorkerID     int64 `mapstructure:"worker_id"`
}

type WorkerConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

// SetDefaults registers every default so the service can boot from
// environment variables alone.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_concurrent", 1000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.dbname", "poolify")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.password", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("jwt.refresh_hours", 168)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.fail_open", true)
	v.SetDefault("ratelimit.register_per_minute", 5)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.chat_per_minute", 60)
	v.SetDefault("ratelimit.pool_per_minute", 30)
	v.SetDefault("ratelimit.api_per_minute", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/poolify.log")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.consumer_group", "poolify-events")
	v.SetDefault("kafka.topics.pool_events", "poolify.pool.events")
	v.SetDefault("kafka.topics.dlq", "poolify.pool.events.dlq")
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.consumer.max_retries", 3)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 100)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.address", ":9090")
	v.SetDefault("grpc.probe_interval", 15*time.Second)

	v.SetDefault("snowflake.datacenter_id", 1)
	v.SetDefault("snowflake.worker_id", 1)

	v.SetDefault("pool.default_time_limit", 20)
	v.SetDefault("pool.default_max_users", 4)
	v.SetDefault("pool.page_size", 20)
	v.SetDefault("pool.savings_per_seat", 30)
	v.SetDefault("pool.savings_per_join", 30)
	v.SetDefault("pool.leave_policy", "permissive")
	v.SetDefault("pool.expire_batch", 500)

	v.SetDefault("chat.page_size", 50)
	v.SetDefault("chat.retention", 7*24*time.Hour)
	v.SetDefault("chat.purge_batch", 100)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.expiry_spec", "@every 1m")
	v.SetDefault("scheduler.purge_spec", "@every 24h")
	v.SetDefault("scheduler.max_purge_batches", 50)

	v.SetDefault("presence.ttl", 5*time.Minute)

	v.SetDefault("worker_pool.size", 8)
	v.SetDefault("worker_pool.queue_size", 1024)
}

// LoadConfig reads the TOML file at path (optional when empty) and overlays
// POOLIFY_* environment variables, e.g. POOLIFY_POSTGRES_HOST.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("POOLIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Pool.DefaultTimeLimit <= 0 || c.Pool.DefaultMaxUsers <= 0 {
		return errors.New("pool defaults must be positive")
	}
	if c.Pool.SavingsPerSeat < 0 || c.Pool.SavingsPerJoin < 0 {
		return errors.New("pool savings increments must not be negative")
	}
	switch c.Pool.LeavePolicy {
	case "permissive", "strict":
	default:
		return fmt.Errorf("unknown pool.leave_policy %q", c.Pool.LeavePolicy)
	}
	if c.Chat.Retention <= 0 || c.Chat.PurgeBatch <= 0 {
		return errors.New("chat retention and purge batch must be positive")
	}
	return nil
}
