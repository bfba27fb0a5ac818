package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// AppConfig holds application-level configuration.
type AppConfig struct {
	Store     string
	Redis     RedisConfig
	Postgres  PostgresConfig
	AppConfig AppConfigSettings
	Engine    EngineConfig
	HTTP      HTTPConfig
	Channel   ChannelConfig
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int

	// ElastiCache-specific settings
	ClusterMode    bool
	SentinelAddrs  []string
	MasterName     string
	RouteByLatency bool
	RouteRandomly  bool
}

// PostgresConfig holds the journey definition store settings.
// An empty URL keeps definitions in the state backend.
type PostgresConfig struct {
	URL string
}

// AppConfigSettings holds AWS AppConfig settings.
type AppConfigSettings struct {
	Endpoint      string
	ApplicationID string
	EnvironmentID string
	CacheTTL      time.Duration
}

// EngineConfig holds journey runtime settings.
type EngineConfig struct {
	StateTTL          time.Duration
	ArchiveTTL        time.Duration
	IdempotencyTTL    time.Duration
	QueueCapacity     int64
	DispatchWorkers   int
	SchedulerInterval time.Duration
	TimerBatch        int64
	ScanCount         int64
	AwaitCallback     bool
}

// HTTPConfig holds the local API server settings.
type HTTPConfig struct {
	Addr string
}

// ChannelConfig holds the outbound channel adapter settings.
// An empty Endpoint logs messages instead of sending them.
type ChannelConfig struct {
	Endpoint    string
	STSEndpoint string
	SecretName  string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// LoadFromEnv loads configuration from environment variables with sensible defaults.
func LoadFromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Store: strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreRedis)),
		Redis: RedisConfig{
			Addr:           getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             getIntEnv("REDIS_DB", 0),
			DialTimeout:    5 * time.Second,
			ReadTimeout:    3 * time.Second,
			WriteTimeout:   3 * time.Second,
			PoolSize:       getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns:   2,
			ClusterMode:    os.Getenv("REDIS_CLUSTER_MODE") == "true",
			SentinelAddrs:  splitList(os.Getenv("REDIS_SENTINEL_ADDRS")),
			MasterName:     os.Getenv("REDIS_MASTER_NAME"),
			RouteByLatency: os.Getenv("REDIS_ROUTE_BY_LATENCY") == "true",
			RouteRandomly:  os.Getenv("REDIS_ROUTE_RANDOMLY") == "true",
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		AppConfig: AppConfigSettings{
			Endpoint:      getEnvOrDefault("APPCONFIG_ENDPOINT", "http://localhost:2772"),
			ApplicationID: os.Getenv("APPCONFIG_APP_ID"),
			EnvironmentID: os.Getenv("APPCONFIG_ENV_ID"),
			CacheTTL:      getDurationEnv("APPCONFIG_CACHE_TTL", 5*time.Minute),
		},
		Engine: EngineConfig{
			StateTTL:          getDurationEnv("STATE_TTL", 90*24*time.Hour),
			ArchiveTTL:        getDurationEnv("ARCHIVE_TTL", 7*24*time.Hour),
			IdempotencyTTL:    getDurationEnv("IDEMPOTENCY_TTL", 72*time.Hour),
			QueueCapacity:     int64(getIntEnv("DISPATCH_QUEUE_CAPACITY", 10000)),
			DispatchWorkers:   getIntEnv("DISPATCH_WORKERS", 4),
			SchedulerInterval: getDurationEnv("SCHEDULER_INTERVAL", time.Minute),
			TimerBatch:        int64(getIntEnv("TIMER_BATCH", 100)),
			ScanCount:         int64(getIntEnv("SCAN_COUNT", 100)),
			AwaitCallback:     os.Getenv("DISPATCH_AWAIT_CALLBACK") == "true",
		},
		HTTP: HTTPConfig{
			Addr: getEnvOrDefault("HTTP_ADDR", ":3000"),
		},
		Channel: ChannelConfig{
			Endpoint:    os.Getenv("CHANNEL_ENDPOINT"),
			STSEndpoint: os.Getenv("CHANNEL_STS_ENDPOINT"),
			SecretName:  os.Getenv("CHANNEL_SECRET_NAME"),
			Timeout:     getDurationEnv("CHANNEL_TIMEOUT", 10*time.Second),
			MaxRetries:  getIntEnv("CHANNEL_MAX_RETRIES", 2),
			RetryDelay:  getDurationEnv("CHANNEL_RETRY_DELAY", time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// getDurationEnv accepts Go duration strings ("90s", "24h").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
