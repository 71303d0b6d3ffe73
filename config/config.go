package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string           `mapstructure:"log_level"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Media      MediaConfig      `mapstructure:"media"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type SecurityConfig struct {
	APIKeyHeader string            `mapstructure:"apiKeyHeader"`
	APIKeys      map[string]string `mapstructure:"apiKeys"`
	// Requests per second and burst allowed per API client.
	RateLimit      float64  `mapstructure:"rateLimit"`
	RateBurst      int      `mapstructure:"rateBurst"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

// StorageConfig selects the store: "mongodb" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RabbitMQConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Exchange      string        `mapstructure:"exchange"`
	DispatchQueue string        `mapstructure:"dispatchQueue"`
	StatusQueue   string        `mapstructure:"statusQueue"`
	Prefetch      int           `mapstructure:"prefetch"`
	MaxRetries    int           `mapstructure:"maxRetries"`
	RetryDelay    time.Duration `mapstructure:"retryDelay"`
}

// RedisConfig backs the launch lock. An empty Addr uses an in-process lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig selects the messaging gateway: "whatsapp" or "log".
type GatewayConfig struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"baseURL"`
	APIVersion    string        `mapstructure:"apiVersion"`
	PhoneNumberID string        `mapstructure:"phoneNumberId"`
	AccessToken   string        `mapstructure:"accessToken"`
	Timeout       time.Duration `mapstructure:"timeout"`
	VerifyToken   string        `mapstructure:"verifyToken"`
	AppSecret     string        `mapstructure:"appSecret"`
}

type DispatchConfig struct {
	BatchSize       int           `mapstructure:"batchSize"`
	BatchDelay      time.Duration `mapstructure:"batchDelay"`
	Concurrency     int           `mapstructure:"concurrency"`
	RatePerSecond   float64       `mapstructure:"ratePerSecond"`
	LockTTL         time.Duration `mapstructure:"lockTTL"`
	SendLease       time.Duration `mapstructure:"sendLease"`
	ResumeOnStartup bool          `mapstructure:"resumeOnStartup"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// TrackingConfig sets where clicks without a button target land.
type TrackingConfig struct {
	FallbackURL string `mapstructure:"fallbackURL"`
}

type MediaConfig struct {
	S3Region    string        `mapstructure:"s3Region"`
	S3Endpoint  string        `mapstructure:"s3Endpoint"`
	S3AccessKey string        `mapstructure:"s3AccessKey"`
	S3SecretKey string        `mapstructure:"s3SecretKey"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
}

type ServerConfig struct {
	Port int
	Host string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage.driver", "mongodb")
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "broadcast")
	v.SetDefault("rabbitmq.exchange", "broadcast")
	v.SetDefault("rabbitmq.dispatchQueue", "broadcast_dispatch")
	v.SetDefault("rabbitmq.statusQueue", "broadcast_status")
	v.SetDefault("rabbitmq.prefetch", 4)
	v.SetDefault("rabbitmq.maxRetries", 3)
	v.SetDefault("rabbitmq.retryDelay", "10s")
	v.SetDefault("gateway.provider", "log")
	v.SetDefault("gateway.timeout", "15s")
	v.SetDefault("dispatch.batchSize", 50)
	v.SetDefault("dispatch.batchDelay", "1s")
	v.SetDefault("dispatch.concurrency", 5)
	v.SetDefault("dispatch.ratePerSecond", 20)
	v.SetDefault("dispatch.lockTTL", "2m")
	v.SetDefault("dispatch.sendLease", "2m")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("tracking.fallbackURL", "/")
	v.SetDefault("media.s3Region", "us-east-1")
	v.SetDefault("media.httpTimeout", "20s")
	v.SetDefault("monitoring.prometheusPort", 9090)
	v.SetDefault("monitoring.metricsPath", "/metrics")
	v.SetDefault("security.apiKeyHeader", "X-API-Key")
	v.SetDefault("security.rateLimit", 10)
	v.SetDefault("security.rateBurst", 20)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv overrides the file with environment variables.
func applyEnv(cfg *Config) {
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}

	if driver := os.Getenv("STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.MongoDB.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.MongoDB.Database = db
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for backwards compatibility
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.RabbitMQ.URL = cloudamqpURL
		cfg.RabbitMQ.Enabled = true
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.RabbitMQ.URL = rabbitURL
		cfg.RabbitMQ.Enabled = true
	}
	if exchange := os.Getenv("RABBITMQ_EXCHANGE"); exchange != "" {
		cfg.RabbitMQ.Exchange = exchange
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if provider := os.Getenv("GATEWAY_PROVIDER"); provider != "" {
		cfg.Gateway.Provider = provider
	}
	if token := os.Getenv("GATEWAY_ACCESS_TOKEN"); token != "" {
		cfg.Gateway.AccessToken = token
	}
	if phone := os.Getenv("GATEWAY_PHONE_NUMBER_ID"); phone != "" {
		cfg.Gateway.PhoneNumberID = phone
	}
	if verify := os.Getenv("WEBHOOK_VERIFY_TOKEN"); verify != "" {
		cfg.Gateway.VerifyToken = verify
	}
	if secret := os.Getenv("WEBHOOK_APP_SECRET"); secret != "" {
		cfg.Gateway.AppSecret = secret
	}

	if resume := os.Getenv("DISPATCH_RESUME_ON_STARTUP"); resume != "" {
		if b, err := strconv.ParseBool(resume); err == nil {
			cfg.Dispatch.ResumeOnStartup = b
		}
	}

	if fallback := os.Getenv("TRACKING_FALLBACK_URL"); fallback != "" {
		cfg.Tracking.FallbackURL = fallback
	}

	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		cfg.Media.S3Endpoint = endpoint
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		cfg.Media.S3AccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		cfg.Media.S3SecretKey = secret
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Media.S3Region = region
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if header := os.Getenv("API_KEY_HEADER"); header != "" {
		cfg.Security.APIKeyHeader = header
	}

	if cfg.Security.APIKeys == nil {
		cfg.Security.APIKeys = map[string]string{}
	}
	for client, key := range loadAPIKeysFromEnv() {
		cfg.Security.APIKeys[client] = key
	}
}

// loadAPIKeysFromEnv reads CLIENT_<NAME>_API_KEY variables keyed by
// lowercased name.
func loadAPIKeysFromEnv() map[string]string {
	apiKeys := make(map[string]string)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}

		envName := parts[0]
		envValue := parts[1]

		if strings.HasPrefix(envName, "CLIENT_") && strings.HasSuffix(envName, "_API_KEY") {
			clientName := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(envName, "CLIENT_"), "_API_KEY"))
			if clientName != "" {
				apiKeys[clientName] = envValue
			}
		}
	}

	return apiKeys
}
