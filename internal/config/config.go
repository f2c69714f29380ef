package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all backend runtime configuration loaded from environment variables.
type Config struct {
	AppPort string `env:"APP_PORT" env-default:"3000"`
	AppEnv  string `env:"APP_ENV"  env-default:"development"`

	AWS          AWSConfig
	DynamoTables DynamoTables
	JWT          JWTConfig
	Dedup        DedupConfig
	Ingest       IngestConfig
	Log          LogConfig

	S3BucketName string `env:"S3_BUCKET_NAME"`
	SNSTopicARN  string `env:"SNS_TOPIC_ARN"`

	// CORS allowed origins, comma separated.
	AllowedOriginsRaw string `env:"ALLOWED_ORIGINS" env-default:"*"`
	// Monitored package names served to agents, comma separated. Empty means
	// the classifier's built-in table.
	MonitoredPackagesRaw string `env:"MONITORED_PACKAGES"`
}

type AWSConfig struct {
	Region      string `env:"AWS_REGION"            env-default:"us-east-1"`
	EndpointURL string `env:"AWS_ENDPOINT_URL"` // empty in prod, LocalStack/dynamodb-local in dev
	AccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Devices       string `env:"DYNAMO_TABLE_DEVICES"       env-default:"devices"`
	AppInstances  string `env:"DYNAMO_TABLE_APP_INSTANCES" env-default:"app_instances"`
	Notifications string `env:"DYNAMO_TABLE_NOTIFICATIONS" env-default:"notifications"`
	Bootstrap     bool   `env:"DYNAMO_BOOTSTRAP"           env-default:"true"`
}

type JWTConfig struct {
	PrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH" env-default:"./private_key.pem"`
	PublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH"  env-default:"./public_key.pem"`
	ExpiryDays     int    `env:"JWT_EXPIRY_DAYS"      env-default:"365"`
	Issuer         string `env:"JWT_ISSUER"           env-default:"paynotify"`
}

// DedupConfig tunes the duplicate detector. Amount and payer matching are
// off by default: device, source app and time window alone decide.
type DedupConfig struct {
	Window      time.Duration `env:"DEDUP_WINDOW"       env-default:"60s"`
	MatchAmount bool          `env:"DEDUP_MATCH_AMOUNT" env-default:"false"`
	MatchPayer  bool          `env:"DEDUP_MATCH_PAYER"  env-default:"false"`
}

type IngestConfig struct {
	RatePerSecond float64 `env:"INGEST_RATE_PER_SECOND" env-default:"5"`
	RateBurst     int     `env:"INGEST_RATE_BURST"      env-default:"20"`
	MaxRetries    int     `env:"INGEST_MAX_RETRIES"     env-default:"5"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return fmt.Errorf("APP_PORT must not be empty")
	}
	if c.Dedup.Window <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be > 0 (got %s)", c.Dedup.Window)
	}
	if c.Ingest.MaxRetries < 1 {
		return fmt.Errorf("INGEST_MAX_RETRIES must be >= 1 (got %d)", c.Ingest.MaxRetries)
	}
	if c.Ingest.RatePerSecond <= 0 || c.Ingest.RateBurst < 1 {
		return fmt.Errorf("INGEST_RATE_PER_SECOND and INGEST_RATE_BURST must be positive")
	}
	if c.JWT.ExpiryDays < 1 {
		return fmt.Errorf("JWT_EXPIRY_DAYS must be >= 1 (got %d)", c.JWT.ExpiryDays)
	}
	return nil
}

func (c *Config) AllowedOrigins() []string {
	return splitList(c.AllowedOriginsRaw)
}

func (c *Config) MonitoredPackages() []string {
	return splitList(c.MonitoredPackagesRaw)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
