package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty connection string runs the quota store in memory (local development only).
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	// Generation quota settings
	GenerationLimit       int           `envconfig:"GENERATION_LIMIT" default:"10"`
	GenerationWindow      time.Duration `envconfig:"GENERATION_WINDOW" default:"10m"`
	StrictGenerationQuota bool          `envconfig:"STRICT_GENERATION_QUOTA" default:"false"`
	StoreTimeout          time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`

	// Try-on generator settings
	TryOnAPIBaseURL string        `envconfig:"TRYON_API_BASE_URL" required:"true"`
	TryOnAPITimeout time.Duration `envconfig:"TRYON_API_TIMEOUT" default:"120s"`

	// Result storage; an empty bucket returns generated images inline.
	S3URL       string `envconfig:"S3_URL"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	// Pub/Sub settings
	GCPProjectID          string `envconfig:"GCP_PROJECT_ID"`
	PubSubGenerationTopic string `envconfig:"PUBSUB_GENERATION_TOPIC" default:"tryon-generations"`
	PubSubEmulatorHost    string `envconfig:"PUBSUB_EMULATOR_HOST"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PublishingEnabled reports whether generation events should go to Pub/Sub.
func (c *Config) PublishingEnabled() bool {
	return c.GCPProjectID != "" && c.PubSubGenerationTopic != ""
}
