package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"intake-api"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,PATCH,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Draft storage backend (redis or memory)
	DraftStorage string `env:"DRAFT_STORAGE" env-default:"redis"`
	// Fixed key name of the persisted draft entry
	DraftKey string `env:"DRAFT_KEY" env-default:"application-form-draft"`
	// Trailing debounce applied to draft writes
	DraftDebounce time.Duration `env:"DRAFT_DEBOUNCE" env-default:"500ms"`
	// Expiry of a persisted draft entry, 0 keeps it forever
	DraftTTL time.Duration `env:"DRAFT_TTL" env-default:"168h"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Remote endpoint receiving completed applications
	SubmissionURL string `env:"SUBMISSION_URL" env-default:"http://localhost:3100/applications"`
	// Deep link template for a created application, %s is replaced by its id
	SubmissionViewURL string `env:"SUBMISSION_VIEW_URL" env-default:"/applications/%s"`
	// Timeout for the submission request, 0 leaves it to the transport
	SubmissionTimeout time.Duration `env:"SUBMISSION_TIMEOUT" env-default:"0s"`

	// Distributed in-flight guard for submissions (requires redis draft storage)
	SubmissionLockEnabled bool `env:"SUBMISSION_LOCK_ENABLED" env-default:"true"`
	// Expiry of the submission guard if never released
	SubmissionLockTTL time.Duration `env:"SUBMISSION_LOCK_TTL" env-default:"1m"`

	// Wizard sessions untouched for this long are released from memory, 0 disables
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`
	// How often idle sessions are swept
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" env-default:"1m"`

	// Port of the mock submission endpoint
	MockAPIPort int `env:"MOCK_API_PORT" env-default:"3100"`
	// Fraction of mock submissions that fail with a 500
	MockAPIFailRate float64 `env:"MOCK_API_FAIL_RATE" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for submitted applications
	KafkaSubmissionTopic string `env:"KAFKA_SUBMISSION_TOPIC" env-default:"application-submissions"`
	// Enable/disable submission events
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`

	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then binds the process environment onto Config.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.DraftStorage != "redis" && cfg.DraftStorage != "memory" {
		return nil, fmt.Errorf("unsupported DRAFT_STORAGE %q (use 'redis' or 'memory')", cfg.DraftStorage)
	}

	if cfg.MockAPIFailRate < 0 || cfg.MockAPIFailRate > 1 {
		return nil, fmt.Errorf("MOCK_API_FAIL_RATE must be between 0 and 1, got %v", cfg.MockAPIFailRate)
	}

	return &cfg, nil
}
