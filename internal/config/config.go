package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Record sink backends.
const (
	SinkCSV      = "csv"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// Completion providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Default models per provider, used when LLM_MODEL is unset.
const (
	DefaultOpenAIModel = "gpt-4o"
	DefaultGeminiModel = "gemini-2.5-flash"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	LLMProvider      string        `mapstructure:"LLM_PROVIDER"`
	LLMModel         string        `mapstructure:"LLM_MODEL"`
	LLMBaseURL       string        `mapstructure:"LLM_BASE_URL"`
	LLMTemperature   float32       `mapstructure:"LLM_TEMPERATURE"`
	LLMTimeout       time.Duration `mapstructure:"LLM_TIMEOUT"`
	LLMDefaultAPIKey string        `mapstructure:"LLM_DEFAULT_API_KEY"`

	SessionMax    int           `mapstructure:"SESSION_MAX"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	PersistOnNote bool          `mapstructure:"PERSIST_ON_NOTE"`

	RecordSink    string   `mapstructure:"RECORD_SINK"`
	RecordCSVPath string   `mapstructure:"RECORD_CSV_PATH"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	KafkaBrokers  []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string   `mapstructure:"KAFKA_TOPIC"`

	FacilityName string   `mapstructure:"FACILITY_NAME"`
	PDFFontPaths []string `mapstructure:"PDF_FONT_PATHS"`

	ArchiveEnabled bool   `mapstructure:"ARCHIVE_ENABLED"`
	S3Endpoint     string `mapstructure:"S3_ENDPOINT"`
	S3Region       string `mapstructure:"S3_REGION"`
	S3AccessKey    string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string `mapstructure:"S3_SECRET_KEY"`
	S3Bucket       string `mapstructure:"S3_BUCKET"`
	S3UseSSL       bool   `mapstructure:"S3_USE_SSL"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "LLM_TEMPERATURE", "LLM_TIMEOUT", "LLM_DEFAULT_API_KEY",
	"SESSION_MAX", "SESSION_TTL", "PERSIST_ON_NOTE",
	"RECORD_SINK", "RECORD_CSV_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"FACILITY_NAME", "PDF_FONT_PATHS",
	"ARCHIVE_ENABLED", "S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_USE_SSL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "90s")
	v.SetDefault("LLM_PROVIDER", ProviderOpenAI)
	v.SetDefault("LLM_TEMPERATURE", 0.5)
	v.SetDefault("LLM_TIMEOUT", "60s")
	v.SetDefault("SESSION_MAX", 1000)
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("PERSIST_ON_NOTE", false)
	v.SetDefault("RECORD_SINK", SinkCSV)
	v.SetDefault("RECORD_CSV_PATH", "data/session_records.csv")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("KAFKA_TOPIC", "clinix.session-records")
	v.SetDefault("FACILITY_NAME", "Clinic Name / Address / Contact")
	v.SetDefault("S3_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.PDFFontPaths = splitList(cfg.PDFFontPaths, v.GetString("PDF_FONT_PATHS"))
	cfg.RecordSink = strings.ToLower(strings.TrimSpace(cfg.RecordSink))
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.LLMModel = strings.TrimSpace(cfg.LLMModel)
	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider)
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, every request acts as a physician.")
	}

	return cfg, nil
}

// splitList normalises comma separated list values. Unmarshal may hand back a
// single element holding the whole raw string, so the raw value wins when set.
func splitList(parsed []string, raw string) []string {
	if raw == "" {
		raw = strings.Join(parsed, ",")
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func defaultModel(provider string) string {
	if provider == ProviderGemini {
		return DefaultGeminiModel
	}
	return DefaultOpenAIModel
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks cross-field rules that viper cannot express.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}

	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.LLMProvider)
	}
	if c.LLMModel == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2], got %v", c.LLMTemperature)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.SessionMax <= 0 {
		return fmt.Errorf("SESSION_MAX must be positive")
	}

	switch c.RecordSink {
	case SinkCSV:
		if c.RecordCSVPath == "" {
			return fmt.Errorf("RECORD_CSV_PATH is required when RECORD_SINK is %q", SinkCSV)
		}
	case SinkPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECORD_SINK is %q", SinkPostgres)
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when RECORD_SINK is %q", SinkKafka)
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when RECORD_SINK is %q", SinkKafka)
		}
	default:
		return fmt.Errorf("RECORD_SINK must be csv, postgres or kafka, got %q", c.RecordSink)
	}

	if c.ArchiveEnabled {
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required when ARCHIVE_ENABLED is true")
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when ARCHIVE_ENABLED is true")
		}
	}

	return nil
}
