package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Image store backends.
const (
	ImageStoreCloudinary = "cloudinary"
	ImageStoreGCS        = "gcs"
	ImageStoreMemory     = "memory"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBName           string        `mapstructure:"DB_NAME"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	UploadLimit      string        `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LinkCodeAttempts int           `mapstructure:"LINK_CODE_ATTEMPTS"`
	DoseMatchStrict  bool          `mapstructure:"DOSE_MATCH_STRICT"`

	ImageStore          string `mapstructure:"IMAGE_STORE"`
	CloudinaryCloudName string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `mapstructure:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `mapstructure:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `mapstructure:"CLOUDINARY_FOLDER"`
	GCSBucket           string `mapstructure:"GCS_BUCKET"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioNumber     string `mapstructure:"TWILIO_NUMBER"`
	CallToNumber     string `mapstructure:"CALL_TO_NUMBER"`
	CallLanguage     string `mapstructure:"CALL_LANGUAGE"`
	CallVoice        string `mapstructure:"CALL_VOICE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_NAME", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "UPLOAD_LIMIT",
	"REQUEST_TIMEOUT", "LINK_CODE_ATTEMPTS", "DOSE_MATCH_STRICT",
	"IMAGE_STORE", "CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET",
	"CLOUDINARY_FOLDER", "GCS_BUCKET",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_NUMBER", "CALL_TO_NUMBER",
	"CALL_LANGUAGE", "CALL_VOICE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_NAME", "medrem")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LINK_CODE_ATTEMPTS", 5)
	v.SetDefault("DOSE_MATCH_STRICT", false)
	v.SetDefault("IMAGE_STORE", ImageStoreCloudinary)
	v.SetDefault("CLOUDINARY_FOLDER", "medrem_images")
	v.SetDefault("CALL_LANGUAGE", "en-IN")
	v.SetDefault("CALL_VOICE", "alice")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	if origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); provider credentials are optional.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMongo reports whether DATABASE_URL points at a MongoDB deployment
// rather than PostgreSQL.
func (c *Config) UsesMongo() bool {
	return strings.HasPrefix(c.DatabaseURL, "mongodb://") || strings.HasPrefix(c.DatabaseURL, "mongodb+srv://")
}

// CloudinaryConfigured reports whether all Cloudinary credentials are set.
func (c *Config) CloudinaryConfigured() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// TwilioConfigured reports whether the telephony account and both phone
// numbers are set.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioNumber != "" && c.CallToNumber != ""
}

// Validate checks that the configuration is safe to run. Outside production
// missing provider credentials only disable the provider; in production they
// are an error.
func (c *Config) Validate() error {
	if !c.UsesMongo() && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// or mongodb:// URL")
	}

	switch c.ImageStore {
	case ImageStoreCloudinary:
		if c.IsProduction() && !c.CloudinaryConfigured() {
			return fmt.Errorf("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET are required in production")
		}
	case ImageStoreGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when IMAGE_STORE is %q", ImageStoreGCS)
		}
	case ImageStoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("IMAGE_STORE=%q is not allowed in production", ImageStoreMemory)
		}
	default:
		return fmt.Errorf("IMAGE_STORE must be %q, %q, or %q, got %q",
			ImageStoreCloudinary, ImageStoreGCS, ImageStoreMemory, c.ImageStore)
	}

	if c.IsProduction() && !c.TwilioConfigured() {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_NUMBER and CALL_TO_NUMBER are required in production")
	}

	if c.LinkCodeAttempts < 1 {
		return fmt.Errorf("LINK_CODE_ATTEMPTS must be at least 1, got %d", c.LinkCodeAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	return nil
}
