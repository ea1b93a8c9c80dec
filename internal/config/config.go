package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ehr/testgen/internal/platform/vertex"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	GoogleCloudProject  string  `mapstructure:"GOOGLE_CLOUD_PROJECT"`
	GoogleCloudLocation string  `mapstructure:"GOOGLE_CLOUD_LOCATION"`
	CredentialsFile     string  `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	GeminiAPIKey        string  `mapstructure:"GEMINI_API_KEY"`
	ModelName           string  `mapstructure:"MODEL_NAME"`
	ModelTemperature    float32 `mapstructure:"MODEL_TEMPERATURE"`
	ModelMaxTokens      int32   `mapstructure:"MODEL_MAX_OUTPUT_TOKENS"`
	ModelBaseURL        string  `mapstructure:"MODEL_BASE_URL"`

	LayoutOptions   []string `mapstructure:"LAYOUT_OPTIONS"`
	ResourceOptions []string `mapstructure:"RESOURCE_OPTIONS"`

	UploadLimit    string  `mapstructure:"UPLOAD_LIMIT"`
	BodyLimit      string  `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"PORT",
	"ENV",
	"CORS_ORIGINS",
	"GOOGLE_CLOUD_PROJECT",
	"GOOGLE_CLOUD_LOCATION",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"GEMINI_API_KEY",
	"MODEL_NAME",
	"MODEL_TEMPERATURE",
	"MODEL_MAX_OUTPUT_TOKENS",
	"MODEL_BASE_URL",
	"LAYOUT_OPTIONS",
	"RESOURCE_OPTIONS",
	"UPLOAD_LIMIT",
	"BODY_LIMIT",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"AUTH_SIGNING_KEY",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
}

// Load reads the environment and an optional .env file in the working
// directory. Environment variables win over the file.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("GOOGLE_CLOUD_LOCATION", "us-central1")
	v.SetDefault("MODEL_NAME", "gemini-2.0-flash")
	v.SetDefault("MODEL_TEMPERATURE", 0.2)
	v.SetDefault("MODEL_MAX_OUTPUT_TOKENS", 8192)
	v.SetDefault("UPLOAD_LIMIT", "20M")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.LayoutOptions = splitList(v.GetString("LAYOUT_OPTIONS"))
	cfg.ResourceOptions = splitList(v.GetString("RESOURCE_OPTIONS"))

	return cfg, nil
}

// splitList splits a comma list, dropping blanks. Empty input gives nil.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are required on the API.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Provider returns the completion provider settings.
func (c *Config) Provider() vertex.Config {
	return vertex.Config{
		Project:         c.GoogleCloudProject,
		Location:        c.GoogleCloudLocation,
		CredentialsFile: c.CredentialsFile,
		APIKey:          c.GeminiAPIKey,
		Model:           c.ModelName,
		Temperature:     c.ModelTemperature,
		MaxOutputTokens: c.ModelMaxTokens,
		BaseURL:         c.ModelBaseURL,
	}
}

// Validate checks that the configuration is safe to run. Production requires
// bearer auth with a key of at least 32 bytes.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}
	if err := c.Provider().Validate(); err != nil {
		return err
	}
	if c.ModelTemperature < 0 || c.ModelTemperature > 2 {
		return fmt.Errorf("MODEL_TEMPERATURE must be between 0 and 2, got %v", c.ModelTemperature)
	}
	if c.ModelMaxTokens < 0 {
		return fmt.Errorf("MODEL_MAX_OUTPUT_TOKENS must not be negative, got %d", c.ModelMaxTokens)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.AuthEnabled() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	return nil
}
