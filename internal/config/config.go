// Package config handles application configuration loading from a YAML file
// with environment variable overrides.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "triviaapp/internal/utils"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Question generation configuration
	Generation GenerationConfig `json:"generation" yaml:"generation"`

	// Prompt variety configuration
	Variety *QuestionVarietyConfig `json:"variety,omitempty" yaml:"variety,omitempty"`

	// OpenTelemetry Configuration
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	// Internal fields
	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port          string   `json:"port" yaml:"port"`
	AdminUsername string   `json:"admin_username" yaml:"admin_username"`
	AdminPassword string   `json:"admin_password" yaml:"admin_password"`
	SessionSecret string   `json:"session_secret" yaml:"session_secret"`
	Debug         bool     `json:"debug" yaml:"debug"`
	LogLevel      string   `json:"log_level" yaml:"log_level"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`       // Maximum number of open connections to the database
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`       // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // Maximum amount of time a connection may be reused
	MigrationsPath  string        `json:"migrations_path" yaml:"migrations_path"`
}

// GenerationConfig controls the question generation pipeline: the upstream
// provider, the worker pool, and the replenishment policy knobs.
type GenerationConfig struct {
	ProviderURL    string        `json:"provider_url" yaml:"provider_url"`
	Model          string        `json:"model" yaml:"model"`
	APIKey         string        `json:"api_key" yaml:"api_key"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// Worker pool
	Workers       int `json:"workers" yaml:"workers"`
	QueueSize     int `json:"queue_size" yaml:"queue_size"`
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// Per-job attempt budget: attempts = max(target*AttemptMultiplier, MinAttempts)
	AttemptMultiplier      int `json:"attempt_multiplier" yaml:"attempt_multiplier"`
	MinAttempts            int `json:"min_attempts" yaml:"min_attempts"`
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// Replenishment policy
	MinBatch             int `json:"min_batch" yaml:"min_batch"`
	MaxActiveJobsPerUser int `json:"max_active_jobs_per_user" yaml:"max_active_jobs_per_user"` // 0 = unlimited

	// Job retention
	JobRetention    time.Duration `json:"job_retention" yaml:"job_retention"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// QuestionVarietyConfig defines the variety elements rotated into generation
// prompts so consecutive questions do not read alike.
type QuestionVarietyConfig struct {
	QuestionStyles  []string `json:"question_styles" yaml:"question_styles"`
	QuestionFormats []string `json:"question_formats" yaml:"question_formats"`
	AudienceHints   []string `json:"audience_hints" yaml:"audience_hints"`
	TopicTwists     []string `json:"topic_twists" yaml:"topic_twists"`
}

// OpenTelemetryConfig represents OpenTelemetry configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "http://localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "trivia-backend" or "trivia-worker"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`   // Default: true
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`   // Default: true
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"`     // Default: 1.0 (100%)
}

// NewConfig loads the YAML config file and applies environment overrides
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	return config, nil
}

// applyDefaults fills in zero-valued tuning knobs with their defaults so a
// minimal config file still yields a working engine.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DatabaseConnMaxLifetime
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}
	if c.Generation.RequestTimeout == 0 {
		c.Generation.RequestTimeout = GenerationRequestTimeout
	}
	if c.Generation.Workers == 0 {
		c.Generation.Workers = DefaultGenerationWorkers
	}
	if c.Generation.QueueSize == 0 {
		c.Generation.QueueSize = DefaultGenerationQueueSize
	}
	if c.Generation.MaxConcurrent == 0 {
		c.Generation.MaxConcurrent = DefaultMaxConcurrentGenerations
	}
	if c.Generation.AttemptMultiplier == 0 {
		c.Generation.AttemptMultiplier = DefaultAttemptMultiplier
	}
	if c.Generation.MinAttempts == 0 {
		c.Generation.MinAttempts = DefaultMinAttempts
	}
	if c.Generation.MaxConsecutiveFailures == 0 {
		c.Generation.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Generation.MinBatch == 0 {
		c.Generation.MinBatch = DefaultMinReplenishBatch
	}
	if c.Generation.JobRetention == 0 {
		c.Generation.JobRetention = DefaultJobRetention
	}
	if c.Generation.CleanupInterval == 0 {
		c.Generation.CleanupInterval = DefaultCleanupInterval
	}
	if c.Variety == nil {
		c.Variety = DefaultVariety()
	}
}

// DefaultVariety returns the built-in variety rotation used when the config
// file does not provide one.
func DefaultVariety() *QuestionVarietyConfig {
	return &QuestionVarietyConfig{
		QuestionStyles:  []string{"playful", "straightforward", "story-based", "surprising fact"},
		QuestionFormats: []string{"multiple choice with 4 options", "true or false", "which of these"},
		AudienceHints:   []string{"curious kids", "family game night", "classroom quiz", "pub quiz"},
		TopicTwists:     []string{"a famous person", "a record or extreme", "how something works", "history of"},
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnvWithPrefix(c, "")
}

// overrideStructFromEnvWithPrefix recursively overrides struct fields with environment variables
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		yamlTag = strings.Split(yamlTag, ",")[0]

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if field.Type() == reflect.TypeOf(time.Duration(0)) {
					if d, err := time.ParseDuration(envVal); err == nil {
						field.SetInt(int64(d))
					}
				} else if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				if field.Type().Elem().Kind() == reflect.String {
					slice := strings.Split(envVal, ",")
					field.Set(reflect.ValueOf(slice))
				}
			}
		case reflect.Struct:
			if field.CanAddr() {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), fieldPrefix)
			}
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Interface(), fieldPrefix)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file, preferring the path given in
// TRIVIA_CONFIG_FILE over the default config.yaml.
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv("TRIVIA_CONFIG_FILE"); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	config, err := loadConfigFromFile("config.yaml")
	if err != nil {
		if os.IsNotExist(err) {
			// No config file; rely on defaults plus environment
			return &Config{}, nil
		}
		return nil, err
	}
	return config, nil
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
