package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Categorical fallback policies for answers the response mapper does not recognise
const (
	CategoricalAffirmative = "affirmative"
	CategoricalFirstOption = "first-option"
	CategoricalSkip        = "skip"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Env      Environment `envconfig:"ENV" default:"development"`
	LogLevel string      `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool        `envconfig:"DEBUG" default:"false"`

	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Temporal  TemporalConfig
	Storage   StorageConfig
	Browser   BrowserConfig
	Form      FormConfig
	Features  FeatureFlags
	RateLimit RateLimitConfig
	Security  SecurityConfig
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"formpilot"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"APP_LOG_LEVEL" default:"info"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	MaxRequestSize  int64         `envconfig:"SERVER_MAX_REQUEST_SIZE" default:"1048576"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL settings for the activity log
type DatabaseConfig struct {
	Enabled         bool          `envconfig:"DB_ENABLED" default:"false"`
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"formpilot"`
	Password        string        `envconfig:"DB_PASSWORD" default:""`
	Database        string        `envconfig:"DB_NAME" default:"formpilot"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"1m"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Enabled      bool          `envconfig:"REDIS_ENABLED" default:"true"`
	Host         string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `envconfig:"REDIS_PASSWORD" default:""`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// Addr returns Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TemporalConfig holds Temporal settings
type TemporalConfig struct {
	Enabled     bool   `envconfig:"TEMPORAL_ENABLED" default:"false"`
	Host        string `envconfig:"TEMPORAL_HOST" default:"localhost"`
	Port        int    `envconfig:"TEMPORAL_PORT" default:"7233"`
	Namespace   string `envconfig:"TEMPORAL_NAMESPACE" default:"formpilot"`
	TaskQueue   string `envconfig:"TEMPORAL_TASK_QUEUE" default:"formpilot-fills"`
	WorkerCount int    `envconfig:"TEMPORAL_WORKER_COUNT" default:"1"`
}

// Address returns Temporal address
func (c TemporalConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig holds object storage settings for uploaded workbooks
type StorageConfig struct {
	Enabled   bool   `envconfig:"STORAGE_ENABLED" default:"false"`
	Endpoint  string `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"STORAGE_BUCKET" default:"workbooks"`
	UseSSL    bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
	TempDir   string `envconfig:"STORAGE_TEMP_DIR" default:""`
}

// BrowserConfig holds the automated browser profile
type BrowserConfig struct {
	Headless            bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	BinaryPath          string        `envconfig:"BROWSER_BINARY_PATH" default:""`
	RequireSystemBinary bool          `envconfig:"BROWSER_REQUIRE_SYSTEM_BINARY" default:"false"`
	InstallDriver       bool          `envconfig:"BROWSER_INSTALL_DRIVER" default:"false"`
	Mock                bool          `envconfig:"BROWSER_MOCK" default:"false"`
	WindowWidth         int           `envconfig:"BROWSER_WINDOW_WIDTH" default:"1920"`
	WindowHeight        int           `envconfig:"BROWSER_WINDOW_HEIGHT" default:"1080"`
	DefaultTimeout      time.Duration `envconfig:"BROWSER_DEFAULT_TIMEOUT" default:"5s"`
	NavigationTimeout   time.Duration `envconfig:"BROWSER_NAVIGATION_TIMEOUT" default:"60s"`
	FieldTimeout        time.Duration `envconfig:"BROWSER_FIELD_TIMEOUT" default:"10s"`
	ItemDelay           time.Duration `envconfig:"BROWSER_ITEM_DELAY" default:"300ms"`
	LaunchSettle        time.Duration `envconfig:"BROWSER_LAUNCH_SETTLE" default:"5s"`
	LoginWait           time.Duration `envconfig:"BROWSER_LOGIN_WAIT" default:"45s"`
	PageSettle          time.Duration `envconfig:"BROWSER_PAGE_SETTLE" default:"3s"`
}

// FormConfig describes the third-party form being filled
type FormConfig struct {
	BaseURL             string `envconfig:"FORM_BASE_URL" default:"https://merkezisgb.meb.gov.tr/belgelendirme/OtbPortal/tetkikgorevlisi/raporguncellebolum1.aspx"`
	PageURLTemplate     string `envconfig:"FORM_PAGE_URL_TEMPLATE" default:"https://merkezisgb.meb.gov.tr/belgelendirme/OtbPortal/tetkikgorevlisi/raporguncellebolum%d.aspx"`
	TextFieldPrefix     string `envconfig:"FORM_TEXT_FIELD_PREFIX" default:"ContentPlaceHolder1_txtsoru"`
	TextFieldSuffix     string `envconfig:"FORM_TEXT_FIELD_SUFFIX" default:"aciklama"`
	SelectPrefix        string `envconfig:"FORM_SELECT_PREFIX" default:"ContentPlaceHolder1_drpcevap"`
	UnmappedCategorical string `envconfig:"FORM_UNMAPPED_CATEGORICAL" default:"affirmative"`
}

// FeatureFlags holds feature toggles
type FeatureFlags struct {
	SerializeRuns     bool `envconfig:"FEATURE_SERIALIZE_RUNS" default:"false"`
	EnableActivityLog bool `envconfig:"FEATURE_ACTIVITY_LOG" default:"true"`
	EnableMetrics     bool `envconfig:"FEATURE_METRICS" default:"true"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMin int  `envconfig:"RATE_LIMIT_REQUESTS_PER_MIN" default:"120"`
	BurstSize      int  `envconfig:"RATE_LIMIT_BURST_SIZE" default:"10"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	UserHeader         string   `envconfig:"SECURITY_USER_HEADER" default:"X-User"`
	CORSEnabled        bool     `envconfig:"CORS_ENABLED" default:"true"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	TLSEnabled         bool     `envconfig:"TLS_ENABLED" default:"false"`
	TLSCertFile        string   `envconfig:"TLS_CERT_FILE" default:""`
	TLSKeyFile         string   `envconfig:"TLS_KEY_FILE" default:""`
}

// Load loads configuration from the environment (and an optional .env file)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config without failing on invalid values (for CLI tools)
func LoadWithDefaults() *Config {
	_ = godotenv.Load()

	var cfg Config
	envconfig.Process("", &cfg)

	if cfg.Form.UnmappedCategorical == "" {
		cfg.Form.UnmappedCategorical = CategoricalAffirmative
	}
	if cfg.Browser.FieldTimeout <= 0 {
		cfg.Browser.FieldTimeout = 10 * time.Second
	}

	return &cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	switch c.Form.UnmappedCategorical {
	case CategoricalAffirmative, CategoricalFirstOption, CategoricalSkip:
	default:
		errors = append(errors, fmt.Sprintf("FORM_UNMAPPED_CATEGORICAL must be one of %s, %s, %s",
			CategoricalAffirmative, CategoricalFirstOption, CategoricalSkip))
	}

	if c.Form.BaseURL == "" {
		errors = append(errors, "FORM_BASE_URL is required")
	}
	if !strings.Contains(c.Form.PageURLTemplate, "%d") {
		errors = append(errors, "FORM_PAGE_URL_TEMPLATE must contain %d")
	}

	if c.Browser.FieldTimeout <= 0 || c.Browser.NavigationTimeout <= 0 {
		errors = append(errors, "BROWSER_FIELD_TIMEOUT and BROWSER_NAVIGATION_TIMEOUT must be positive")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		errors = append(errors, "BROWSER_WINDOW_WIDTH and BROWSER_WINDOW_HEIGHT must be positive")
	}

	if c.Database.Enabled && c.Env != EnvDevelopment && c.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required in non-development mode")
	}

	if c.Env == EnvProduction {
		if c.Security.TLSEnabled && (c.Security.TLSCertFile == "" || c.Security.TLSKeyFile == "") {
			errors = append(errors, "TLS_CERT_FILE and TLS_KEY_FILE are required when TLS is enabled")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// GetLogLevel returns the appropriate zap log level
func (c *Config) GetLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}
