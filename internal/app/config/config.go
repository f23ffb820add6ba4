package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the fleet manager needs.
type Config struct {
	App struct {
		Env  string
		Port string
		Host string
	}

	Database struct {
		URL      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Fleet struct {
		MaxInstances         int
		StaggeredBootDelayMs int
		ReconnectSemaphore   int
		RetryCap             int
		MessagesRetentionDays int
	}

	WhatsApp struct {
		DebugLevel  string
		StorePrefix string
	}

	Logging struct {
		Level          string
		Output         string
		ConsoleFormat  string
		FilePath       string
		FileMaxSize    int
		FileMaxBackups int
		FileMaxAge     int
		FileCompress   bool
		ConsoleColors  bool

		AppName     string
		Environment string
		Version     string
		ServiceName string

		EnableCaller bool
	}

	RateLimit struct {
		Requests int
		Window   time.Duration
	}

	CORS struct {
		AllowedOrigins string
	}

	Webhook struct {
		Secret string
	}
}

// LoadConfig populates Config from the environment, loading a .env file
// first when one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.Port = getEnv("APP_PORT", "3000")
	cfg.App.Host = getEnv("APP_HOST", "0.0.0.0")

	cfg.Database.URL = getEnv("DATABASE_URL", "")
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnv("DB_PORT", "5432")
	cfg.Database.User = getEnv("DB_USER", "whatsfleet")
	cfg.Database.Password = getEnv("DB_PASSWORD", "whatsfleet")
	cfg.Database.Name = getEnv("DB_NAME", "whatsfleet")
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", "disable")

	cfg.Fleet.MaxInstances = getEnvAsInt("MAX_INSTANCES", 80)
	cfg.Fleet.StaggeredBootDelayMs = getEnvAsInt("STAGGERED_BOOT_DELAY_MS", 500)
	cfg.Fleet.ReconnectSemaphore = getEnvAsInt("RECONNECT_SEMAPHORE_CAPACITY", 5)
	cfg.Fleet.RetryCap = getEnvAsInt("RECONNECT_RETRY_CAP", 5)
	cfg.Fleet.MessagesRetentionDays = getEnvAsInt("MESSAGES_RETENTION_DAYS", 7)

	cfg.WhatsApp.DebugLevel = getEnv("WA_DEBUG_LEVEL", "WARN")
	cfg.WhatsApp.StorePrefix = getEnv("WA_STORE_PREFIX", "whatsfleet")

	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.Output = getEnv("LOG_OUTPUT", "dual")
	cfg.Logging.ConsoleFormat = getEnv("LOG_CONSOLE_FORMAT", "console")
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/whatsfleet.log")
	cfg.Logging.FileMaxSize = getEnvAsInt("LOG_FILE_MAX_SIZE", 100)
	cfg.Logging.FileMaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 3)
	cfg.Logging.FileMaxAge = getEnvAsInt("LOG_FILE_MAX_AGE", 28)
	cfg.Logging.FileCompress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.Logging.ConsoleColors = getEnvAsBool("LOG_CONSOLE_COLORS", true)

	cfg.Logging.AppName = getEnv("APP_NAME", "whatsfleet")
	cfg.Logging.Environment = getEnv("APP_ENV", "development")
	cfg.Logging.Version = getEnv("APP_VERSION", "1.0.0")
	cfg.Logging.ServiceName = getEnv("SERVICE_NAME", "whatsapp-fleet-manager")
	cfg.Logging.EnableCaller = getEnvAsBool("LOG_ENABLE_CALLER", true)

	cfg.RateLimit.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", 100)
	windowStr := getEnv("RATE_LIMIT_WINDOW", "1m")
	window, err := time.ParseDuration(windowStr)
	if err != nil {
		window = 1 * time.Minute
	}
	cfg.RateLimit.Window = window

	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", "*")

	cfg.Webhook.Secret = getEnv("WEBHOOK_SECRET", "")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDatabaseDSN returns the DATABASE_URL override when set, otherwise
// assembles a DSN from the discrete DB_* fields.
func (c *Config) GetDatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User, c.Database.Password,
		c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.SSLMode)
}

// logger.ConfigProvider implementation.

func (c *Config) GetLogLevel() string         { return c.Logging.Level }
func (c *Config) GetLogOutput() string        { return c.Logging.Output }
func (c *Config) GetLogConsoleFormat() string { return c.Logging.ConsoleFormat }
func (c *Config) GetLogFilePath() string      { return c.Logging.FilePath }
func (c *Config) GetLogFileMaxSize() int      { return c.Logging.FileMaxSize }
func (c *Config) GetLogFileMaxBackups() int   { return c.Logging.FileMaxBackups }
func (c *Config) GetLogFileMaxAge() int       { return c.Logging.FileMaxAge }
func (c *Config) GetLogFileCompress() bool    { return c.Logging.FileCompress }
func (c *Config) GetLogConsoleColors() bool   { return c.Logging.ConsoleColors }

func (c *Config) GetLogAppName() string     { return c.Logging.AppName }
func (c *Config) GetLogEnvironment() string { return c.Logging.Environment }
func (c *Config) GetLogVersion() string     { return c.Logging.Version }
func (c *Config) GetLogServiceName() string { return c.Logging.ServiceName }
func (c *Config) GetLogEnableCaller() bool  { return c.Logging.EnableCaller }

// ApplyDevelopmentLoggingConfig tunes logging for local development.
func (c *Config) ApplyDevelopmentLoggingConfig() {
	c.Logging.Level = "debug"
	c.Logging.Environment = "development"
	c.Logging.ConsoleColors = true
	c.Logging.EnableCaller = true
}

// ApplyProductionLoggingConfig tunes logging for production.
func (c *Config) ApplyProductionLoggingConfig() {
	c.Logging.Level = "info"
	c.Logging.Environment = "production"
	c.Logging.ConsoleColors = false
	c.Logging.EnableCaller = false
}

// ApplyTestingLoggingConfig tunes logging for the test suite.
func (c *Config) ApplyTestingLoggingConfig() {
	c.Logging.Level = "warn"
	c.Logging.Environment = "testing"
	c.Logging.Output = "stdout"
	c.Logging.ConsoleColors = false
	c.Logging.EnableCaller = false
}

// LoadConfigForDevelopment loads Config with development logging applied.
func LoadConfigForDevelopment() (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyDevelopmentLoggingConfig()
	return cfg, nil
}

// LoadConfigForProduction loads Config with production logging applied.
func LoadConfigForProduction() (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyProductionLoggingConfig()
	return cfg, nil
}

// LoadConfigForTesting loads Config with testing logging applied.
func LoadConfigForTesting() (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyTestingLoggingConfig()
	return cfg, nil
}
