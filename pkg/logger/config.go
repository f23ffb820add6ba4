package logger

import (
	"os"
	"strconv"
	"strings"
)

// LogConfig is a standalone ConfigProvider implementation for callers that
// don't already have one (tests, small tools).
type LogConfig struct {
	Level         string
	Output        string
	ConsoleFormat string
	FilePath      string
	FileMaxSize   int
	FileMaxBackups int
	FileMaxAge    int
	FileCompress  bool
	ConsoleColors bool

	AppName     string
	Environment string
	Version     string
	ServiceName string

	EnableCaller bool
}

// DefaultConfig returns the baseline logging configuration.
func DefaultConfig() *LogConfig {
	return &LogConfig{
		Level:          "info",
		Output:         "dual",
		ConsoleFormat:  "console",
		FilePath:       "logs/whatsfleet.log",
		FileMaxSize:    100,
		FileMaxBackups: 3,
		FileMaxAge:     28,
		FileCompress:   true,
		ConsoleColors:  true,

		AppName:     "whatsfleet",
		Environment: "development",
		Version:     "1.0.0",
		ServiceName: "whatsapp-fleet-manager",

		EnableCaller: true,
	}
}

// LoadFromEnv overlays DefaultConfig with whatever LOG_*/APP_* vars are set.
func LoadFromEnv() *LogConfig {
	config := DefaultConfig()

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Level = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Output = val
	}
	if val := os.Getenv("LOG_CONSOLE_FORMAT"); val != "" {
		config.ConsoleFormat = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.FilePath = val
	}
	if val := os.Getenv("LOG_FILE_MAX_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.FileMaxSize = size
		}
	}
	if val := os.Getenv("LOG_FILE_MAX_BACKUPS"); val != "" {
		if backups, err := strconv.Atoi(val); err == nil {
			config.FileMaxBackups = backups
		}
	}
	if val := os.Getenv("LOG_FILE_MAX_AGE"); val != "" {
		if age, err := strconv.Atoi(val); err == nil {
			config.FileMaxAge = age
		}
	}
	if val := os.Getenv("LOG_FILE_COMPRESS"); val != "" {
		config.FileCompress = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("LOG_CONSOLE_COLORS"); val != "" {
		config.ConsoleColors = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("APP_ENV"); val != "" {
		config.Environment = val
	}
	if val := os.Getenv("APP_VERSION"); val != "" {
		config.Version = val
	}
	if val := os.Getenv("SERVICE_NAME"); val != "" {
		config.ServiceName = val
	}
	if val := os.Getenv("LOG_ENABLE_CALLER"); val != "" {
		config.EnableCaller = strings.ToLower(val) == "true"
	}

	return config
}

func (c *LogConfig) GetLogLevel() string         { return c.Level }
func (c *LogConfig) GetLogOutput() string        { return c.Output }
func (c *LogConfig) GetLogConsoleFormat() string { return c.ConsoleFormat }
func (c *LogConfig) GetLogFilePath() string      { return c.FilePath }
func (c *LogConfig) GetLogFileMaxSize() int      { return c.FileMaxSize }
func (c *LogConfig) GetLogFileMaxBackups() int   { return c.FileMaxBackups }
func (c *LogConfig) GetLogFileMaxAge() int       { return c.FileMaxAge }
func (c *LogConfig) GetLogFileCompress() bool    { return c.FileCompress }
func (c *LogConfig) GetLogConsoleColors() bool   { return c.ConsoleColors }
func (c *LogConfig) GetLogAppName() string       { return c.AppName }
func (c *LogConfig) GetLogEnvironment() string   { return c.Environment }
func (c *LogConfig) GetLogVersion() string       { return c.Version }
func (c *LogConfig) GetLogServiceName() string   { return c.ServiceName }
func (c *LogConfig) GetLogEnableCaller() bool    { return c.EnableCaller }

// SetupWithConfig builds a Logger and stamps it with the app-level context
// fields up front (useful when the caller has no ConfigProvider of its own).
func SetupWithConfig(config *LogConfig) Logger {
	logger := Setup(config)
	return logger.WithFields(map[string]interface{}{
		"app":     config.AppName,
		"env":     config.Environment,
		"version": config.Version,
		"service": config.ServiceName,
	})
}

// DevelopmentConfig returns a verbose, colorized console configuration.
func DevelopmentConfig() *LogConfig {
	config := DefaultConfig()
	config.Level = "debug"
	config.Environment = "development"
	config.ConsoleColors = true
	config.EnableCaller = true
	return config
}

// ProductionConfig returns a quieter, caller-free configuration.
func ProductionConfig() *LogConfig {
	config := DefaultConfig()
	config.Level = "info"
	config.Environment = "production"
	config.ConsoleColors = false
	config.EnableCaller = false
	return config
}

// TestingConfig returns a stdout-only, warn-level configuration.
func TestingConfig() *LogConfig {
	config := DefaultConfig()
	config.Level = "warn"
	config.Environment = "testing"
	config.Output = "stdout"
	config.ConsoleColors = false
	config.EnableCaller = false
	return config
}

func SetupForDev() Logger  { return SetupWithConfig(DevelopmentConfig()) }
func SetupForProd() Logger { return SetupWithConfig(ProductionConfig()) }
func SetupForTest() Logger { return SetupWithConfig(TestingConfig()) }
func SetupFromEnv() Logger { return SetupWithConfig(LoadFromEnv()) }
