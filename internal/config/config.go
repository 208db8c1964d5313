package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MaxUploadBytes  int64
}

type ScraperConfig struct {
	EbayConcurrency    int
	AmazonConcurrency  int
	AmazonZipCode      string
	Settle             time.Duration
	NavigationTimeout  time.Duration
	NavigationAttempts int
	StepTimeout        time.Duration
	BatchTimeout       time.Duration
	ItemDelayMin       time.Duration
	ItemDelayMax       time.Duration
}

type BrowserConfig struct {
	Headless       bool
	ExecutablePath string
	SettingsFile   string
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgent      string
	ProxyServer    string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			MaxUploadBytes:  int64(getIntOrDefault("SERVER_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Scraper: ScraperConfig{
			EbayConcurrency:    getIntOrDefault("SCRAPER_EBAY_CONCURRENCY", 1),
			AmazonConcurrency:  getIntOrDefault("SCRAPER_AMAZON_CONCURRENCY", 3),
			AmazonZipCode:      getEnvOrDefault("SCRAPER_AMAZON_ZIP", "10001"),
			Settle:             getDurationOrDefault("SCRAPER_SETTLE", 3*time.Second),
			NavigationTimeout:  getDurationOrDefault("SCRAPER_NAV_TIMEOUT", 60*time.Second),
			NavigationAttempts: getIntOrDefault("SCRAPER_NAV_ATTEMPTS", 1),
			StepTimeout:        getDurationOrDefault("SCRAPER_STEP_TIMEOUT", 5*time.Second),
			BatchTimeout:       getDurationOrDefault("SCRAPER_BATCH_TIMEOUT", 30*time.Minute),
			ItemDelayMin:       getDurationOrDefault("SCRAPER_ITEM_DELAY_MIN", 0),
			ItemDelayMax:       getDurationOrDefault("SCRAPER_ITEM_DELAY_MAX", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ExecutablePath: getEnvOrDefault("BROWSER_EXECUTABLE_PATH", ""),
			SettingsFile:   getEnvOrDefault("BROWSER_SETTINGS_FILE", ""),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "marketplace_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.EbayConcurrency < 1 {
		return fmt.Errorf("SCRAPER_EBAY_CONCURRENCY must be at least 1")
	}

	if c.Scraper.AmazonConcurrency < 1 {
		return fmt.Errorf("SCRAPER_AMAZON_CONCURRENCY must be at least 1")
	}

	if c.Scraper.ItemDelayMin > c.Scraper.ItemDelayMax {
		return fmt.Errorf("SCRAPER_ITEM_DELAY_MIN cannot be greater than SCRAPER_ITEM_DELAY_MAX")
	}

	if c.Scraper.NavigationTimeout <= 0 {
		return fmt.Errorf("SCRAPER_NAV_TIMEOUT must be positive")
	}

	if c.Scraper.NavigationAttempts < 1 {
		return fmt.Errorf("SCRAPER_NAV_ATTEMPTS must be at least 1")
	}

	if c.Database.Enabled && c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required when DB_ENABLED is set")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
