// Package config loads the bot configuration from YAML with environment
// overrides, and holds the static review tunables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	Redis    RedisConfig            `yaml:"redis"`
	Discord  DiscordConfig          `yaml:"discord"`
	Telegram TelegramConfig         `yaml:"telegram"`
	JWT      JWTConfig              `yaml:"jwt"`
	Review   ReviewConfig           `yaml:"review"`
	Guilds   map[string]GuildConfig `yaml:"guilds"`
	Log      LogConfig              `yaml:"log"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig contains the claim cache and event bus connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DiscordConfig contains the bot credentials for the guild platform
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// TelegramConfig contains the staff console settings.
// Staff maps a Telegram user id to the reviewer id recorded in the audit trail.
type TelegramConfig struct {
	Token       string            `yaml:"token"`
	StaffChatID int64             `yaml:"staff_chat_id"`
	Staff       map[string]string `yaml:"staff"`
}

// JWTConfig contains API token settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ReviewConfig contains review engine settings
type ReviewConfig struct {
	PlatformTimeoutSeconds int    `yaml:"platform_timeout_seconds"`
	ClaimTTLMinutes        int    `yaml:"claim_ttl_minutes"` // 0 disables expiry
	ClaimSweepSchedule     string `yaml:"claim_sweep_schedule"`
	StatsWindowDays        int    `yaml:"stats_window_days"`
}

// GuildConfig contains per-guild review settings
type GuildConfig struct {
	Name           string `yaml:"name"`
	ApprovedRoleID string `yaml:"approved_role_id"`
	Language       string `yaml:"language"`
	// KickOnReject removes rejected applicants who are already guild members.
	KickOnReject bool `yaml:"kick_on_reject"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}

	// Platforms
	if val := os.Getenv("DISCORD_TOKEN"); val != "" {
		c.Discord.Token = val
	}
	if val := os.Getenv("TELEGRAM_BOT_TOKEN"); val != "" {
		c.Telegram.Token = val
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		c.Server.Addr = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.Review.PlatformTimeoutSeconds < 0 || c.Review.ClaimTTLMinutes < 0 {
		return fmt.Errorf("review timeouts must not be negative")
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Review.PlatformTimeoutSeconds == 0 {
		c.Review.PlatformTimeoutSeconds = int(DefaultPlatformTimeout / time.Second)
	}
	if c.Review.ClaimSweepSchedule == "" {
		c.Review.ClaimSweepSchedule = DefaultClaimSweepSpec
	}
	if c.Review.StatsWindowDays == 0 {
		c.Review.StatsWindowDays = int(DefaultStatsWindow / (24 * time.Hour))
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	return nil
}

// GetDatabaseDSN returns a PostgreSQL DSN in the key=value form GORM expects
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Database.Host,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.Port,
		c.Database.SSLMode,
	)
}

// PlatformTimeout is the fixed budget for each external platform call.
func (c *Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Review.PlatformTimeoutSeconds) * time.Second
}

// ClaimTTL is the age after which open claims are released; zero disables it.
func (c *Config) ClaimTTL() time.Duration {
	return time.Duration(c.Review.ClaimTTLMinutes) * time.Minute
}

// StatsWindow is how far back reviewer statistics look by default.
func (c *Config) StatsWindow() time.Duration {
	return time.Duration(c.Review.StatsWindowDays) * 24 * time.Hour
}

// Guild returns the settings of a guild, with the default language filled in.
func (c *Config) Guild(guildID string) GuildConfig {
	g := c.Guilds[guildID]
	if g.Language == "" {
		g.Language = DefaultLanguage
	}
	return g
}
