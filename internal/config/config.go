// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Bot       BotConfig       `mapstructure:"bot"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Lottery   LotteryConfig   `mapstructure:"lottery"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the cache connection. An empty Addr selects the in-process
// cache; CacheTTL bounds entries in either store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// HTTPConfig holds the web server configuration.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the signing secret for session tokens and post keys.
type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	PostKeyTTL time.Duration `mapstructure:"post_key_ttl"`
}

// BotConfig holds Telegram bot configuration.
// An empty token disables the Telegram front end.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// LotteryConfig holds the lottery settings.
type LotteryConfig struct {
	TicketPrice    int64         `mapstructure:"ticket_price"`
	DrawFrequency  time.Duration `mapstructure:"draw_frequency"`
	Prize          int64         `mapstructure:"prize"`
	Rest           time.Duration `mapstructure:"rest"`
	UsePot         bool          `mapstructure:"use_pot"`
	LastWinners    int           `mapstructure:"last_winners"`
	DrawSchedule   string        `mapstructure:"draw_schedule"`
	DateFormat     string        `mapstructure:"date_format"`
	InitialBalance int64         `mapstructure:"initial_balance"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. LOTTERY_TICKET_PRICE, DATABASE_HOST, REDIS_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide everything
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "lottery")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "lottery")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "10m")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "15s")

	// Unset keys are invisible to AutomaticEnv, so secrets need an empty default
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.post_key_ttl", "1h")

	v.SetDefault("bot.token", "")

	// Lottery defaults: one draw a week, two hours of results in between
	v.SetDefault("lottery.ticket_price", 100)
	v.SetDefault("lottery.draw_frequency", "168h")
	v.SetDefault("lottery.prize", 1000)
	v.SetDefault("lottery.rest", "2h")
	v.SetDefault("lottery.use_pot", true)
	v.SetDefault("lottery.last_winners", 10)
	v.SetDefault("lottery.draw_schedule", "@every 1h")
	v.SetDefault("lottery.date_format", "2006-01-02")
	v.SetDefault("lottery.initial_balance", 1000)
}

// Validate reports settings the lottery cannot run with.
func (c *Config) Validate() error {
	l := c.Lottery
	var errs []error
	if l.TicketPrice <= 0 {
		errs = append(errs, errors.New("lottery.ticket_price must be positive"))
	}
	if l.DrawFrequency < time.Second {
		errs = append(errs, errors.New("lottery.draw_frequency must be at least 1s"))
	}
	if l.Prize < 0 {
		errs = append(errs, errors.New("lottery.prize must not be negative"))
	}
	if l.Rest < 0 {
		errs = append(errs, errors.New("lottery.rest must not be negative"))
	}
	if l.LastWinners < 1 {
		errs = append(errs, errors.New("lottery.last_winners must be at least 1"))
	}
	if _, err := cron.ParseStandard(l.DrawSchedule); err != nil {
		errs = append(errs, fmt.Errorf("lottery.draw_schedule: %w", err))
	}
	if l.InitialBalance < 0 {
		errs = append(errs, errors.New("lottery.initial_balance must not be negative"))
	}
	if c.HTTP.Addr != "" && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required when http.addr is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
