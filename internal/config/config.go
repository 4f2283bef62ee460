package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Env        string
	ServerPort string

	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DatabaseURL string

	MessageStore   string // postgres | sqlite | redis
	SQLitePath     string
	RedisURL       string
	MigrationsPath string
	AutoMigrate    bool

	JWTSecret string

	TypingTimeout    time.Duration
	MaxMessageLength int
	SendBufferSize   int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("ENV", "development")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "orderchat")
	v.SetDefault("DB_PASSWORD", "orderchat_dev_password")
	v.SetDefault("DB_NAME", "orderchat")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MESSAGE_STORE", "postgres")
	v.SetDefault("SQLITE_PATH", "./data/orderchat.db")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("TYPING_TIMEOUT", "3s")
	v.SetDefault("MAX_MESSAGE_LENGTH", 500)
	v.SetDefault("SEND_BUFFER_SIZE", 256)

	cfg := &Config{
		Env:              v.GetString("ENV"),
		ServerPort:       v.GetString("SERVER_PORT"),
		DBHost:           v.GetString("DB_HOST"),
		DBPort:           v.GetString("DB_PORT"),
		DBUser:           v.GetString("DB_USER"),
		DBPassword:       v.GetString("DB_PASSWORD"),
		DBName:           v.GetString("DB_NAME"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		MessageStore:     strings.ToLower(v.GetString("MESSAGE_STORE")),
		SQLitePath:       v.GetString("SQLITE_PATH"),
		RedisURL:         v.GetString("REDIS_URL"),
		MigrationsPath:   v.GetString("MIGRATIONS_PATH"),
		AutoMigrate:      v.GetBool("AUTO_MIGRATE"),
		JWTSecret:        v.GetString("JWT_SECRET"),
		TypingTimeout:    v.GetDuration("TYPING_TIMEOUT"),
		MaxMessageLength: v.GetInt("MAX_MESSAGE_LENGTH"),
		SendBufferSize:   v.GetInt("SEND_BUFFER_SIZE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// PostgresDSN returns DATABASE_URL when set, otherwise a DSN built from the DB_* parts.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) validate() error {
	switch c.MessageStore {
	case "postgres", "sqlite", "redis":
	default:
		return fmt.Errorf("MESSAGE_STORE must be postgres, sqlite or redis, got %q", c.MessageStore)
	}
	if c.TypingTimeout <= 0 {
		return errors.New("TYPING_TIMEOUT must be positive")
	}
	if c.MaxMessageLength <= 0 {
		return errors.New("MAX_MESSAGE_LENGTH must be positive")
	}
	if c.SendBufferSize <= 0 {
		return errors.New("SEND_BUFFER_SIZE must be positive")
	}
	if !c.IsDevelopment() && c.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set outside development")
	}
	return nil
}
