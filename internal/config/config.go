package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the service reads from the environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	WhatsApp     WhatsAppConfig
	Messaging    MessagingConfig
	Verification VerificationConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Log          LogConfig
}

type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Type     string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Path     string
	LogLevel string
}

type WhatsAppConfig struct {
	StoreDriver          string
	StoreDSN             string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ConnectGrace         time.Duration
	DefaultCountryCode   string
	AutoConnect          bool
}

type MessagingConfig struct {
	AppName    string
	Timezone   string
	DateFormat string
	TimeFormat string
}

type VerificationConfig struct {
	TemplateCode string
	BcryptCost   int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	SentTTL  time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// envFiles are loaded in order; variables that are already set are never overridden.
var envFiles = []string{".env", "env.local", "env.production"}

// Load reads the env files that exist and builds a validated Config from the environment.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads the env files that exist into the process environment.
func LoadEnvFiles() error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv builds a Config from the current process environment without touching env files.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         getEnv("SERVER_ADDRESS", ":9090"),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Type:     getEnv("DB_TYPE", "sqlite"),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", ""),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "erp_whatsapp"),
			Path:     getEnv("DB_PATH", "erp_whatsapp.db"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		WhatsApp: WhatsAppConfig{
			StoreDriver:          getEnv("WA_STORE_DRIVER", "sqlite"),
			StoreDSN:             getEnv("WA_STORE_DSN", ""),
			MaxReconnectAttempts: getInt("WA_MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectDelay:       getDuration("WA_RECONNECT_DELAY", 5*time.Second),
			ConnectGrace:         getDuration("WA_CONNECT_GRACE", 2*time.Second),
			DefaultCountryCode:   getEnv("WA_DEFAULT_COUNTRY_CODE", "58"),
			AutoConnect:          getBool("WA_AUTO_CONNECT", false),
		},
		Messaging: MessagingConfig{
			AppName:    getEnv("APP_NAME", "ERP"),
			Timezone:   getEnv("APP_TIMEZONE", "America/Caracas"),
			DateFormat: getEnv("APP_DATE_FORMAT", "02/01/2006"),
			TimeFormat: getEnv("APP_TIME_FORMAT", "15:04"),
		},
		Verification: VerificationConfig{
			TemplateCode: getEnv("OTP_TEMPLATE_CODE", "WHATSAPP_VERIFICATION_CODE"),
			BcryptCost:   getInt("OTP_BCRYPT_COST", 10),
		},
		Redis: RedisConfig{
			Enabled:  getBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			SentTTL:  getDuration("REDIS_SENT_TTL", 24*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 28),
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.WhatsApp.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("WA_MAX_RECONNECT_ATTEMPTS must not be negative"))
	}
	if c.WhatsApp.ReconnectDelay < 0 {
		errs = append(errs, errors.New("WA_RECONNECT_DELAY must not be negative"))
	}
	switch strings.ToLower(c.WhatsApp.StoreDriver) {
	case "sqlite":
	case "postgres", "pgx":
		if c.WhatsApp.StoreDSN == "" {
			errs = append(errs, errors.New("WA_STORE_DSN is required when WA_STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported WA_STORE_DRIVER %q", c.WhatsApp.StoreDriver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
