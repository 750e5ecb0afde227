package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mmdatafocus/attendance_backend/utils"
)

const (
	defaultPort          = "9000"
	defaultDevicePort    = 4370
	defaultDeviceTimeout = 5 * time.Second
	defaultConcurrency   = 4
)

// Terminal identifies one attendance device on the network.
type Terminal struct {
	Host string `validate:"required,hostname_rfc1123|ip"`
	Port int    `validate:"min=1,max=65535"`
}

// ID is the key used for the terminal in poll responses and ledger rows.
func (t Terminal) ID() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

type Database struct {
	User            string `validate:"required"`
	Password        string
	Host            string `validate:"required"`
	Port            string
	Name            string `validate:"required"`
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type Config struct {
	Port         string `validate:"required,numeric"`
	Environment  string
	AllowOrigins []string

	Terminals       []Terminal    `validate:"required,min=1,unique,dive"`
	DeviceTimeout   time.Duration `validate:"gt=0"`
	PollConcurrency int           `validate:"min=1"`
	PollInterval    time.Duration `validate:"gte=0"`

	// Location is the wall clock of the ledger; device timestamps are naive local time.
	Location *time.Location `validate:"-"`

	Database       Database
	SkipMigrations bool
	RedisAddress   string

	// Rate limiting of device-touching routes; needs Redis.
	RateLimitEnabled bool
	RateLimitMax     int64         `validate:"gte=0"`
	RateLimitWindow  time.Duration `validate:"gte=0"`

	LogLevel string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	LogFile  string
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	devicePort := utils.IntFromEnv("BIOMETRIC_PORT", defaultDevicePort)
	terminals, err := terminalsFromEnv(devicePort)
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if name := utils.StringFromEnv("LEDGER_TIMEZONE", ""); name != "" {
		loc, err = time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("LEDGER_TIMEZONE: %w", err)
		}
	}

	cfg := &Config{
		Port:            utils.StringFromEnv("PORT", defaultPort),
		Environment:     utils.StringFromEnv("GO_ENV", "development"),
		AllowOrigins:    utils.SplitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Terminals:       terminals,
		DeviceTimeout:   time.Duration(utils.IntFromEnv("DEVICE_TIMEOUT_SECONDS", int(defaultDeviceTimeout/time.Second))) * time.Second,
		PollConcurrency: utils.IntFromEnv("POLL_CONCURRENCY", defaultConcurrency),
		PollInterval:    time.Duration(utils.IntFromEnv("POLL_INTERVAL_SECONDS", 0)) * time.Second,
		Location:        loc,
		Database: Database{
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			Host:            utils.StringFromEnv("DB_HOST", "localhost"),
			Port:            utils.StringFromEnv("DB_PORT", "3306"),
			Name:            utils.StringFromEnv("DB_NAME", "attendance_system"),
			MaxOpenConns:    utils.IntFromEnv("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    utils.IntFromEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: time.Duration(utils.IntFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(utils.IntFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
		},
		SkipMigrations:   utils.BoolFromEnv("SKIP_MIGRATIONS", false),
		RedisAddress:     utils.StringFromEnv("REDIS_ADDRESS", ""),
		RateLimitEnabled: utils.BoolFromEnv("RATE_LIMIT_ENABLED", false),
		RateLimitMax:     int64(utils.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 30)),
		RateLimitWindow:  time.Duration(utils.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		LogLevel:         strings.ToLower(utils.StringFromEnv("LOG_LEVEL", "info")),
		LogFile:          utils.StringFromEnv("LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// terminalsFromEnv prefers BIOMETRIC_IPS (comma separated, entries may carry
// their own port) and falls back to BIOMETRIC_IP_1, BIOMETRIC_IP_2, ...
func terminalsFromEnv(defaultPort int) ([]Terminal, error) {
	entries := utils.SplitAndTrim(os.Getenv("BIOMETRIC_IPS"))
	if len(entries) == 0 {
		for i := 1; ; i++ {
			v := strings.TrimSpace(os.Getenv("BIOMETRIC_IP_" + strconv.Itoa(i)))
			if v == "" {
				break
			}
			entries = append(entries, v)
		}
	}
	if len(entries) == 0 {
		return nil, errors.New("no terminals configured: set BIOMETRIC_IPS or BIOMETRIC_IP_1")
	}

	terminals := make([]Terminal, 0, len(entries))
	for _, entry := range entries {
		t, err := ParseTerminal(entry, defaultPort)
		if err != nil {
			return nil, err
		}
		terminals = append(terminals, t)
	}
	return terminals, nil
}

// ParseTerminal accepts "host" or "host:port".
func ParseTerminal(entry string, defaultPort int) (Terminal, error) {
	entry = strings.TrimSpace(entry)
	host, portStr, err := net.SplitHostPort(entry)
	if err != nil {
		// No port in the entry.
		return Terminal{Host: entry, Port: defaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Terminal{}, fmt.Errorf("terminal %q: invalid port: %w", entry, err)
	}
	return Terminal{Host: host, Port: port}, nil
}
