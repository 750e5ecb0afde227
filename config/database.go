package config

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DSN renders the MySQL DSN. Timestamps are read and written in loc so the
// ledger keeps naive local time.
func (d Database) DSN(loc *time.Location) string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", d.Host, d.Port)

	// Cloud SQL Auth Proxy exposes a unix socket under /cloudsql/<CONNECTION_NAME>.
	if strings.HasPrefix(d.Host, "/cloudsql/") || strings.HasPrefix(d.Host, "/") {
		network = "unix"
		address = d.Host
	}

	locName := "Local"
	if loc != nil && loc != time.Local {
		locName = loc.String()
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=%s&charset=utf8mb4",
		d.User,
		d.Password,
		network,
		address,
		d.Name,
		url.QueryEscape(locName),
	)
}

// ConnectDatabaseWithRetry keeps retrying with capped exponential backoff
// until the database answers or ctx is done.
func ConnectDatabaseWithRetry(ctx context.Context, cfg *Config, logg logrus.FieldLogger) (*gorm.DB, error) {
	dsn := cfg.Database.DSN(cfg.Location)

	var attempt int
	for {
		attempt++
		db, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			tunePool(db, cfg.Database)
			if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
				logg.WithFields(logrus.Fields{"field": "database"}).Warn("db connected but failed to install otelgorm plugin: " + pluginErr.Error())
			}
			logg.WithFields(logrus.Fields{"field": "database", "attempt": attempt}).Info("connected to database")
			return db, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logg.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
			"retry":   sleep.String(),
		}).Warn("failed to connect database: " + err.Error())

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func tunePool(db *gorm.DB, cfg Database) {
	sqlDB, err := db.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// GormConfig is shared by the MySQL connection and the sqlite test databases.
func GormConfig() *gorm.Config {
	return initConfig()
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
		// Unique violations surface as gorm.ErrDuplicatedKey.
		TranslateError: true,
	}
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
