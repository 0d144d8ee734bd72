package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/sdko-org/dashboard-proxy/internal/config"
	"github.com/sdko-org/dashboard-proxy/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	maxConnectAttempts = 5
	maxOpenConns       = 10
	connMaxIdleTime    = 5 * time.Minute
)

// PostgresConfig holds the connection settings for the audit and cache
// metadata database.
type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string
}

func NewPostgresConfig(cfg *config.Config) PostgresConfig {
	return PostgresConfig{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		DBName:   cfg.PostgresDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}
}

// DSN is the URL form understood by pgx.
func (c PostgresConfig) DSN() string {
	return c.url(url.UserPassword(c.User, c.Password)).String()
}

// Redacted is the DSN with the password masked, safe for logs.
func (c PostgresConfig) Redacted() string {
	return c.url(url.UserPassword(c.User, c.Password)).Redacted()
}

func (c PostgresConfig) url(user *url.Userinfo) *url.URL {
	u := &url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u
}

// migrated lists the tables owned by this service.
var migrated = []any{
	&models.AccessLog{},
	&models.RenderCacheEntry{},
	&models.ResolutionLog{},
}

func tableNames(list []any) []string {
	names := make([]string, 0, len(list))
	for _, m := range list {
		if t, ok := m.(interface{ TableName() string }); ok {
			names = append(names, t.TableName())
		}
	}
	return names
}

// NewPostgresDB connects with exponential backoff, migrates the service tables
// and caps the pool. Cancelling ctx aborts the retry loop.
func NewPostgresDB(ctx context.Context, logger *logrus.Logger, cfg PostgresConfig) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"dsn":       cfg.Redacted(),
	})

	var db *gorm.DB
	var err error
	retryDelay := 2 * time.Second

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormlogger.Discard})
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Database connection failed")

		if attempt == maxConnectAttempts {
			break
		}
		select {
		case <-time.After(retryDelay):
			retryDelay *= 2
		case <-ctx.Done():
			return nil, fmt.Errorf("database connection aborted: %w", ctx.Err())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("database connection failed after %d attempts: %w", maxConnectAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.WithContext(ctx).AutoMigrate(migrated...); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.WithField("tables", tableNames(migrated)).Info("Database ready")
	return db, nil
}
