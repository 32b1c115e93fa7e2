package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

const applicationName = "gel2mdt"

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLife     time.Duration
	MaxConnIdle     time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// ConfigFromDomain maps the database section of the service configuration
func ConfigFromDomain(c domain.DatabaseConfig) Config {
	return Config{
		Host:            c.Host,
		Port:            c.Port,
		Database:        c.Database,
		Username:        c.Username,
		Password:        c.Password,
		SSLMode:         c.SSLMode,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLife:     c.ConnMaxLifetime,
		MaxConnIdle:     c.ConnMaxIdle,
		ConnectAttempts: c.ConnectAttempts,
		ConnectBackoff:  c.ConnectBackoff,
	}
}

// DB owns the pgx pool shared by every repository
type DB struct {
	Pool *pgxpool.Pool
	log  *logrus.Logger
}

// PoolHealth is a snapshot of pool usage
type PoolHealth struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	Saturated     bool  `json:"saturated"`
}

// NewConnection opens the pool. The first ping is retried so the scheduler and
// ingestion commands can start alongside a database that is still booting.
func NewConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s application_name=%s",
		config.Host, config.Port, config.Database, config.Username, config.Password, config.SSLMode, applicationName,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLife
	}
	if config.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pingWithRetry(ctx, pool, config, logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"host":      config.Host,
		"port":      config.Port,
		"database":  config.Database,
		"max_conns": poolConfig.MaxConns,
	}).Info("Database connection pool established")

	return &DB{Pool: pool, log: logger}, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, config Config, logger *logrus.Logger) error {
	attempts := config.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := config.ConnectBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"attempts": attempts,
		}).Warn("Database not reachable, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("pinging database: %w", ctx.Err())
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("pinging database after %d attempts: %w", attempts, err)
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("Database connection pool closed")
	}
}

// Health pings the database and warns when every connection is checked out
func (db *DB) Health(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return err
	}
	if h := db.PoolHealth(); h.Saturated {
		db.log.WithFields(logrus.Fields{
			"acquired": h.AcquiredConns,
			"max":      h.MaxConns,
		}).Warn("Database pool saturated")
	}
	return nil
}

// PoolHealth reports current pool usage
func (db *DB) PoolHealth() PoolHealth {
	stat := db.Pool.Stat()
	return PoolHealth{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		Saturated:     stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns(),
	}
}
