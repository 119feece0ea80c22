package database

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolConfig defines database connection pool configuration
type PoolConfig struct {
	Driver string
	// DSN wins over the individual connection settings when set.
	DSN string

	// Connection settings
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Health check settings, zero disables the loop.
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
}

// Pool is an open database handle plus its background health check.
type Pool struct {
	*sqlx.DB

	config *PoolConfig
	logger *log.Logger
	stop   chan struct{}
	once   sync.Once
}

var (
	txTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketforge",
		Subsystem: "db",
		Name:      "transactions_total",
		Help:      "Database transactions by outcome.",
	}, []string{"outcome"})
	healthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ticketforge",
		Subsystem: "db",
		Name:      "health_check_failures_total",
		Help:      "Failed background pings.",
	})
)

// DataSourceName builds the driver specific DSN.
func (c *PoolConfig) DataSourceName() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch normalizeDriver(c.Driver) {
	case DriverPostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, sslMode), nil
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			c.Username, c.Password, c.Host, c.Port, c.Database), nil
	case DriverSQLite:
		if c.Database == "" {
			return "", fmt.Errorf("sqlite: database path is required")
		}
		return sqliteDSN(c.Database), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Open connects, configures the pool and pings the database.
func Open(ctx context.Context, config *PoolConfig, logger *log.Logger) (*Pool, error) {
	if config == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[DATABASE] ", log.LstdFlags)
	}
	driver := normalizeDriver(config.Driver)
	dsn, err := config.DataSourceName()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// single writer; WAL still allows the pool to read while we write
		db.SetMaxOpenConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.MaxIdleConns)
		}
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	SetDriver(driver)

	pool := &Pool{
		DB:     db,
		config: config,
		logger: logger,
		stop:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go pool.healthCheckLoop()
	}
	return pool, nil
}

// Close stops the health check and closes the database.
func (p *Pool) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.DB.Close()
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.PingContext(ctx); err != nil {
				healthFailures.Inc()
				p.logger.Printf("database health check failed: %v", err)
			}
			cancel()
		case <-p.stop:
			return
		}
	}
}

// WithTx runs fn inside a transaction. fn's error or a panic rolls back.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			txTotal.WithLabelValues("rollback").Inc()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		txTotal.WithLabelValues("rollback").Inc()
		return err
	}
	if err := tx.Commit(); err != nil {
		txTotal.WithLabelValues("rollback").Inc()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	txTotal.WithLabelValues("commit").Inc()
	return nil
}
