package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DBManager struct {
	pool         *pgxpool.Pool
	mu           sync.RWMutex
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	logger       *zap.SugaredLogger
	shutdownOnce sync.Once
}

// NewDBManager opens a small pool for the command journal. The device only
// ever writes one row per command so two connections are plenty.
func NewDBManager(ctx context.Context, dbURL string, logger *zap.SugaredLogger) (*DBManager, error) {
	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, err
	}

	// Disable prepared statements to avoid the "prepared statement already exists" error
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return &DBManager{
		pool:         pool,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}, nil
}

func (d *DBManager) Pool() *pgxpool.Pool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pool
}

// StartAutoReconnect periodically pings the DB; pgxpool re-dials on demand.
func (d *DBManager) StartAutoReconnect(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.shutdownChan:
				d.logger.Info("Auto-reconnect stopped: shutdown signal received")
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Ping(ctx); err != nil {
					d.logger.Errorw("DB ping failed", "error", err)
				} else {
					d.logger.Debug("DB ping successful")
				}
			}
		}
	}()
}

// Shutdown gracefully stops the DBManager
func (d *DBManager) Shutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
		d.wg.Wait()

		d.mu.Lock()
		if d.pool != nil {
			d.pool.Close()
			d.logger.Info("Database connection pool closed")
		}
		d.mu.Unlock()
	})
}

// IsShuttingDown returns true if shutdown has been initiated
func (d *DBManager) IsShuttingDown() bool {
	select {
	case <-d.shutdownChan:
		return true
	default:
		return false
	}
}

func (d *DBManager) Ping(ctx context.Context) error {
	return d.Pool().Ping(ctx)
}
