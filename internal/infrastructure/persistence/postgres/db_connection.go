// Package postgres provides the SQL-backed KeyStore. It runs on PostgreSQL in production
// and on SQLite for single-node deployments and tests.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/pkg/logger"
)

// OpenDatabase opens a gorm connection for the configured driver, applies pool settings,
// verifies connectivity and migrates the key table.
//
// Parameters:
//   - ctx: Context for the connectivity check
//   - cfg: Database configuration
//   - log: Logger instance for connection lifecycle events
//
// Returns:
//   - *gorm.DB: Ready database handle
//   - error: Connection establishment error if any
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	log.Info(ctx, "Opening key database", logger.Fields{"driver": cfg.Driver, "database": cfg.Database})

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Error(ctx, "Failed to open database", err, logger.Fields{"driver": cfg.Driver})
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxConnLifetime) * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the key table and its unique index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&keyModel{}); err != nil {
		return fmt.Errorf("failed to migrate key table: %w", err)
	}
	return nil
}
