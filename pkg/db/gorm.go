package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"automation-service/pkg/config"
)

// NewGormDB opens the database selected by cfg.Type ("sqlite", "mysql" or "postgres").
// An empty DSN falls back to a local development default for the driver.
func NewGormDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	log := zap.L().Named("db")
	dsn := cfg.DSN

	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		if dsn == "" {
			dsn = "root:@tcp(127.0.0.1:3306)/automation_service?charset=utf8mb4&parseTime=True&loc=UTC"
			log.Info("Using default MySQL DSN", zap.String("dsn", dsn))
		}
		dialector = mysql.Open(dsn)
	case "postgres":
		if dsn == "" {
			dsn = "host=localhost user=postgres dbname=automation_service port=5432 sslmode=disable TimeZone=UTC"
			log.Info("Using default Postgres DSN", zap.String("dsn", dsn))
		}
		dialector = postgres.Open(dsn)
	case "", "sqlite":
		if dsn == "" {
			dsn = "automation.db"
			log.Info("Using default SQLite DSN", zap.String("dsn", dsn))
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewZapGormLogger(log, logger.Warn, false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Database connection established", zap.String("type", dialector.Name()))
	return db, nil
}

// AutoMigrate performs auto-migration for the given GORM models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	zap.L().Info("Database migration completed", zap.Int("models", len(models)))
	return nil
}
