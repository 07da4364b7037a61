package db

import (
	"fmt"
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the gorm database instance
type DB struct {
	*gorm.DB
}

// Config holds database configuration
type Config struct {
	DatabaseURL string
	Debug       bool
}

// NewConfig creates a database config from environment variables
func NewConfig() *Config {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Debug:       os.Getenv("DB_DEBUG") == "true",
	}
}

// Connect establishes a connection to the PostgreSQL database
// This is a simplified version that takes just a database URL
func Connect(databaseURL string) (*DB, error) {
	cfg := &Config{
		DatabaseURL: databaseURL,
		Debug:       os.Getenv("DB_DEBUG") == "true",
	}
	return ConnectWithConfig(cfg)
}

// ConnectWithConfig establishes a connection to the PostgreSQL database.
// TranslateError is required: the webhook dedup gate relies on unique-constraint
// violations surfacing as gorm.ErrDuplicatedKey.
func ConnectWithConfig(cfg *Config) (*DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
	}
	if cfg.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("Database connection established")
	return &DB{DB: db}, nil
}

// Migrate runs auto-migration for the given models
func (db *DB) Migrate(models ...interface{}) error {
	if err := db.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	slog.Info("Models migrated", "count", len(models))
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
