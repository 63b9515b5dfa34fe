package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"erp_wa/internal/config"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database selected by cfg.Type. It does not migrate.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(cfg.LogLevel)),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(cfg.Type) {
	case "mysql":
		db, err = connectMySQL(cfg, gormCfg)
	case "postgres", "postgresql":
		db, err = connectPostgreSQL(cfg, gormCfg)
	case "sqlite", "":
		db, err = connectSQLite(cfg, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return db, nil
}

// connectMySQL connects to MySQL database
func connectMySQL(cfg config.DatabaseConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		orDefault(cfg.User, "root"), cfg.Password, orDefault(cfg.Host, "127.0.0.1"), orDefault(cfg.Port, "3306"), cfg.Name)

	db, err := gorm.Open(mysql.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return db, configurePool(db)
}

// connectPostgreSQL connects to PostgreSQL database
func connectPostgreSQL(cfg config.DatabaseConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		orDefault(cfg.Host, "localhost"), orDefault(cfg.Port, "5432"), orDefault(cfg.User, "postgres"), cfg.Password, cfg.Name)

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, configurePool(db)
}

// connectSQLite connects to SQLite database (fallback)
func connectSQLite(cfg config.DatabaseConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(orDefault(cfg.Path, "erp_whatsapp.db")), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	return db, nil
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

// Ping checks that the database connection is alive
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
