package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"taskify/backend/internal/models"
)

type MigrationConfig struct {
	Driver         string
	MigrationsPath string
	DBName         string
	MaxRetries     int
	RetryDelay     time.Duration
}

func DefaultMigrationConfig() *MigrationConfig {
	return &MigrationConfig{
		Driver:         "postgres",
		MigrationsPath: "file://migrations",
		DBName:         "taskify",
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
	}
}

// RunMigrations brings the schema up to date. Postgres runs the versioned SQL
// files; sqlite, used for local runs and tests, is migrated from the models.
func RunMigrations(db *gorm.DB, config *MigrationConfig) error {
	if config == nil {
		config = DefaultMigrationConfig()
	}
	log := logrus.WithField("component", "migrations")

	if config.Driver == "sqlite" {
		if err := AutoMigrate(db); err != nil {
			return err
		}
		log.Info("✅ sqlite schema migrated from models")
		return nil
	}

	log.Infof("🔄 Starting database migrations from: %s", config.MigrationsPath)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := waitForDatabase(sqlDB, config.MaxRetries, config.RetryDelay); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	m, err := newMigrator(sqlDB, config)
	if err != nil {
		return err
	}

	currentVersion, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("📋 No migrations applied yet")
	case err != nil:
		log.WithError(err).Warn("⚠️  Could not get current migration version")
	default:
		log.Infof("📋 Current migration version: %d (dirty: %v)", currentVersion, dirty)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("✅ Database schema is up to date - no migrations needed")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	finalVersion, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get final migration version: %w", err)
	}
	log.Infof("✅ Database migrations completed, version %d (dirty: %v)", finalVersion, dirty)
	return nil
}

// AutoMigrate creates the tables from the gorm models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Session{}, &models.Task{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

func newMigrator(sqlDB *sql.DB, config *MigrationConfig) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		DatabaseName:          config.DBName,
		MigrationsTable:       "schema_migrations",
		MultiStatementEnabled: true,
		MultiStatementMaxSize: 10 * 1 << 20, // 10 MB
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(config.MigrationsPath, config.DBName, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func waitForDatabase(db *sql.DB, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		if err := db.Ping(); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			logrus.Infof("⏳ Database not ready, retrying in %v... (attempt %d/%d)", retryDelay, i+1, maxRetries)
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("database not ready after %d attempts", maxRetries)
}

func RollbackMigration(db *gorm.DB, config *MigrationConfig) error {
	if config == nil {
		config = DefaultMigrationConfig()
	}
	if config.Driver == "sqlite" {
		return errors.New("rollback is only supported for postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	m, err := newMigrator(sqlDB, config)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	logrus.Info("✅ Migration rolled back successfully")
	return nil
}
