package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
	"naviguard/backend/internal/repository"
	"naviguard/backend/pkg/utils"
)

// Open connects to the configured database and returns the repository over
// it together with a close function.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := OpenPostgres(ctx, cfg.GetDSN(), log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresRepository(pool), pool.Close, nil
	case "mysql":
		db, err := OpenMySQL(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return repository.NewGormRepository(db), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// OpenMySQL connects through gorm, migrates the schema and seeds defaults.
func OpenMySQL(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	logMode := logger.Warn
	if cfg.Logger.Level == "debug" {
		logMode = logger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.GetDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("Database connected successfully", zap.String("driver", "mysql"))

	if err := AutoMigrate(db, log); err != nil {
		return nil, err
	}
	if err := SeedDefaultData(db, cfg.Database.AdminPassword, log); err != nil {
		return nil, err
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Page{},
		&models.PageCredential{},
		&models.UserPageCredential{},
		&models.Proxy{},
		&models.MacroSchedule{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("Database migration completed")
	return nil
}

// SeedDefaultData creates the admin user when adminPassword is set and the
// user does not exist yet.
func SeedDefaultData(db *gorm.DB, adminPassword string, log *zap.Logger) error {
	if adminPassword == "" {
		return nil
	}

	var existing models.User
	err := db.Where("username = ?", "admin").First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	hash, err := utils.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	admin := models.User{Username: "admin", FullName: "Administrator", Password: hash, Status: 1}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	log.Info("Default data seeded successfully")
	return nil
}
