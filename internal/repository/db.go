package repository

import (
	"fmt"
	"strings"

	"github.com/fitpulse/session-service/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase connects to the session store backend named by url:
// a postgres DSN (the Supabase database) or "sqlite://<path>" for
// local runs. TranslateError is required so unique-constraint
// violations surface as gorm.ErrDuplicatedKey across both drivers.
func OpenDatabase(url string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		db, err = gorm.Open(sqlite.Open(strings.TrimPrefix(url, "sqlite://")), cfg)
	default:
		db, err = gorm.Open(postgres.Open(url), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.Session{}); err != nil {
		return nil, fmt.Errorf("migrate sessions table: %w", err)
	}
	return db, nil
}
