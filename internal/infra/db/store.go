package db

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB
}

// NewStore connects and migrates. An empty dsn yields a Store with a nil DB;
// callers fall back to the in-memory ledger.
func NewStore(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if dsn == "" {
		log.Warn("POSTGRES_DSN not set; ledger kept in memory only")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(ctx, gdb, log); err != nil {
		return nil, err
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
