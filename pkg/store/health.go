package store

import (
	"context"
	"fmt"
)

// Healthcheck verifies the database connection with a trivial query.
func (s *GORMStore) Healthcheck(ctx context.Context) error {
	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("store healthcheck failed: %w", err)
	}
	return nil
}

// Close closes the underlying database connection. Call last at shutdown.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
