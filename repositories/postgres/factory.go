package postgres

import (
	"context"

	"github.com/upb/chat-gateway/config"
	"github.com/upb/chat-gateway/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory owns the audit database connection
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to the audit database
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// InitAuditSchema initializes the audit database schema
func (f *RepositoryFactory) InitAuditSchema(ctx context.Context) error {
	return f.db.InitAuditSchema(ctx)
}

// ChatRecords returns the audit repository
func (f *RepositoryFactory) ChatRecords() repositories.ChatRecordRepository {
	return NewChatRecordRepository(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
