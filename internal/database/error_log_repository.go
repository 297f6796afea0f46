package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// ErrorLogRepository persists systemic errors for later inspection.
type ErrorLogRepository struct {
	db *sqlx.DB
}

// NewErrorLogRepository creates a new error log repository.
func NewErrorLogRepository(db *sqlx.DB) *ErrorLogRepository {
	return &ErrorLogRepository{db: db}
}

// Record stores an error with its component and detail payload.
func (r *ErrorLogRepository) Record(ctx context.Context, component, message string, detail domain.JSONBMap, fatal bool) error {
	query := `
		INSERT INTO error_logs (component, message, detail, fatal)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, component, message, detail, fatal); err != nil {
		return fmt.Errorf("failed to record error log: %w", err)
	}
	return nil
}
