package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository keeps the security event trail. Rows are not tied to
// the accounts table so the trail survives account deletion until retention
// removes it.
type SecurityEventRepository struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB, retention time.Duration) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool, retention: retention}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEventRecord, error) {
	var record models.SecurityEventRecord
	var eventType string
	var accountID *string

	err := row.Scan(
		&record.ID, &eventType, &accountID, &record.Email,
		&record.IPAddress, &record.UserAgent, &record.Reason, &record.OccurredAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	record.Type = models.SecurityEventType(eventType)
	record.AccountID = deref(accountID)
	return &record, nil
}

// Create stores one event
func (r *SecurityEventRepository) Create(ctx context.Context, event models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (id, event_type, account_id, email, ip_address, user_agent, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query,
		uuid.New().String(), string(event.Type), nullable(event.AccountID), models.NormalizeEmail(event.Email),
		event.IPAddress, event.UserAgent, event.Reason, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByAccount returns the newest events of an account first
func (r *SecurityEventRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.SecurityEventRecord, error) {
	query := `
		SELECT id, event_type, account_id, email, ip_address, user_agent, reason, occurred_at
		FROM security_events
		WHERE account_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.SecurityEventRecord, error) {
		return scanSecurityEventRow(row)
	})
}

// CleanupExpired deletes events older than the retention period
func (r *SecurityEventRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM security_events WHERE occurred_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().Add(-r.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup security events: %w", err)
	}
	return result.RowsAffected(), nil
}
