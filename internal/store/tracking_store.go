package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardops/issuer-services/internal/models"
)

type TrackingStore struct {
	db *pgxpool.Pool
}

func NewTrackingStore(db *pgxpool.Pool) *TrackingStore {
	return &TrackingStore{db: db}
}

// Append writes one status transition. Records are never updated or deleted.
func (s *TrackingStore) Append(ctx context.Context, rec *models.TrackingRecord) error {
	if rec.CardRequestID == "" {
		return fmt.Errorf("card request id cannot be empty")
	}

	rec.ID = uuid.NewString()

	query := `
		INSERT INTO card_request_tracking (id, card_request_id, status, retry_count, simulate_error, error_message, topic, processed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		rec.ID,
		rec.CardRequestID,
		rec.Status,
		rec.RetryCount,
		rec.SimulateError,
		rec.ErrorMessage,
		rec.Topic,
		rec.ProcessedBy,
	).Scan(&rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append tracking record: %w", err)
	}

	return nil
}

// ListByRequest returns the audit trail for a card request, oldest first.
func (s *TrackingStore) ListByRequest(ctx context.Context, cardRequestID string) ([]*models.TrackingRecord, error) {
	query := `
		SELECT id, card_request_id, status, retry_count, simulate_error, error_message, topic, processed_by, created_at
		FROM card_request_tracking
		WHERE card_request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, cardRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking records: %w", err)
	}
	defer rows.Close()

	var records []*models.TrackingRecord
	for rows.Next() {
		var rec models.TrackingRecord
		err := rows.Scan(
			&rec.ID,
			&rec.CardRequestID,
			&rec.Status,
			&rec.RetryCount,
			&rec.SimulateError,
			&rec.ErrorMessage,
			&rec.Topic,
			&rec.ProcessedBy,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, nil
}
