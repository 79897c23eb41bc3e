package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardops/issuer-services/internal/models"
)

type CardStore struct {
	db *pgxpool.Pool
}

func NewCardStore(db *pgxpool.Pool) *CardStore {
	return &CardStore{db: db}
}

// FindActiveByRequestAndType returns the active card of a given type for a
// card request, or nil when there is none.
func (s *CardStore) FindActiveByRequestAndType(ctx context.Context, cardRequestID, cardType string) (*models.Card, error) {
	query := `
		SELECT id, card_request_id, card_number, cvv, expiry_date, card_holder_name, card_type, currency, credit_limit, status, created_at, updated_at
		FROM cards
		WHERE card_request_id = $1 AND card_type = $2 AND status = 'active'
		LIMIT 1
	`

	var card models.Card
	err := s.db.QueryRow(ctx, query, cardRequestID, cardType).Scan(
		&card.ID,
		&card.CardRequestID,
		&card.CardNumber,
		&card.CVV,
		&card.ExpiryDate,
		&card.CardHolderName,
		&card.CardType,
		&card.Currency,
		&card.CreditLimit,
		&card.Status,
		&card.CreatedAt,
		&card.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active card: %w", err)
	}

	return &card, nil
}

// Create persists an issued card. Card numbers are unique, a collision
// surfaces as a constraint violation.
func (s *CardStore) Create(ctx context.Context, card *models.Card) error {
	if card.CardRequestID == "" {
		return fmt.Errorf("card request id cannot be empty")
	}
	if len(card.CardNumber) != 16 {
		return fmt.Errorf("card number must be 16 digits, got %d", len(card.CardNumber))
	}

	card.ID = uuid.NewString()

	query := `
		INSERT INTO cards (id, card_request_id, card_number, cvv, expiry_date, card_holder_name, card_type, currency, credit_limit, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		card.ID,
		card.CardRequestID,
		card.CardNumber,
		card.CVV,
		card.ExpiryDate,
		card.CardHolderName,
		card.CardType,
		card.Currency,
		card.CreditLimit,
		card.Status,
	).Scan(&card.CreatedAt, &card.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}

	return nil
}
