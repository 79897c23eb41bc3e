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

type CardRequestStore struct {
	db *pgxpool.Pool
}

func NewCardRequestStore(db *pgxpool.Pool) *CardRequestStore {
	return &CardRequestStore{db: db}
}

func (s *CardRequestStore) GetByDocumentNumber(ctx context.Context, documentNumber string) (*models.CardRequest, error) {
	query := `
		SELECT id, document_type, document_number, full_name, age, email, product_type, currency, created_at, updated_at
		FROM card_requests
		WHERE document_number = $1
		LIMIT 1
	`

	var req models.CardRequest
	err := s.db.QueryRow(ctx, query, documentNumber).Scan(
		&req.ID,
		&req.DocumentType,
		&req.DocumentNumber,
		&req.FullName,
		&req.Age,
		&req.Email,
		&req.ProductType,
		&req.Currency,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card request by document number: %w", err)
	}

	return &req, nil
}

func (s *CardRequestStore) GetByID(ctx context.Context, id string) (*models.CardRequest, error) {
	query := `
		SELECT id, document_type, document_number, full_name, age, email, product_type, currency, created_at, updated_at
		FROM card_requests
		WHERE id = $1
		LIMIT 1
	`

	var req models.CardRequest
	err := s.db.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.DocumentType,
		&req.DocumentNumber,
		&req.FullName,
		&req.Age,
		&req.Email,
		&req.ProductType,
		&req.Currency,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card request by id: %w", err)
	}

	return &req, nil
}

// Create inserts a new card request and fills in its generated id and timestamps.
func (s *CardRequestStore) Create(ctx context.Context, req *models.CardRequest) error {
	if req.DocumentNumber == "" {
		return fmt.Errorf("document number cannot be empty")
	}

	req.ID = uuid.NewString()

	query := `
		INSERT INTO card_requests (id, document_type, document_number, full_name, age, email, product_type, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		req.ID,
		req.DocumentType,
		req.DocumentNumber,
		req.FullName,
		req.Age,
		req.Email,
		req.ProductType,
		req.Currency,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create card request: %w", err)
	}

	return nil
}

// Update rewrites the mutable fields of an existing card request.
func (s *CardRequestStore) Update(ctx context.Context, req *models.CardRequest) error {
	query := `
		UPDATE card_requests
		SET full_name = $2, age = $3, email = $4, product_type = $5, currency = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := s.db.QueryRow(ctx, query,
		req.ID,
		req.FullName,
		req.Age,
		req.Email,
		req.ProductType,
		req.Currency,
	).Scan(&req.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("card request %s not found", req.ID)
		}
		return fmt.Errorf("failed to update card request: %w", err)
	}

	return nil
}
