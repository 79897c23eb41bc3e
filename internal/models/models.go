package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tracking statuses, in the order a request moves through the pipeline.
const (
	TrackingPending     = "pending"
	TrackingProcessing  = "processing"
	TrackingRetry       = "retry"
	TrackingSuccess     = "success"
	TrackingSentToDLQ   = "sent_to_dlq"
	TrackingCardCreated = "card_created"
)

// Actors that write tracking records.
const (
	ProcessedByIssuerAPI     = "issuer-api"
	ProcessedByCardProcessor = "card-processor"
)

const CardStatusActive = "active"

// CardRequest is the durable record of a customer's request for a card
// product, unique per document number.
type CardRequest struct {
	ID             string    `json:"id"`
	DocumentType   string    `json:"document_type"`
	DocumentNumber string    `json:"document_number"`
	FullName       string    `json:"full_name"`
	Age            int       `json:"age"`
	Email          string    `json:"email"`
	ProductType    string    `json:"product_type"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TrackingRecord is one immutable status transition for a CardRequest.
type TrackingRecord struct {
	ID            string    `json:"id"`
	CardRequestID string    `json:"card_request_id"`
	Status        string    `json:"status"`
	RetryCount    int       `json:"retry_count"`
	SimulateError bool      `json:"simulate_error"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	Topic         string    `json:"topic"`
	ProcessedBy   string    `json:"processed_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Card is the issued card artifact, one per materialized request.
type Card struct {
	ID             string           `json:"id"`
	CardRequestID  string           `json:"card_request_id"`
	CardNumber     string           `json:"card_number"`
	CVV            string           `json:"-"`
	ExpiryDate     string           `json:"expiry_date"` // MM/YYYY
	CardHolderName string           `json:"card_holder_name"`
	CardType       string           `json:"card_type"` // credit, debit
	Currency       string           `json:"currency"`
	CreditLimit    *decimal.Decimal `json:"credit_limit,omitempty"`
	Status         string           `json:"status"` // active, blocked, expired
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
