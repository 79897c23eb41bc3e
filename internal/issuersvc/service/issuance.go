package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/models"
)

const initialRetryCount = 0

// Publisher sends a payload with headers to a broker topic.
type Publisher interface {
	Publish(topic string, payload []byte, headers map[string]string) error
}

// RequestStore is the durable home of card requests, keyed by document number.
type RequestStore interface {
	GetByDocumentNumber(ctx context.Context, documentNumber string) (*models.CardRequest, error)
	Create(ctx context.Context, req *models.CardRequest) error
	Update(ctx context.Context, req *models.CardRequest) error
}

// TrackingStore appends to and reads the tracking ledger.
type TrackingStore interface {
	Append(ctx context.Context, rec *models.TrackingRecord) error
	ListByRequest(ctx context.Context, cardRequestID string) ([]*models.TrackingRecord, error)
}

// CardStore answers the duplicate-card conflict check.
type CardStore interface {
	FindActiveByRequestAndType(ctx context.Context, cardRequestID, cardType string) (*models.Card, error)
}

// ConflictError is returned when the customer already holds an active card of
// the requested product type. It only ever carries the masked card number.
type ConflictError struct {
	DocumentNumber   string
	ProductType      string
	MaskedCardNumber string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("customer with document %s already has an active %s card (%s)",
		e.DocumentNumber, e.ProductType, e.MaskedCardNumber)
}

// IssueResult acknowledges an accepted issuance request.
type IssueResult struct {
	Message       string `json:"message"`
	CardRequestID string `json:"cardRequestId"`
}

// IssuanceService is the synchronous front door of the pipeline.
type IssuanceService struct {
	requests RequestStore
	tracking TrackingStore
	cards    CardStore
	pub      Publisher
}

func NewIssuanceService(requests RequestStore, tracking TrackingStore, cards CardStore, pub Publisher) *IssuanceService {
	return &IssuanceService{
		requests: requests,
		tracking: tracking,
		cards:    cards,
		pub:      pub,
	}
}

// IssueCard deduplicates by document number, rejects conflicting active
// cards, records the pending transition and publishes the first request
// message. It returns before any processing happens.
func (s *IssuanceService) IssueCard(ctx context.Context, msg comm.CardRequestMessage) (*IssueResult, error) {
	req, err := s.requests.GetByDocumentNumber(ctx, msg.Customer.DocumentNumber)
	if err != nil {
		return nil, err
	}

	if req == nil {
		req = &models.CardRequest{
			DocumentType:   msg.Customer.DocumentType,
			DocumentNumber: msg.Customer.DocumentNumber,
			FullName:       msg.Customer.FullName,
			Age:            msg.Customer.Age,
			Email:          msg.Customer.Email,
			ProductType:    msg.Product.Type,
			Currency:       msg.Product.Currency,
		}
		if err := s.requests.Create(ctx, req); err != nil {
			return nil, err
		}
	} else {
		existing, err := s.cards.FindActiveByRequestAndType(ctx, req.ID, msg.Product.Type)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, &ConflictError{
				DocumentNumber:   msg.Customer.DocumentNumber,
				ProductType:      msg.Product.Type,
				MaskedCardNumber: maskCardNumber(existing.CardNumber),
			}
		}

		// resubmission, refresh the mutable fields
		req.FullName = msg.Customer.FullName
		req.Age = msg.Customer.Age
		req.Email = msg.Customer.Email
		req.ProductType = msg.Product.Type
		req.Currency = msg.Product.Currency
		if err := s.requests.Update(ctx, req); err != nil {
			return nil, err
		}
	}

	rec := &models.TrackingRecord{
		CardRequestID: req.ID,
		Status:        models.TrackingPending,
		RetryCount:    initialRetryCount,
		SimulateError: msg.Product.SimulateError,
		Topic:         comm.TopicCardRequested,
		ProcessedBy:   models.ProcessedByIssuerAPI,
	}
	if err := s.tracking.Append(ctx, rec); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		comm.HeaderCardRequestId: req.ID,
		comm.HeaderRetryCount:    strconv.Itoa(initialRetryCount),
	}
	if err := s.pub.Publish(comm.TopicCardRequested, payload, headers); err != nil {
		return nil, err
	}

	log.Infof("card issuance request %s accepted for document %s", req.ID, msg.Customer.DocumentNumber)

	return &IssueResult{
		Message:       "Card issuance request received",
		CardRequestID: req.ID,
	}, nil
}

// Tracking returns the audit trail for a card request, oldest first.
func (s *IssuanceService) Tracking(ctx context.Context, cardRequestID string) ([]*models.TrackingRecord, error) {
	return s.tracking.ListByRequest(ctx, cardRequestID)
}

func maskCardNumber(number string) string {
	if len(number) < 4 {
		return "****"
	}
	return "**** **** **** " + number[len(number)-4:]
}
