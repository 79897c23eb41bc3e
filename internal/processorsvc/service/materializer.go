package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/models"
)

const productTypeCredit = "credit"

// Materializer consumes card.processed messages and turns each one into a
// persisted Card.
type Materializer struct {
	requests    RequestStore
	tracking    TrackingStore
	cards       CardStore
	creditLimit decimal.Decimal
}

func NewMaterializer(requests RequestStore, tracking TrackingStore, cards CardStore, creditLimit decimal.Decimal) *Materializer {
	return &Materializer{
		requests:    requests,
		tracking:    tracking,
		cards:       cards,
		creditLimit: creditLimit,
	}
}

// CreateCard materializes one processed request. A nil return acknowledges
// the delivery; an error means the card is not durable yet and the delivery
// must be retried by the broker.
func (m *Materializer) CreateCard(ctx context.Context, msg comm.ProcessedCardMessage, requestID string) error {
	if requestID == "" {
		log.Error("missing card-request-id header, cannot create card")
		return nil
	}

	log.Infof("creating card for cardRequestId: %s", requestID)

	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		// topics and store disagree, retrying cannot repair this
		log.Errorf("card request not found: %s", requestID)
		return nil
	}

	// at-least-once delivery: a replayed message must not mint a second card
	existing, err := m.cards.FindActiveByRequestAndType(ctx, requestID, req.ProductType)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Infof("active %s card already exists for request %s, skipping", req.ProductType, requestID)
		return nil
	}

	m.trackBestEffort(ctx, &models.TrackingRecord{
		CardRequestID: requestID,
		Status:        models.TrackingCardCreated,
		RetryCount:    0,
		SimulateError: false,
		Topic:         comm.TopicCardProcessed,
		ProcessedBy:   models.ProcessedByCardProcessor,
	})

	card := &models.Card{
		CardRequestID:  req.ID,
		CardNumber:     generateCardNumber(),
		CVV:            generateCVV(),
		ExpiryDate:     generateExpiryDate(),
		CardHolderName: req.FullName,
		CardType:       req.ProductType,
		Currency:       req.Currency,
		Status:         models.CardStatusActive,
	}

	if req.ProductType == productTypeCredit {
		limit := m.creditLimit
		card.CreditLimit = &limit
	}

	if err := m.cards.Create(ctx, card); err != nil {
		return err
	}

	log.Infof("card created successfully: ****%s for %s", card.CardNumber[12:], req.FullName)
	return nil
}

func (m *Materializer) trackBestEffort(ctx context.Context, rec *models.TrackingRecord) {
	if err := m.tracking.Append(ctx, rec); err != nil {
		log.Errorf("error creating tracking record for %s (%s): %s", rec.CardRequestID, rec.Status, err)
		return
	}

	log.Infof("tracking created: cardRequestId=%s, status=%s", rec.CardRequestID, rec.Status)
}

// 16 uniform random digits, not checksum validated
func generateCardNumber() string {
	return randomDigits(16)
}

func generateCVV() string {
	return randomDigits(3)
}

// expiry is five years out, MM/YYYY
func generateExpiryDate() string {
	now := time.Now()
	return fmt.Sprintf("%02d/%d", int(now.Month()), now.Year()+5)
}

func randomDigits(n int) string {
	digits := make([]byte, n)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10))
	}
	return string(digits)
}
