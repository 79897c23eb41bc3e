package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/models"
	"github.com/cardops/issuer-services/internal/processorsvc/backoff"
)

const dlqReasonMaxRetries = "Max retries exceeded"

// Publisher sends a payload with headers to a broker topic.
type Publisher interface {
	Publish(topic string, payload []byte, headers map[string]string) error
}

// TrackingStore appends status transitions to the tracking ledger.
type TrackingStore interface {
	Append(ctx context.Context, rec *models.TrackingRecord) error
}

// RequestStore loads card requests by id.
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*models.CardRequest, error)
}

// CardStore persists issued cards and answers duplicate checks.
type CardStore interface {
	FindActiveByRequestAndType(ctx context.Context, cardRequestID, cardType string) (*models.Card, error)
	Create(ctx context.Context, card *models.Card) error
}

// Processor consumes card.requested deliveries and routes each one to
// success, a delayed requeue, or the dead-letter topic.
type Processor struct {
	tracking TrackingStore
	pub      Publisher
	policy   backoff.Policy

	wg sync.WaitGroup
	// indirection over time.AfterFunc so tests can run requeues inline
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewProcessor(tracking TrackingStore, pub Publisher, policy backoff.Policy) *Processor {
	return &Processor{
		tracking:  tracking,
		pub:       pub,
		policy:    policy,
		afterFunc: time.AfterFunc,
	}
}

// Process handles one delivery of a card request message. The returned error
// is only non-nil when a publish failed before a routing decision landed;
// tracking-write failures never fail the delivery.
func (p *Processor) Process(ctx context.Context, msg comm.CardRequestMessage, requestID string, retryCount int) error {
	// a message without its correlation id cannot be retried or tracked
	if requestID == "" {
		log.Error("missing card-request-id header, sending to dead-letter")
		return p.sendToDLQ(msg, "", retryCount, "missing card-request-id header")
	}

	log.Infof("processing card request %s (attempt %d/%d)", requestID, retryCount+1, p.policy.MaxRetries+1)
	log.Infof("customer: %s, product: %s, simulateError: %v",
		msg.Customer.FullName, msg.Product.Type, msg.Product.SimulateError)

	p.trackBestEffort(ctx, &models.TrackingRecord{
		CardRequestID: requestID,
		Status:        models.TrackingProcessing,
		RetryCount:    retryCount,
		SimulateError: msg.Product.SimulateError,
		Topic:         comm.TopicCardRequested,
		ProcessedBy:   models.ProcessedByCardProcessor,
	})

	if !msg.Product.SimulateError {
		if err := p.publishProcessed(msg, requestID); err != nil {
			return err
		}

		p.trackBestEffort(ctx, &models.TrackingRecord{
			CardRequestID: requestID,
			Status:        models.TrackingSuccess,
			RetryCount:    retryCount,
			SimulateError: false,
			Topic:         comm.TopicCardRequested,
			ProcessedBy:   models.ProcessedByCardProcessor,
		})
		return nil
	}

	log.Warnf("simulateError=true for card request %s, consulting retry policy", requestID)

	if p.policy.ShouldEscalate(retryCount) {
		log.Errorf("max retries (%d) reached for card request %s, sending to DLQ", p.policy.MaxRetries, requestID)

		reason := dlqReasonMaxRetries
		p.trackBestEffort(ctx, &models.TrackingRecord{
			CardRequestID: requestID,
			Status:        models.TrackingSentToDLQ,
			RetryCount:    retryCount,
			SimulateError: true,
			ErrorMessage:  &reason,
			Topic:         comm.TopicCardRequestedDLQ,
			ProcessedBy:   models.ProcessedByCardProcessor,
		})

		return p.sendToDLQ(msg, requestID, retryCount, reason)
	}

	p.trackBestEffort(ctx, &models.TrackingRecord{
		CardRequestID: requestID,
		Status:        models.TrackingRetry,
		RetryCount:    retryCount + 1,
		SimulateError: true,
		Topic:         comm.TopicCardRequested,
		ProcessedBy:   models.ProcessedByCardProcessor,
	})

	p.scheduleRequeue(msg, requestID, retryCount+1)

	return nil
}

// Drain waits for pending delayed requeues, used on shutdown.
func (p *Processor) Drain() {
	p.wg.Wait()
}

func (p *Processor) publishProcessed(msg comm.CardRequestMessage, requestID string) error {
	processed := comm.ProcessedCardMessage{
		Customer:    msg.Customer,
		Product:     msg.Product,
		ProcessedAt: time.Now().UTC(),
		Status:      "success",
	}

	payload, err := json.Marshal(processed)
	if err != nil {
		return err
	}

	headers := map[string]string{
		comm.HeaderCardRequestId:      requestID,
		comm.HeaderProcessedTimestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	if err := p.pub.Publish(comm.TopicCardProcessed, payload, headers); err != nil {
		return err
	}

	log.Infof("card request %s sent to %s", requestID, comm.TopicCardProcessed)
	return nil
}

// scheduleRequeue republishes the original payload after the policy delay.
// The wait runs on a timer so the consumer keeps draining other messages.
func (p *Processor) scheduleRequeue(msg comm.CardRequestMessage, requestID string, nextRetry int) {
	delay := p.policy.NextDelay(nextRetry - 1)
	nextRetryTime := time.Now().Add(delay)

	log.Infof("requeuing card request %s with retry %d/%d, delay: %s",
		requestID, nextRetry, p.policy.MaxRetries, delay)

	p.wg.Add(1)
	p.afterFunc(delay, func() {
		defer p.wg.Done()

		payload, err := json.Marshal(msg)
		if err != nil {
			log.Errorf("unable to marshal requeue payload for %s: %s", requestID, err)
			return
		}

		headers := map[string]string{
			comm.HeaderCardRequestId:     requestID,
			comm.HeaderRetryCount:        strconv.Itoa(nextRetry),
			comm.HeaderNextRetryTime:     strconv.FormatInt(nextRetryTime.UnixMilli(), 10),
			comm.HeaderOriginalTimestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		}

		// the original delivery is long acknowledged here, a failed requeue
		// can only be surfaced in the log
		if err := p.pub.Publish(comm.TopicCardRequested, payload, headers); err != nil {
			log.Errorf("error requeuing card request %s: %s", requestID, err)
			return
		}

		log.Infof("card request %s requeued to %s with retry-count %d",
			requestID, comm.TopicCardRequested, nextRetry)
	})
}

func (p *Processor) sendToDLQ(msg comm.CardRequestMessage, requestID string, retryCount int, reason string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	headers := map[string]string{
		comm.HeaderRetryCount:      strconv.Itoa(retryCount),
		comm.HeaderFailedTimestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		comm.HeaderReason:          reason,
	}
	if requestID != "" {
		headers[comm.HeaderCardRequestId] = requestID
	}

	if err := p.pub.Publish(comm.TopicCardRequestedDLQ, payload, headers); err != nil {
		return err
	}

	log.Infof("message sent to DLQ: %s", comm.TopicCardRequestedDLQ)
	return nil
}

// trackBestEffort writes a ledger record. The ledger is advisory, a failed
// write must never change how the delivery itself is routed.
func (p *Processor) trackBestEffort(ctx context.Context, rec *models.TrackingRecord) {
	if err := p.tracking.Append(ctx, rec); err != nil {
		log.Errorf("error creating tracking record for %s (%s): %s", rec.CardRequestID, rec.Status, err)
		return
	}

	log.Infof("tracking created: cardRequestId=%s, status=%s, retryCount=%d",
		rec.CardRequestID, rec.Status, rec.RetryCount)
}
