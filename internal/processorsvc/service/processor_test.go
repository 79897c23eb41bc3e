package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/models"
	"github.com/cardops/issuer-services/internal/processorsvc/backoff"
)

type publishCall struct {
	topic   string
	payload []byte
	headers map[string]string
}

type stubPublisher struct {
	calls []publishCall
	err   error
}

func (s *stubPublisher) Publish(topic string, payload []byte, headers map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, publishCall{topic: topic, payload: payload, headers: headers})
	return nil
}

func (s *stubPublisher) byTopic(topic string) []publishCall {
	var out []publishCall
	for _, c := range s.calls {
		if c.topic == topic {
			out = append(out, c)
		}
	}
	return out
}

type stubTracking struct {
	records []*models.TrackingRecord
	err     error
}

func (s *stubTracking) Append(ctx context.Context, rec *models.TrackingRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *stubTracking) statuses() []string {
	var out []string
	for _, r := range s.records {
		out = append(out, r.Status)
	}
	return out
}

func zeroDelayPolicy() backoff.Policy {
	return backoff.Policy{
		Delays:     []time.Duration{0, 0, 0},
		MaxRetries: 3,
	}
}

func newTestProcessor(tracking *stubTracking, pub *stubPublisher, policy backoff.Policy) *Processor {
	p := NewProcessor(tracking, pub, policy)
	// run delayed requeues inline so publishes are visible synchronously
	p.afterFunc = func(d time.Duration, f func()) *time.Timer {
		f()
		return time.NewTimer(0)
	}
	return p
}

func requestMessage(simulateError bool) comm.CardRequestMessage {
	return comm.CardRequestMessage{
		Customer: comm.Customer{
			DocumentType:   "CC",
			DocumentNumber: "12345678",
			FullName:       "Jane Roe",
			Age:            30,
			Email:          "jane.roe@example.com",
		},
		Product: comm.Product{
			Type:          "credit",
			Currency:      "USD",
			SimulateError: simulateError,
		},
	}
}

func TestProcessSuccessPath(t *testing.T) {
	tracking := &stubTracking{}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	msg := requestMessage(false)
	err := p.Process(context.Background(), msg, "req-1", 0)
	require.NoError(t, err)

	processed := pub.byTopic(comm.TopicCardProcessed)
	require.Len(t, processed, 1)
	assert.Empty(t, pub.byTopic(comm.TopicCardRequested))
	assert.Empty(t, pub.byTopic(comm.TopicCardRequestedDLQ))

	assert.Equal(t, "req-1", processed[0].headers[comm.HeaderCardRequestId])
	assert.NotEmpty(t, processed[0].headers[comm.HeaderProcessedTimestamp])

	var out comm.ProcessedCardMessage
	require.NoError(t, json.Unmarshal(processed[0].payload, &out))
	assert.Equal(t, msg.Customer, out.Customer)
	assert.Equal(t, msg.Product, out.Product)
	assert.Equal(t, "success", out.Status)
	assert.False(t, out.ProcessedAt.IsZero())

	require.Equal(t, []string{models.TrackingProcessing, models.TrackingSuccess}, tracking.statuses())
	assert.Equal(t, 0, tracking.records[0].RetryCount)
	assert.Equal(t, 0, tracking.records[1].RetryCount)
	assert.Equal(t, models.ProcessedByCardProcessor, tracking.records[0].ProcessedBy)
}

func TestProcessRetryPath(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		t.Run("attempt "+strconv.Itoa(attempt), func(t *testing.T) {
			tracking := &stubTracking{}
			pub := &stubPublisher{}
			p := newTestProcessor(tracking, pub, zeroDelayPolicy())

			err := p.Process(context.Background(), requestMessage(true), "req-1", attempt)
			require.NoError(t, err)
			p.Drain()

			requeued := pub.byTopic(comm.TopicCardRequested)
			require.Len(t, requeued, 1)
			assert.Empty(t, pub.byTopic(comm.TopicCardProcessed))
			assert.Empty(t, pub.byTopic(comm.TopicCardRequestedDLQ))

			assert.Equal(t, strconv.Itoa(attempt+1), requeued[0].headers[comm.HeaderRetryCount])
			assert.Equal(t, "req-1", requeued[0].headers[comm.HeaderCardRequestId])
			assert.NotEmpty(t, requeued[0].headers[comm.HeaderNextRetryTime])
			assert.NotEmpty(t, requeued[0].headers[comm.HeaderOriginalTimestamp])

			// the republished payload is the original request, untouched
			var out comm.CardRequestMessage
			require.NoError(t, json.Unmarshal(requeued[0].payload, &out))
			assert.Equal(t, requestMessage(true), out)

			require.Equal(t, []string{models.TrackingProcessing, models.TrackingRetry}, tracking.statuses())
			assert.Equal(t, attempt, tracking.records[0].RetryCount)
			assert.Equal(t, attempt+1, tracking.records[1].RetryCount)
		})
	}
}

func TestProcessEscalatesToDLQ(t *testing.T) {
	tracking := &stubTracking{}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	err := p.Process(context.Background(), requestMessage(true), "req-1", 3)
	require.NoError(t, err)
	p.Drain()

	dlq := pub.byTopic(comm.TopicCardRequestedDLQ)
	require.Len(t, dlq, 1)
	assert.Empty(t, pub.byTopic(comm.TopicCardRequested))
	assert.Empty(t, pub.byTopic(comm.TopicCardProcessed))

	assert.Equal(t, "3", dlq[0].headers[comm.HeaderRetryCount])
	assert.Equal(t, "Max retries exceeded", dlq[0].headers[comm.HeaderReason])
	assert.NotEmpty(t, dlq[0].headers[comm.HeaderFailedTimestamp])
	assert.Equal(t, "req-1", dlq[0].headers[comm.HeaderCardRequestId])

	require.Equal(t, []string{models.TrackingProcessing, models.TrackingSentToDLQ}, tracking.statuses())
	dlqRec := tracking.records[1]
	assert.Equal(t, 3, dlqRec.RetryCount)
	require.NotNil(t, dlqRec.ErrorMessage)
	assert.Equal(t, "Max retries exceeded", *dlqRec.ErrorMessage)
	assert.Equal(t, comm.TopicCardRequestedDLQ, dlqRec.Topic)
}

func TestProcessMissingRequestIdGoesStraightToDLQ(t *testing.T) {
	tracking := &stubTracking{}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	err := p.Process(context.Background(), requestMessage(true), "", 1)
	require.NoError(t, err)

	dlq := pub.byTopic(comm.TopicCardRequestedDLQ)
	require.Len(t, dlq, 1)

	// nothing to key a tracking record to, and the counter stays untouched
	assert.Empty(t, tracking.records)
	assert.Equal(t, "1", dlq[0].headers[comm.HeaderRetryCount])
	assert.Equal(t, "missing card-request-id header", dlq[0].headers[comm.HeaderReason])
	_, hasID := dlq[0].headers[comm.HeaderCardRequestId]
	assert.False(t, hasID)
}

func TestProcessTrackingFailureDoesNotFailDelivery(t *testing.T) {
	tracking := &stubTracking{err: errors.New("ledger down")}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	err := p.Process(context.Background(), requestMessage(false), "req-1", 0)
	require.NoError(t, err)

	require.Len(t, pub.byTopic(comm.TopicCardProcessed), 1)
}

func TestProcessPublishFailurePropagates(t *testing.T) {
	tracking := &stubTracking{}
	pub := &stubPublisher{err: errors.New("broker down")}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	err := p.Process(context.Background(), requestMessage(false), "req-1", 0)
	require.Error(t, err)
}

func TestProcessRedeliveryRepeatsDecision(t *testing.T) {
	// at-least-once delivery: the same attempt may be handled twice and each
	// delivery routes the same way
	tracking := &stubTracking{}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	msg := requestMessage(true)
	require.NoError(t, p.Process(context.Background(), msg, "req-1", 1))
	require.NoError(t, p.Process(context.Background(), msg, "req-1", 1))
	p.Drain()

	requeued := pub.byTopic(comm.TopicCardRequested)
	require.Len(t, requeued, 2)
	for _, c := range requeued {
		assert.Equal(t, "2", c.headers[comm.HeaderRetryCount])
	}
}
