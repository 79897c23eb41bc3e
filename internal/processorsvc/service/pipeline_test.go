package service

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/models"
)

// Drives the processor the way the broker would: every requeued message is
// delivered again until the request either succeeds or dead-letters.
func TestPipelineExhaustsRetriesThenDeadLetters(t *testing.T) {
	tracking := &stubTracking{}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	msg := requestMessage(true)
	requestID := "req-1"
	retryCount := 0
	delivered := 0

	for {
		require.NoError(t, p.Process(context.Background(), msg, requestID, retryCount))
		p.Drain()
		delivered++

		requeued := pub.byTopic(comm.TopicCardRequested)
		if len(requeued) < delivered {
			break
		}

		last := requeued[len(requeued)-1]
		next, err := strconv.Atoi(last.headers[comm.HeaderRetryCount])
		require.NoError(t, err)
		retryCount = next

		var redelivered comm.CardRequestMessage
		require.NoError(t, json.Unmarshal(last.payload, &redelivered))
		msg = redelivered
	}

	// three requeues, then the fourth delivery dead-letters
	assert.Len(t, pub.byTopic(comm.TopicCardRequested), 3)
	assert.Len(t, pub.byTopic(comm.TopicCardRequestedDLQ), 1)
	assert.Empty(t, pub.byTopic(comm.TopicCardProcessed))

	want := []string{
		models.TrackingProcessing, models.TrackingRetry,
		models.TrackingProcessing, models.TrackingRetry,
		models.TrackingProcessing, models.TrackingRetry,
		models.TrackingProcessing, models.TrackingSentToDLQ,
	}
	assert.Equal(t, want, tracking.statuses())
}

func TestPipelineSuccessMaterializesCard(t *testing.T) {
	tracking := &stubTracking{}
	pub := &stubPublisher{}
	p := newTestProcessor(tracking, pub, zeroDelayPolicy())

	require.NoError(t, p.Process(context.Background(), requestMessage(false), "req-1", 0))

	processed := pub.byTopic(comm.TopicCardProcessed)
	require.Len(t, processed, 1)

	var processedMsg comm.ProcessedCardMessage
	require.NoError(t, json.Unmarshal(processed[0].payload, &processedMsg))

	requests := &stubRequestStore{request: creditRequest()}
	cards := &stubCardStore{}
	m := NewMaterializer(requests, tracking, cards, decimal.NewFromInt(5000))

	require.NoError(t, m.CreateCard(context.Background(), processedMsg, processed[0].headers[comm.HeaderCardRequestId]))

	require.Len(t, cards.created, 1)
	assert.Regexp(t, `^\d{16}$`, cards.created[0].CardNumber)
	assert.NotNil(t, cards.created[0].CreditLimit)

	want := []string{models.TrackingProcessing, models.TrackingSuccess, models.TrackingCardCreated}
	assert.Equal(t, want, tracking.statuses())
}
