package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/processorsvc/service"
)

type Broker struct {
	Conn         *nats.Conn
	Processor    *service.Processor
	Materializer *service.Materializer
}

func NewBroker(nc *nats.Conn, processor *service.Processor, materializer *service.Materializer) *Broker {
	return &Broker{
		Conn:         nc,
		Processor:    processor,
		Materializer: materializer,
	}
}

// handles deliveries on card.requested
func (b *Broker) handleCardRequested(m *nats.Msg) {
	msg := comm.CardRequestMessage{}
	err := json.Unmarshal(m.Data, &msg)
	if err != nil {
		log.Errorf("Error broker message %s", err)
		return
	}

	requestID := m.Header.Get(comm.HeaderCardRequestId)
	retryCount := headerInt(m.Header.Get(comm.HeaderRetryCount))

	log.Infof("[%s] received message: retryCount=%d", m.Subject, retryCount)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// once the processor has routed the message the delivery is handled,
	// a publish failure is logged and the delivery is not re-run here
	if err := b.Processor.Process(ctx, msg, requestID, retryCount); err != nil {
		log.Errorf("Error [Processor.Process] %s", err)
		return
	}

	log.Info("card request message processed and acknowledged")
}

// dead-letter messages are logged for visibility only
func (b *Broker) handleDeadLetter(m *nats.Msg) {
	msg := comm.CardRequestMessage{}
	err := json.Unmarshal(m.Data, &msg)
	if err != nil {
		log.Errorf("Error broker message %s", err)
		return
	}

	log.Warnf("message in DLQ: customer=%s document=%s product=%s retryCount=%s reason=%s",
		msg.Customer.FullName,
		msg.Customer.DocumentNumber,
		msg.Product.Type,
		m.Header.Get(comm.HeaderRetryCount),
		m.Header.Get(comm.HeaderReason),
	)
}

// handles deliveries on card.processed
func (b *Broker) handleCardProcessed(m *nats.Msg) {
	msg := comm.ProcessedCardMessage{}
	err := json.Unmarshal(m.Data, &msg)
	if err != nil {
		log.Errorf("Error broker message %s", err)
		return
	}

	requestID := m.Header.Get(comm.HeaderCardRequestId)

	log.Infof("[%s] card processed message received", m.Subject)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.Materializer.CreateCard(ctx, msg, requestID); err != nil {
		log.Errorf("Error [Materializer.CreateCard] %s", err)
		return
	}
}

// consume card request messages (queue group shares the work across instances)
func (b *Broker) QueueSubscribeCardRequested(queueGroup string) (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(comm.TopicCardRequested, queueGroup, b.handleCardRequested)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// consume processed messages for card materialization
func (b *Broker) QueueSubscribeCardProcessed(queueGroup string) (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(comm.TopicCardProcessed, queueGroup, b.handleCardProcessed)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// observe the dead-letter topic on every instance
func (b *Broker) SubscribeDeadLetter() (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(comm.TopicCardRequestedDLQ, b.handleDeadLetter)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func headerInt(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
