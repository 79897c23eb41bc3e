package main

import (
	"os"
	"os/signal"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	config "github.com/cardops/issuer-services/configs"
	"github.com/cardops/issuer-services/internal/db"
	natscli "github.com/cardops/issuer-services/internal/nats"
	"github.com/cardops/issuer-services/internal/processorsvc/backoff"
	"github.com/cardops/issuer-services/internal/processorsvc/broker"
	"github.com/cardops/issuer-services/internal/processorsvc/service"
	"github.com/cardops/issuer-services/internal/store"
)

const SERVICE_NAME = "processor"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	// pg connection
	dbpool, err := db.Connect(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	if err := db.RunMigrations(dbpool); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	requestStore := store.NewCardRequestStore(dbpool)
	trackingStore := store.NewTrackingStore(dbpool)
	cardStore := store.NewCardStore(dbpool)

	// Connect to NATS
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	policy := backoff.Policy{
		Delays:     cfg.RetryDelays,
		MaxRetries: cfg.MaxRetries,
	}

	creditLimit, err := decimal.NewFromString(cfg.CreditLimit)
	if err != nil {
		log.Fatalf("Invalid CREDIT_LIMIT value: %v", err)
	}

	processor := service.NewProcessor(trackingStore, n, policy)
	materializer := service.NewMaterializer(requestStore, trackingStore, cardStore, creditLimit)

	// init message broker
	b := broker.NewBroker(n.Conn, processor, materializer)

	subRequested, err := b.QueueSubscribeCardRequested(cfg.ProcessorQueueGroup)
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", "card.requested", err)
		os.Exit(0)
	}

	subProcessed, err := b.QueueSubscribeCardProcessed(cfg.MaterializerQueueGroup)
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", "card.processed", err)
		os.Exit(0)
	}

	subDLQ, err := b.SubscribeDeadLetter()
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", "card.requested.dlq", err)
		os.Exit(0)
	}

	log.Infof("%s service consuming card request messages", SERVICE_NAME)

	// Wait for interrupt signal to gracefully shutdown the consumers
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	subRequested.Unsubscribe()
	subProcessed.Unsubscribe()
	subDLQ.Unsubscribe()

	// let pending delayed requeues publish before closing the connection
	processor.Drain()

	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
