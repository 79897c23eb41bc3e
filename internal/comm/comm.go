package comm

import "time"

// Topics shared between the issuer and processor services.
const (
	TopicCardRequested    = "card.requested"
	TopicCardRequestedDLQ = "card.requested.dlq"
	TopicCardProcessed    = "card.processed"
)

// Header names carried on broker messages.
const (
	HeaderCardRequestId      = "card-request-id"
	HeaderRetryCount         = "retry-count"
	HeaderNextRetryTime      = "next-retry-time"
	HeaderOriginalTimestamp  = "original-timestamp"
	HeaderFailedTimestamp    = "failed-timestamp"
	HeaderReason             = "reason"
	HeaderProcessedTimestamp = "processed-timestamp"
)

type Customer struct {
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	FullName       string `json:"fullName"`
	Age            int    `json:"age"`
	Email          string `json:"email"`
}

type Product struct {
	Type          string `json:"type"`
	Currency      string `json:"currency"`
	SimulateError bool   `json:"simulateError"`
}

// CardRequestMessage is the payload published to card.requested and its DLQ.
type CardRequestMessage struct {
	Customer Customer `json:"customer"`
	Product  Product  `json:"product"`
}

// ProcessedCardMessage is the payload published to card.processed. It carries
// the original request plus the processing outcome.
type ProcessedCardMessage struct {
	Customer    Customer  `json:"customer"`
	Product     Product   `json:"product"`
	ProcessedAt time.Time `json:"processedAt"`
	Status      string    `json:"status"`
}
