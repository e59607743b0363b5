package domain

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
)

// EventRecord archives a verified gateway event with its decrypted resource.
type EventRecord struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider        string       `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string       `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string       `json:"event_type" gorm:"type:text;not null"`
	OrderID         string       `json:"order_id" gorm:"type:text;not null"`
	Payload         []byte       `json:"-"`
	Outcome         string       `json:"outcome" gorm:"type:text;not null"`
	ReceivedAt      time.Time    `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time   `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// CompressResource encodes a decrypted resource for the archive.
func CompressResource(plaintext []byte) []byte {
	if len(plaintext) == 0 {
		return nil
	}
	return snappy.Encode(nil, plaintext)
}

// Resource returns the decrypted resource stored with the record.
func (r EventRecord) Resource() ([]byte, error) {
	if len(r.Payload) == 0 {
		return nil, nil
	}
	plain, err := snappy.Decode(nil, r.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode archived resource: %w", err)
	}
	return plain, nil
}

const (
	EventTypeTransactionSuccess = "TRANSACTION.SUCCESS"
	EventTypeRefundSuccess      = "REFUND.SUCCESS"
)

// EventKind is what an accepted event does to an order.
type EventKind string

const (
	EventKindPaid   EventKind = "paid"
	EventKindRefund EventKind = "refund"
)

// PaymentEvent is the canonical event parsed by adapters. Amount is the paid
// total for a payment and the settled amount of this refund for a refund.
type PaymentEvent struct {
	Provider      string
	EventID       string
	EventType     string
	Kind          EventKind
	OrderID       string
	TransactionID string
	RefundID      string
	PayerOpenID   string
	Amount        int64
	OccurredAt    time.Time
	Resource      []byte
}

// Envelope is the signed notification body. Only Resource is encrypted.
type Envelope struct {
	ID           string            `json:"id"`
	CreateTime   string            `json:"create_time"`
	EventType    string            `json:"event_type"`
	ResourceType string            `json:"resource_type"`
	Summary      string            `json:"summary"`
	Resource     EncryptedResource `json:"resource"`
}

type EncryptedResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
	OriginalType   string `json:"original_type"`
	Nonce          string `json:"nonce"`
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Body    []byte
	Headers http.Header
}

// Ack is the acknowledgment body the gateway expects.
type Ack struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	AckSuccess = Ack{Code: "SUCCESS", Message: "OK"}
	AckFail    = Ack{Code: "FAIL", Message: "verification failed"}
)

// Outcome labels what the ingestor did with a delivery.
const (
	OutcomeApplied     = "applied"
	OutcomeCompensated = "compensated"
	OutcomeNoop        = "noop"
	OutcomeIgnored     = "ignored"
	OutcomeDuplicate   = "duplicate"
	OutcomeConflict    = "conflict"
	OutcomeFailed      = "failed"
	OutcomeRejected    = "rejected"
	OutcomeMalformed   = "malformed"
)
