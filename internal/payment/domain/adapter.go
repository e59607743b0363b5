package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/smallbiznis/photoledger/internal/apperror"
)

var (
	ErrProviderNotFound      = apperror.New(apperror.KindValidation, "provider_not_found")
	ErrProviderNotConfigured = apperror.New(apperror.KindInternal, "provider_not_configured")
	ErrInvalidConfig         = apperror.New(apperror.KindValidation, "invalid_provider_config")
	ErrInvalidSignature      = apperror.New(apperror.KindAuthentication, "invalid_signature")
	ErrDecryptFailed         = apperror.New(apperror.KindAuthentication, "decrypt_failed")
	ErrInvalidPayload        = apperror.New(apperror.KindValidation, "invalid_payload")
	ErrInvalidEvent          = apperror.New(apperror.KindValidation, "invalid_event")
	ErrEventIgnored          = apperror.New(apperror.KindValidation, "event_ignored")
)

// AdapterConfig carries the merchant secrets an adapter needs.
type AdapterConfig struct {
	Provider          string
	APIv3Key          string
	PlatformPublicKey string
	PlatformSerial    string
	Now               func() time.Time
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Verifier checks that a delivery was signed by the gateway.
type Verifier interface {
	Verify(ctx context.Context, body []byte, headers http.Header) error
}

// Decryptor opens the encrypted resource of a verified envelope.
type Decryptor interface {
	Decrypt(ctx context.Context, resource EncryptedResource) ([]byte, error)
}

// Adapter turns a gateway's wire format into PaymentEvents.
type Adapter interface {
	Verifier
	Decryptor
	Parse(ctx context.Context, envelope Envelope, plaintext []byte) (*PaymentEvent, error)
}
