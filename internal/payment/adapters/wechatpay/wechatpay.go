package wechatpay

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
)

const (
	ProviderName = "wechatpay"

	headerTimestamp = "Wechatpay-Timestamp"
	headerNonce     = "Wechatpay-Nonce"
	headerSignature = "Wechatpay-Signature"
	headerSerial    = "Wechatpay-Serial"

	algorithmAESGCM = "AEAD_AES_256_GCM"
	maxClockSkew    = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	key := []byte(cfg.APIv3Key)
	if len(key) != 32 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	publicKey, err := ParsePublicKey(cfg.PlatformPublicKey)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		apiV3Key:  key,
		publicKey: publicKey,
		serial:    strings.TrimSpace(cfg.PlatformSerial),
		now:       now,
	}, nil
}

// Adapter verifies and opens WeChat Pay v3 notifications.
type Adapter struct {
	apiV3Key  []byte
	publicKey *rsa.PublicKey
	serial    string
	now       func() time.Time
}

// Verify checks the platform RSA-SHA256 signature over
// "timestamp\nnonce\nbody\n" and rejects stale timestamps.
func (a *Adapter) Verify(ctx context.Context, body []byte, headers http.Header) error {
	timestamp := strings.TrimSpace(headers.Get(headerTimestamp))
	nonce := strings.TrimSpace(headers.Get(headerNonce))
	signature := strings.TrimSpace(headers.Get(headerSignature))
	if timestamp == "" || nonce == "" || signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if a.serial != "" && !strings.EqualFold(strings.TrimSpace(headers.Get(headerSerial)), a.serial) {
		return paymentdomain.ErrInvalidSignature
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	skew := a.now().Sub(time.Unix(seconds, 0))
	if skew > maxClockSkew || skew < -maxClockSkew {
		return paymentdomain.ErrInvalidSignature
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	digest := sha256.Sum256([]byte(SignedMessage(timestamp, nonce, body)))
	if err := rsa.VerifyPKCS1v15(a.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Decrypt(ctx context.Context, resource paymentdomain.EncryptedResource) ([]byte, error) {
	if resource.Algorithm != algorithmAESGCM {
		return nil, paymentdomain.ErrDecryptFailed
	}
	ciphertext, err := base64.StdEncoding.DecodeString(resource.Ciphertext)
	if err != nil {
		return nil, paymentdomain.ErrDecryptFailed
	}
	block, err := aes.NewCipher(a.apiV3Key)
	if err != nil {
		return nil, paymentdomain.ErrDecryptFailed
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(resource.Nonce))
	if err != nil {
		return nil, paymentdomain.ErrDecryptFailed
	}
	plain, err := gcm.Open(nil, []byte(resource.Nonce), ciphertext, []byte(resource.AssociatedData))
	if err != nil {
		return nil, paymentdomain.ErrDecryptFailed
	}
	return plain, nil
}

func (a *Adapter) Parse(ctx context.Context, envelope paymentdomain.Envelope, plaintext []byte) (*paymentdomain.PaymentEvent, error) {
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	switch strings.TrimSpace(envelope.EventType) {
	case paymentdomain.EventTypeTransactionSuccess:
		return a.parseTransaction(envelope, plaintext)
	case paymentdomain.EventTypeRefundSuccess:
		return a.parseRefund(envelope, plaintext)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) parseTransaction(envelope paymentdomain.Envelope, plaintext []byte) (*paymentdomain.PaymentEvent, error) {
	var res transactionResource
	if err := json.Unmarshal(plaintext, &res); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(res.TradeState) != "SUCCESS" {
		return nil, paymentdomain.ErrEventIgnored
	}
	if strings.TrimSpace(res.OutTradeNo) == "" || res.Amount.Total <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return &paymentdomain.PaymentEvent{
		Provider:      ProviderName,
		EventID:       envelope.ID,
		EventType:     envelope.EventType,
		Kind:          paymentdomain.EventKindPaid,
		OrderID:       strings.TrimSpace(res.OutTradeNo),
		TransactionID: strings.TrimSpace(res.TransactionID),
		PayerOpenID:   strings.TrimSpace(res.Payer.OpenID),
		Amount:        res.Amount.Total,
		OccurredAt:    parseTime(res.SuccessTime, envelope.CreateTime),
		Resource:      plaintext,
	}, nil
}

func (a *Adapter) parseRefund(envelope paymentdomain.Envelope, plaintext []byte) (*paymentdomain.PaymentEvent, error) {
	var res refundResource
	if err := json.Unmarshal(plaintext, &res); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(res.RefundStatus) != "SUCCESS" {
		return nil, paymentdomain.ErrEventIgnored
	}
	refundID := strings.TrimSpace(res.OutRefundNo)
	if refundID == "" {
		refundID = strings.TrimSpace(res.RefundID)
	}
	if strings.TrimSpace(res.OutTradeNo) == "" || refundID == "" || res.Amount.Refund <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return &paymentdomain.PaymentEvent{
		Provider:      ProviderName,
		EventID:       envelope.ID,
		EventType:     envelope.EventType,
		Kind:          paymentdomain.EventKindRefund,
		OrderID:       strings.TrimSpace(res.OutTradeNo),
		TransactionID: strings.TrimSpace(res.TransactionID),
		RefundID:      refundID,
		Amount:        res.Amount.Refund,
		OccurredAt:    parseTime(res.SuccessTime, envelope.CreateTime),
		Resource:      plaintext,
	}, nil
}

// SignedMessage is the string the platform signs for a notification.
func SignedMessage(timestamp, nonce string, body []byte) string {
	return timestamp + "\n" + nonce + "\n" + string(body) + "\n"
}

// ParsePublicKey accepts a PKIX public key or a certificate in PEM form.
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(raw)))
	if block == nil {
		return nil, paymentdomain.ErrInvalidConfig
	}
	var key any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, paymentdomain.ErrInvalidConfig
		}
		key = cert.PublicKey
	default:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, paymentdomain.ErrInvalidConfig
		}
		key = parsed
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return rsaKey, nil
}

func parseTime(values ...string) time.Time {
	for _, value := range values {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(value)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type transactionResource struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	SuccessTime   string `json:"success_time"`
	Payer         struct {
		OpenID string `json:"openid"`
	} `json:"payer"`
	Amount struct {
		Total      int64  `json:"total"`
		PayerTotal int64  `json:"payer_total"`
		Currency   string `json:"currency"`
	} `json:"amount"`
}

type refundResource struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	OutRefundNo   string `json:"out_refund_no"`
	RefundID      string `json:"refund_id"`
	RefundStatus  string `json:"refund_status"`
	SuccessTime   string `json:"success_time"`
	Amount        struct {
		Total  int64 `json:"total"`
		Refund int64 `json:"refund"`
	} `json:"amount"`
}
