package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubIngestor struct {
	bodies []string
}

func (s *stubIngestor) Apply(_ context.Context, d paymentdomain.Delivery) (paymentdomain.Ack, error) {
	s.bodies = append(s.bodies, string(d.Body))
	switch d.Headers.Get("X-Signature") {
	case "valid":
		return paymentdomain.AckSuccess, nil
	case "garbled":
		return paymentdomain.AckFail, paymentdomain.ErrInvalidPayload
	default:
		return paymentdomain.AckFail, paymentdomain.ErrInvalidSignature
	}
}

func TestHandleAcknowledgesVerifiedDelivery(t *testing.T) {
	ing := &stubIngestor{}
	e := newRouter(ing, zap.NewNop())

	cases := []struct {
		signature string
		status    int
		code      string
	}{
		{"valid", http.StatusOK, "SUCCESS"},
		{"forged", http.StatusUnauthorized, "FAIL"},
		{"garbled", http.StatusBadRequest, "FAIL"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"evt-1"}`))
		req.Header.Set("X-Signature", tc.signature)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, tc.status, rec.Code, tc.signature)
		assert.Contains(t, rec.Body.String(), `"code":"`+tc.code+`"`, tc.signature)
	}
	require.Len(t, ing.bodies, 3)
	assert.Equal(t, `{"id":"evt-1"}`, ing.bodies[0])
}

func TestAppConfigMapping(t *testing.T) {
	t.Setenv("GATEWAY_API_V3_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("GATEWAY_PLATFORM_PUBLIC_KEY", "pem")
	t.Setenv("GATEWAY_PROVIDER", " WechatPay ")
	t.Setenv("NOTIFIER_URL", "https://backend.example.com")
	t.Setenv("NOTIFIER_TIMEOUT", "5s")
	t.Setenv("PORT", "8081")

	fn, err := loadConfig()
	require.NoError(t, err)
	cfg := fn.appConfig()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "wechatpay", cfg.Gateway.Provider)
	assert.Equal(t, "https://backend.example.com", cfg.Notifier.URL)
	assert.Equal(t, "5s", cfg.Notifier.Timeout.String())
	assert.Equal(t, "postgres", cfg.DBType)
}

func TestLoadConfigRequiresGatewayKeys(t *testing.T) {
	t.Setenv("GATEWAY_API_V3_KEY", "")
	t.Setenv("GATEWAY_PLATFORM_PUBLIC_KEY", "")
	_, err := loadConfig()
	assert.Error(t, err)
}
