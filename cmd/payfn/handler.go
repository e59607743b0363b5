package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/smallbiznis/photoledger/internal/apperror"
	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	"github.com/smallbiznis/photoledger/internal/payment/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type ingestor interface {
	Apply(ctx context.Context, delivery paymentdomain.Delivery) (paymentdomain.Ack, error)
}

type webhookHandler struct {
	ingestor ingestor
	log      *zap.Logger
}

func newEcho(ing *webhook.Ingestor, log *zap.Logger) *echo.Echo {
	return newRouter(ing, log)
}

func newRouter(ing ingestor, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URI),
				zap.Int("status", v.Status),
				zap.String("request_id", v.RequestID),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			if v.Status >= http.StatusBadRequest {
				log.Warn("http_request", fields...)
				return nil
			}
			log.Info("http_request", fields...)
			return nil
		},
	}))

	h := &webhookHandler{ingestor: ing, log: log.Named("payfn")}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.POST("/", h.Handle)
	e.POST("/webhooks/payment", h.Handle)

	return e
}

// Handle answers the gateway. Verified deliveries are always acknowledged
// with SUCCESS; the backend is told about accepted events by the ingestor.
func (h *webhookHandler) Handle(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, paymentdomain.AckFail)
	}

	ctx, cancel := context.WithTimeout(req.Context(), 20*time.Second)
	defer cancel()

	ack, err := h.ingestor.Apply(ctx, paymentdomain.Delivery{Body: body, Headers: req.Header})
	if err != nil {
		status := http.StatusInternalServerError
		switch apperror.KindOf(err) {
		case apperror.KindAuthentication:
			status = http.StatusUnauthorized
		case apperror.KindValidation:
			status = http.StatusBadRequest
		}
		h.log.Warn("delivery refused", zap.Int("status", status), zap.Error(err))
		return c.JSON(status, ack)
	}
	return c.JSON(http.StatusOK, ack)
}
