package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/photoledger/internal/apperror"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsIdentifiers(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("openid", "o-123"),
		attribute.String("http.route", "/v1/orders"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("expected only http.route, got %v", attrs)
	}
}

func TestSafeErrorKeepsClassificationOnly(t *testing.T) {
	err := fmt.Errorf("decrypt resource for openid o-123: %w", apperror.New(apperror.KindAuthentication, "decrypt_failed"))
	got := SafeError(err)
	if got.Error() != "authentication_error:decrypt_failed" {
		t.Fatalf("unexpected safe error %q", got.Error())
	}
	if SafeError(errors.New("raw")).Error() != "internal_error" {
		t.Fatalf("expected internal_error for unclassified error")
	}
}
