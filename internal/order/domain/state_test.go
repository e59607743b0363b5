package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		current Status
		target  Status
		want    PlanKind
	}{
		{"pending to paid", KindPayment, StatusPending, StatusPaid, PlanApply},
		{"repeat paid", KindPayment, StatusPaid, StatusPaid, PlanNoop},
		{"paid after refund", KindPayment, StatusRefunded, StatusPaid, PlanNoop},
		{"pending after paid", KindPayment, StatusPaid, StatusPending, PlanNoop},
		{"refund pending", KindPayment, StatusPending, StatusRefunded, PlanReject},
		{"paid after failure", KindPayment, StatusFailed, StatusPaid, PlanReject},
		{"cancel paid", KindPayment, StatusPaid, StatusCancelled, PlanReject},
		{"export payment order", KindPayment, StatusPaid, StatusExported, PlanReject},
		{"export product", KindProduct, StatusPaid, StatusExported, PlanApply},
		{"paid after delivery", KindProduct, StatusDelivered, StatusPaid, PlanNoop},
		{"skip shipping", KindProduct, StatusPaid, StatusDelivered, PlanReject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Plan(tc.kind, tc.current, tc.target))
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminal(KindPayment, StatusRefunded))
	assert.True(t, IsTerminal(KindPayment, StatusFailed))
	assert.False(t, IsTerminal(KindPayment, StatusPaid))
	assert.True(t, IsTerminal(KindProduct, StatusDelivered))
	assert.False(t, ValidStatus(KindPayment, StatusShipped))
	assert.True(t, ValidStatus(KindProduct, StatusShipped))
}

func TestOrderIDPrefix(t *testing.T) {
	assert.Equal(t, "PO", KindPayment.IDPrefix())
	assert.Equal(t, "PR", KindProduct.IDPrefix())
}
