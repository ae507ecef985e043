package payments

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNextOrderStatus(t *testing.T) {
	tests := []struct {
		current OrderStatus
		event   OrderEvent
		want    OrderStatus
	}{
		{OrderPending, EventLinkPayment, OrderPaymentPending},
		{OrderPending, EventCancel, OrderCancelled},
		{OrderPaymentPending, EventPaymentConfirmed, OrderPaid},
		{OrderPaymentPending, EventCancel, OrderCancelled},
		{OrderPaymentPending, EventFail, OrderFailed},
		{OrderPaid, EventFulfillmentSent, OrderFulfillmentRequested},
		{OrderFulfillmentRequested, EventShipped, OrderFulfilled},
	}
	for _, tt := range tests {
		got, err := NextOrderStatus(tt.current, tt.event)
		if err != nil {
			t.Errorf("%s + %s: unexpected error %v", tt.current, tt.event, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s + %s: expected %s, got %s", tt.current, tt.event, tt.want, got)
		}
	}
}

func TestNextOrderStatusIllegal(t *testing.T) {
	tests := []struct {
		current OrderStatus
		event   OrderEvent
	}{
		{OrderPending, EventPaymentConfirmed},
		{OrderPending, EventShipped},
		{OrderPaid, EventPaymentConfirmed},
		{OrderPaid, EventCancel},
		{OrderFulfilled, EventShipped},
		{OrderCancelled, EventLinkPayment},
		{OrderFailed, EventPaymentConfirmed},
	}
	for _, tt := range tests {
		if _, err := NextOrderStatus(tt.current, tt.event); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s + %s: expected ErrIllegalTransition, got %v", tt.current, tt.event, err)
		}
	}
}

func TestOrderTotal(t *testing.T) {
	o := Order{Items: []OrderItem{
		{ProductRef: "shirt", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
		{ProductRef: "mug", Quantity: 1, UnitPrice: decimal.RequireFromString("9.50")},
	}}
	if got := o.Total(); !got.Equal(decimal.RequireFromString("49.48")) {
		t.Errorf("expected total 49.48, got %s", got)
	}
}

func TestOrderNumberFor(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := "f6b21a18-9df1-4f0e-8df0-2b67a44c9da1"

	num := OrderNumberFor(id, created)
	if !strings.HasPrefix(num, "ORD-20260314-") {
		t.Errorf("unexpected order number prefix: %s", num)
	}
	if num != OrderNumberFor(id, created) {
		t.Error("order number is not deterministic for the same order")
	}
	if num == OrderNumberFor("other-id", created) {
		t.Error("different orders produced the same order number")
	}
}
