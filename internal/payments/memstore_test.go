package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testPayment(id, reference string) *PaymentRequest {
	now := time.Now()
	return &PaymentRequest{
		ID:                   id,
		Reference:            reference,
		CustomerID:           "cust-1",
		LinkedOrderID:        "order-" + id,
		RecipientAddress:     "merchant111",
		FiatAmount:           decimal.RequireFromString("10.00"),
		FiatCurrency:         "USD",
		Token:                "USDC",
		TokenAmountBaseUnits: 5000000,
		RateUsed:             decimal.RequireFromString("2.00"),
		Status:               PaymentPending,
		CreatedAt:            now,
		ExpiresAt:            now.Add(15 * time.Minute),
	}
}

func testOrder(id string) *Order {
	return &Order{
		ID:          id,
		OrderNumber: "ORD-20260301-ABCDEF12",
		CustomerID:  "cust-1",
		Status:      OrderPending,
		Items: []OrderItem{
			{ProductRef: "shirt", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
		CreatedAt: time.Now(),
	}
}

func TestMemStoreDuplicateReference(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.CreatePayment(ctx, testPayment("p1", "ref-a")); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	err := store.CreatePayment(ctx, testPayment("p2", "ref-a"))
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestMemStoreActivePaymentGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first := testPayment("p1", "ref-a")
	if err := store.CreatePayment(ctx, first); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	// A second request for the same order is blocked while the first is
	// pending, and stays blocked once it confirms.
	second := testPayment("p2", "ref-b")
	second.LinkedOrderID = first.LinkedOrderID
	if err := store.CreatePayment(ctx, second); !errors.Is(err, ErrActivePayment) {
		t.Errorf("expected ErrActivePayment while pending, got %v", err)
	}

	confirm := &ConfirmDetails{TransactionSignature: "sig1", ConfirmedAt: time.Now()}
	if err := store.UpdatePaymentStatus(ctx, "p1", PaymentPending, PaymentConfirmed, confirm); err != nil {
		t.Fatalf("confirm CAS failed: %v", err)
	}
	if err := store.CreatePayment(ctx, second); !errors.Is(err, ErrActivePayment) {
		t.Errorf("expected ErrActivePayment while confirmed, got %v", err)
	}
}

func TestMemStoreFailedPaymentFreesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	for i, terminal := range []PaymentStatus{PaymentFailed, PaymentExpired, PaymentCancelled} {
		p := testPayment("p1", "ref-a")
		p.ID = p.ID + string(rune('a'+i))
		p.Reference = p.Reference + string(rune('a'+i))
		p.LinkedOrderID = "order-shared"
		p.Status = terminal
		if err := store.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment(%s) failed: %v", terminal, err)
		}
	}

	// None of the terminal failures above holds the order, so a fresh
	// pending request goes through.
	fresh := testPayment("p2", "ref-fresh")
	fresh.LinkedOrderID = "order-shared"
	if err := store.CreatePayment(ctx, fresh); err != nil {
		t.Errorf("fresh request after terminal failures rejected: %v", err)
	}
}

func TestMemStorePaymentCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.CreatePayment(ctx, testPayment("p1", "ref-a")); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	confirm := &ConfirmDetails{TransactionSignature: "sig1", ConfirmedAt: time.Now()}
	if err := store.UpdatePaymentStatus(ctx, "p1", PaymentPending, PaymentConfirmed, confirm); err != nil {
		t.Fatalf("confirm CAS failed: %v", err)
	}

	// Second transition from pending must fail: the expected status is
	// stale.
	err := store.UpdatePaymentStatus(ctx, "p1", PaymentPending, PaymentExpired, nil)
	if !errors.Is(err, ErrStaleStatus) {
		t.Errorf("expected ErrStaleStatus, got %v", err)
	}

	p, err := store.PaymentByID(ctx, "p1")
	if err != nil {
		t.Fatalf("PaymentByID failed: %v", err)
	}
	if p.Status != PaymentConfirmed {
		t.Errorf("expected confirmed, got %s", p.Status)
	}
	if p.TransactionSignature != "sig1" || p.ConfirmedAt == nil {
		t.Error("confirm details not recorded")
	}
}

func TestMemStoreUnknownPayment(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if _, err := store.PaymentByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	err := store.UpdatePaymentStatus(ctx, "nope", PaymentPending, PaymentExpired, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreListExpiredPayments(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	fresh := testPayment("p1", "ref-a")
	stale := testPayment("p2", "ref-b")
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	done := testPayment("p3", "ref-c")
	done.ExpiresAt = time.Now().Add(-time.Minute)
	done.Status = PaymentConfirmed

	for _, p := range []*PaymentRequest{fresh, stale, done} {
		if err := store.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}
	}

	expired, err := store.ListExpiredPayments(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiredPayments failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "p2" {
		t.Errorf("expected only p2 expired, got %+v", expired)
	}
}

func TestMemStoreSetFulfillmentOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	o := testOrder("order-1")
	o.Status = OrderPaid
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if err := store.SetFulfillmentOrder(ctx, "order-1", "prov-42"); err != nil {
		t.Fatalf("SetFulfillmentOrder failed: %v", err)
	}

	// A second trigger must lose the CAS, whatever provider id it
	// carries.
	err := store.SetFulfillmentOrder(ctx, "order-1", "prov-43")
	if !errors.Is(err, ErrStaleStatus) {
		t.Errorf("expected ErrStaleStatus, got %v", err)
	}

	got, _ := store.OrderByID(ctx, "order-1")
	if got.FulfillmentProviderOrderID != "prov-42" {
		t.Errorf("expected prov-42, got %s", got.FulfillmentProviderOrderID)
	}
	if got.Status != OrderFulfillmentRequested {
		t.Errorf("expected fulfillment_requested, got %s", got.Status)
	}
}

func TestMemStoreOrderHistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.CreateOrder(ctx, testOrder("order-1")); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if err := store.UpdateOrderStatus(ctx, "order-1", OrderPending, OrderPaymentPending, "payment linked"); err != nil {
		t.Fatalf("UpdateOrderStatus failed: %v", err)
	}
	if err := store.AppendOrderNote(ctx, "order-1", "customer emailed"); err != nil {
		t.Fatalf("AppendOrderNote failed: %v", err)
	}

	o, err := store.OrderByID(ctx, "order-1")
	if err != nil {
		t.Fatalf("OrderByID failed: %v", err)
	}
	if len(o.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(o.History))
	}
	if o.History[1].Status != OrderPaymentPending || o.History[1].Note != "payment linked" {
		t.Errorf("unexpected transition entry: %+v", o.History[1])
	}
	if o.History[2].Status != OrderPaymentPending || o.History[2].Note != "customer emailed" {
		t.Errorf("note entry must keep the current status: %+v", o.History[2])
	}
}

func TestMemStoreCopyOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.CreatePayment(ctx, testPayment("p1", "ref-a")); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	p, _ := store.PaymentByID(ctx, "p1")
	p.Status = PaymentFailed

	again, _ := store.PaymentByID(ctx, "p1")
	if again.Status != PaymentPending {
		t.Error("mutating a read copy leaked into the store")
	}
}
