package payments

import (
	"context"
	"time"
)

// ConfirmDetails is recorded exactly once, on the pending->confirmed CAS
type ConfirmDetails struct {
	TransactionSignature string
	ConfirmedAt          time.Time
}

// Store is the authoritative table of payment requests and orders and the
// single synchronization point of the engine. Every status mutation is a
// compare-and-swap against the caller's last-read status: a stale expected
// status fails with ErrStaleStatus instead of silently overwriting, which
// is the only locking discipline the engine needs even under concurrent
// HTTP handlers, pollers and webhook deliveries.
type Store interface {
	// CreatePayment stores a new payment request. A reference collision
	// fails with ErrDuplicateReference; the caller must generate a fresh
	// reference rather than retry the same value. An order that already
	// carries a pending or confirmed request fails with ErrActivePayment.
	CreatePayment(ctx context.Context, p *PaymentRequest) error
	PaymentByID(ctx context.Context, id string) (*PaymentRequest, error)
	PaymentByReference(ctx context.Context, reference string) (*PaymentRequest, error)
	ListPaymentsByStatus(ctx context.Context, status PaymentStatus) ([]*PaymentRequest, error)
	ListPaymentsByCustomer(ctx context.Context, customerID string) ([]*PaymentRequest, error)
	// UpdatePaymentStatus transitions id from expected to next. confirm is
	// non-nil only for the pending->confirmed transition and is written
	// atomically with it.
	UpdatePaymentStatus(ctx context.Context, id string, expected, next PaymentStatus, confirm *ConfirmDetails) error
	// ListExpiredPayments returns pending requests whose deadline passed
	ListExpiredPayments(ctx context.Context, now time.Time) ([]*PaymentRequest, error)

	CreateOrder(ctx context.Context, o *Order) error
	OrderByID(ctx context.Context, id string) (*Order, error)
	// UpdateOrderStatus CAS-transitions the order and appends a history
	// entry {next, now, note} in the same atomic step.
	UpdateOrderStatus(ctx context.Context, id string, expected, next OrderStatus, note string) error
	// SetFulfillmentOrder records the provider order id and moves
	// paid->fulfillment_requested in one CAS. It fails with ErrStaleStatus
	// if the order is not paid or a provider order id is already set,
	// which is what makes the fulfillment trigger at-most-once.
	SetFulfillmentOrder(ctx context.Context, orderID, providerOrderID string) error
	// AppendOrderNote adds a history entry at the current status without
	// transitioning (e.g. recording a failed fulfillment call).
	AppendOrderNote(ctx context.Context, orderID, note string) error
}
