package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment request
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentExpired   PaymentStatus = "expired"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition may leave this status
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// Active reports whether a request in this status still claims its order:
// a pending request may yet confirm, a confirmed one already did. An order
// with an active request may not take on another.
func (s PaymentStatus) Active() bool {
	return s == PaymentPending || s == PaymentConfirmed
}

// PaymentRequest is one payment attempt for an order. Everything except
// status, transaction_signature and confirmed_at is immutable after creation;
// the quoted price is locked at creation and never recomputed.
type PaymentRequest struct {
	ID                   string
	Reference            string
	CustomerID           string
	LinkedOrderID        string
	RecipientAddress     string
	FiatAmount           decimal.Decimal
	FiatCurrency         string
	Token                string
	TokenAmountBaseUnits int64
	RateUsed             decimal.Decimal
	Status               PaymentStatus
	TransactionSignature string
	CreatedAt            time.Time
	ExpiresAt            time.Time
	ConfirmedAt          *time.Time
}

// Integrity and lookup errors. These are fatal to the operation that hit
// them: callers regenerate a fresh reference or re-read current status
// rather than retrying with the same arguments.
var (
	ErrNotFound           = errors.New("payment request not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrDuplicateReference = errors.New("reference already in use")
	ErrStaleStatus        = errors.New("status changed since read")
	ErrAlreadyFinalized   = errors.New("payment request already finalized")
	ErrPaymentExpired     = errors.New("payment request expired")
	ErrActivePayment      = errors.New("order already has an active payment request")
)

// Input errors, rejected synchronously and never stored
var (
	ErrInvalidAmount    = errors.New("fiat amount must be positive")
	ErrUnsupportedToken = errors.New("unsupported token")
)

// ErrRateUnavailable is a dependency error: no current exchange rate could
// be obtained. It is propagated, not retried internally.
var ErrRateUnavailable = errors.New("exchange rate unavailable")
