package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bursar/pkg/logging"
)

// Fulfiller is the external provider that turns a paid order into a
// shipment. CreateOrder returns the provider's own order id.
type Fulfiller interface {
	CreateOrder(ctx context.Context, order *Order) (string, error)
}

// Config carries the merchant-level settings of the payment service
type Config struct {
	RecipientAddress string
	Label            string
	Message          string
	FiatCurrency     string
	ExpiryWindow     time.Duration
}

// referenceAttempts bounds how many fresh references creation will try
// before giving up on a pathological store.
const referenceAttempts = 3

// Service is the one payment-request service every entry point goes
// through: it creates requests, applies verification verdicts to the
// order state machine and hands confirmed orders to fulfillment exactly
// once.
type Service struct {
	store     Store
	oracle    *Oracle
	verifier  *Verifier
	tokens    *TokenRegistry
	fulfiller Fulfiller
	logger    logging.Logger
	cfg       Config
	now       func() time.Time
}

// NewService wires the payment request service
func NewService(store Store, oracle *Oracle, verifier *Verifier, tokens *TokenRegistry, fulfiller Fulfiller, logger logging.Logger, cfg Config) *Service {
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = 15 * time.Minute
	}
	if cfg.FiatCurrency == "" {
		cfg.FiatCurrency = "USD"
	}
	return &Service{
		store:     store,
		oracle:    oracle,
		verifier:  verifier,
		tokens:    tokens,
		fulfiller: fulfiller,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CheckoutRequest creates an order and its first payment request
type CheckoutRequest struct {
	CustomerID      string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	Token           string
}

// CheckoutResult is everything a storefront needs to present a payment
type CheckoutResult struct {
	Order   *Order
	Payment *PaymentRequest
	URI     PaymentURI
	Quote   Quote
}

// CreateCheckout creates an order with a linked payment request: quote the
// fiat total into token base units, mint a fresh reference, build the
// wallet URI and persist both records.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidAmount)
	}

	now := s.now()
	order := &Order{
		ID:              uuid.New().String(),
		CustomerID:      req.CustomerID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		Status:          OrderPending,
		CreatedAt:       now,
	}
	order.OrderNumber = OrderNumberFor(order.ID, now)

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result, err := s.CreatePaymentForOrder(ctx, order, req.Token)
	if err != nil {
		return nil, err
	}

	next, err := NextOrderStatus(order.Status, EventLinkPayment)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateOrderStatus(ctx, order.ID, order.Status, next, "payment request "+result.Payment.ID); err != nil {
		return nil, fmt.Errorf("failed to link payment to order: %w", err)
	}
	order.Status = next
	result.Order = order
	return result, nil
}

// CreatePaymentForOrder quotes and stores a new payment request against an
// existing order. The quote is a snapshot; it is never recomputed for this
// request. A reference collision in the store is never retried with the
// same value — a fresh reference is generated each attempt.
func (s *Service) CreatePaymentForOrder(ctx context.Context, order *Order, token string) (*CheckoutResult, error) {
	fiatTotal := order.Total()
	quote, err := s.oracle.Quote(ctx, fiatTotal, s.cfg.FiatCurrency, token)
	if err != nil {
		return nil, err
	}
	tok, _ := s.tokens.Get(token)

	var payment *PaymentRequest
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		reference, err := GenerateReference()
		if err != nil {
			return nil, err
		}

		now := s.now()
		candidate := &PaymentRequest{
			ID:                   uuid.New().String(),
			Reference:            reference,
			CustomerID:           order.CustomerID,
			LinkedOrderID:        order.ID,
			RecipientAddress:     s.cfg.RecipientAddress,
			FiatAmount:           fiatTotal,
			FiatCurrency:         s.cfg.FiatCurrency,
			Token:                tok.Symbol,
			TokenAmountBaseUnits: quote.BaseUnits,
			RateUsed:             quote.RateUsed,
			Status:               PaymentPending,
			CreatedAt:            now,
			ExpiresAt:            now.Add(s.cfg.ExpiryWindow),
		}

		err = s.store.CreatePayment(ctx, candidate)
		if err == nil {
			payment = candidate
			break
		}
		if !errors.Is(err, ErrDuplicateReference) {
			return nil, fmt.Errorf("failed to create payment request: %w", err)
		}
		s.logger.WithField("order_id", order.ID).Warn("Reference collision, regenerating")
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: exhausted reference attempts", ErrDuplicateReference)
	}

	uri, err := BuildPaymentURI(URIParams{
		Recipient: payment.RecipientAddress,
		BaseUnits: payment.TokenAmountBaseUnits,
		Token:     tok,
		Reference: payment.Reference,
		Label:     s.cfg.Label,
		Message:   s.cfg.Message,
		Memo:      order.OrderNumber,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logging.Fields{
		"payment_id": payment.ID,
		"order_id":   order.ID,
		"token":      payment.Token,
		"base_units": payment.TokenAmountBaseUnits,
		"expires_at": payment.ExpiresAt,
	}).Info("Created payment request")

	return &CheckoutResult{Order: order, Payment: payment, URI: uri, Quote: quote}, nil
}

// VerifyPayment runs the verification engine for a submitted signature and
// applies the verdict to the payment request and its order. Exactly one
// concurrent caller wins the pending->confirmed CAS; the rest observe
// ErrAlreadyFinalized.
func (s *Service) VerifyPayment(ctx context.Context, paymentID, signature string) (Verdict, error) {
	verdict, err := s.verifier.Verify(ctx, paymentID, signature)
	if err != nil {
		return Verdict{}, err
	}

	switch verdict.Outcome {
	case OutcomeConfirmed:
		if err := s.applyConfirmed(ctx, paymentID, signature, verdict); err != nil {
			return Verdict{}, err
		}
	case OutcomeRejected:
		s.applyRejected(ctx, paymentID, verdict)
	}
	return verdict, nil
}

func (s *Service) applyConfirmed(ctx context.Context, paymentID, signature string, verdict Verdict) error {
	confirm := &ConfirmDetails{TransactionSignature: signature, ConfirmedAt: s.now()}
	err := s.store.UpdatePaymentStatus(ctx, paymentID, PaymentPending, PaymentConfirmed, confirm)
	if errors.Is(err, ErrStaleStatus) {
		return fmt.Errorf("%w: lost confirmation race", ErrAlreadyFinalized)
	}
	if err != nil {
		return fmt.Errorf("failed to confirm payment request: %w", err)
	}

	p, err := s.store.PaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}

	s.logger.WithFields(logging.Fields{
		"payment_id": paymentID,
		"order_id":   p.LinkedOrderID,
		"signature":  signature,
		"paid":       verdict.PaidBaseUnits,
		"expected":   p.TokenAmountBaseUnits,
	}).Info("Payment confirmed")

	note := fmt.Sprintf("payment %s confirmed, tx %s", paymentID, signature)
	if verdict.PaidBaseUnits > p.TokenAmountBaseUnits {
		// Overpayment is accepted; record the excess for bookkeeping.
		note = fmt.Sprintf("%s (overpaid by %d base units)", note, verdict.PaidBaseUnits-p.TokenAmountBaseUnits)
	}

	next, err := NextOrderStatus(OrderPaymentPending, EventPaymentConfirmed)
	if err != nil {
		return err
	}
	err = s.store.UpdateOrderStatus(ctx, p.LinkedOrderID, OrderPaymentPending, next, note)
	if errors.Is(err, ErrStaleStatus) {
		// The order already moved past payment_pending; a duplicate
		// verdict delivery is a no-op, never a second fulfillment.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	// Only the caller that won the payment_pending->paid transition gets
	// here, so fulfillment fires once per confirmed payment.
	s.triggerFulfillment(ctx, p.LinkedOrderID)
	return nil
}

func (s *Service) applyRejected(ctx context.Context, paymentID string, verdict Verdict) {
	// The request is terminal on rejection; the order stays
	// payment_pending so a fresh request can be attached.
	err := s.store.UpdatePaymentStatus(ctx, paymentID, PaymentPending, PaymentFailed, nil)
	if err != nil && !errors.Is(err, ErrStaleStatus) {
		s.logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to fail payment request")
		return
	}

	s.logger.WithFields(logging.Fields{
		"payment_id": paymentID,
		"reason":     verdict.Reason,
		"shortfall":  verdict.ShortfallBaseUnits,
	}).Info("Payment rejected")
}

// CancelPayment cancels a pending payment request
func (s *Service) CancelPayment(ctx context.Context, paymentID string) error {
	err := s.store.UpdatePaymentStatus(ctx, paymentID, PaymentPending, PaymentCancelled, nil)
	if errors.Is(err, ErrStaleStatus) {
		return fmt.Errorf("%w: not pending", ErrAlreadyFinalized)
	}
	return err
}

// ExpireSweep transitions every pending request past its deadline to
// expired. It complements the lazy check in Verify; between the two, no
// later-arriving confirmed verdict can resurrect an expired request.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	stale, err := s.store.ListExpiredPayments(ctx, s.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range stale {
		err := s.store.UpdatePaymentStatus(ctx, p.ID, PaymentPending, PaymentExpired, nil)
		if errors.Is(err, ErrStaleStatus) {
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to expire payment request")
			continue
		}
		expired++
		s.logger.WithFields(logging.Fields{
			"payment_id": p.ID,
			"order_id":   p.LinkedOrderID,
			"expired_at": p.ExpiresAt,
		}).Info("Expired payment request")
	}
	return expired, nil
}

// SupportedTokens returns the symbols the service settles in
func (s *Service) SupportedTokens() []string {
	return s.tokens.Symbols()
}
