package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"bursar/pkg/logging"
)

// errIndeterminate drives the retry policy: an indeterminate verdict is
// retried, everything else is final.
var errIndeterminate = errors.New("verdict indeterminate")

// Poller re-runs verification for a payment request at a fixed interval
// until the verdict settles or the request's expiry deadline passes. It is
// the synchronous "wait for confirmation" path; callers that do not want
// to block use a single VerifyPayment call instead.
type Poller struct {
	service  *Service
	store    Store
	logger   logging.Logger
	interval time.Duration
	maxPolls int
}

// NewPoller builds a poller with the given polling interval and attempt
// ceiling
func NewPoller(service *Service, store Store, logger logging.Logger, interval time.Duration, maxPolls int) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 20
	}
	return &Poller{
		service:  service,
		store:    store,
		logger:   logger,
		interval: interval,
		maxPolls: maxPolls,
	}
}

// Await verifies the signature repeatedly until the verdict is no longer
// indeterminate, the attempt ceiling is hit, or the request expires. If
// the ceiling is reached without a settled verdict the request is expired
// so no later observation can flip it.
func (p *Poller) Await(ctx context.Context, paymentID, signature string) (Verdict, error) {
	payment, err := p.store.PaymentByID(ctx, paymentID)
	if err != nil {
		return Verdict{}, err
	}

	// Polling never outlives the payment window.
	deadline := payment.ExpiresAt
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	policy := retrypolicy.NewBuilder[Verdict]().
		WithDelay(p.interval).
		WithMaxRetries(p.maxPolls - 1).
		HandleIf(func(_ Verdict, err error) bool {
			return errors.Is(err, errIndeterminate)
		}).
		Build()

	verdict, err := failsafe.With(policy).
		WithContext(pollCtx).
		Get(func() (Verdict, error) {
			v, err := p.service.VerifyPayment(pollCtx, paymentID, signature)
			if err != nil {
				return Verdict{}, err
			}
			if v.Outcome == OutcomeIndeterminate {
				return v, fmt.Errorf("%w: %s", errIndeterminate, v.Reason)
			}
			return v, nil
		})

	if err == nil {
		return verdict, nil
	}

	if errors.Is(err, errIndeterminate) || errors.Is(err, context.DeadlineExceeded) {
		p.logger.WithFields(logging.Fields{
			"payment_id": paymentID,
			"signature":  signature,
			"max_polls":  p.maxPolls,
		}).Warn("Verification did not settle, expiring payment request")

		expErr := p.store.UpdatePaymentStatus(ctx, paymentID, PaymentPending, PaymentExpired, nil)
		if expErr != nil && !errors.Is(expErr, ErrStaleStatus) {
			return Verdict{}, expErr
		}
		return Verdict{}, fmt.Errorf("%w: verification did not settle", ErrPaymentExpired)
	}
	return Verdict{}, err
}
