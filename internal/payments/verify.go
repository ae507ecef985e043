package payments

import (
	"context"
	"fmt"
	"time"

	"bursar/pkg/logging"
)

// Outcome is the tri-state result of a verification attempt
type Outcome string

const (
	OutcomeConfirmed     Outcome = "confirmed"
	OutcomeRejected      Outcome = "rejected"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Verdict reports what a verification attempt concluded about a submitted
// transaction. Indeterminate is not an error: the ledger has simply not
// seen the transaction yet and the caller should retry with backoff.
type Verdict struct {
	Outcome            Outcome
	Reason             string
	PaidBaseUnits      int64
	ShortfallBaseUnits int64
	Recipient          string
}

// TxRecord is the ledger collaborator's view of one transaction.
// BalanceDeltas is parallel to Accounts and holds the net transferred
// amount per account in base units of the requested settlement token.
type TxRecord struct {
	Found         bool
	Succeeded     bool
	Accounts      []string
	BalanceDeltas []int64
	ReferenceKeys []string
}

// Ledger is the external query service the engine verifies against.
// tokenMint selects which token's balance movements to report; empty
// means the chain's native token.
type Ledger interface {
	GetTransaction(ctx context.Context, signature, tokenMint string) (TxRecord, error)
}

// Verifier checks submitted transaction signatures against the ledger
type Verifier struct {
	store  Store
	ledger Ledger
	tokens *TokenRegistry
	logger logging.Logger
	now    func() time.Time
}

// NewVerifier creates a verification engine over the given store and ledger
func NewVerifier(store Store, ledger Ledger, tokens *TokenRegistry, logger logging.Logger) *Verifier {
	return &Verifier{store: store, ledger: ledger, tokens: tokens, logger: logger, now: time.Now}
}

// Verify checks one submitted signature against a payment request.
//
// Typed errors cover the request-side failures: ErrNotFound,
// ErrAlreadyFinalized and ErrPaymentExpired (the latter performs the
// pending->expired transition as a side effect). Everything the ledger
// says about the transaction itself comes back as a Verdict.
func (v *Verifier) Verify(ctx context.Context, paymentID, signature string) (Verdict, error) {
	p, err := v.store.PaymentByID(ctx, paymentID)
	if err != nil {
		return Verdict{}, err
	}
	if p.Status != PaymentPending {
		return Verdict{}, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, p.Status)
	}

	if v.now().After(p.ExpiresAt) {
		// Lazy expiry: the deadline is enforced on access, not only by
		// the sweep. A concurrent transition losing this CAS is fine.
		if err := v.store.UpdatePaymentStatus(ctx, p.ID, PaymentPending, PaymentExpired, nil); err != nil && err != ErrStaleStatus {
			v.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to expire payment request")
		}
		return Verdict{}, fmt.Errorf("%w: deadline %s", ErrPaymentExpired, p.ExpiresAt.UTC().Format(time.RFC3339))
	}

	tok, ok := v.tokens.Get(p.Token)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: %s", ErrUnsupportedToken, p.Token)
	}

	tx, err := v.ledger.GetTransaction(ctx, signature, tok.Mint)
	if err != nil {
		// Dependency error, not a rejection: the caller retries later.
		v.logger.WithError(err).WithFields(logging.Fields{
			"payment_id": p.ID,
			"signature":  signature,
		}).Warn("Ledger lookup failed")
		return Verdict{Outcome: OutcomeIndeterminate, Reason: "ledger unreachable"}, nil
	}
	if !tx.Found {
		return Verdict{Outcome: OutcomeIndeterminate, Reason: "transaction not yet visible on ledger"}, nil
	}
	if !tx.Succeeded {
		return Verdict{Outcome: OutcomeRejected, Reason: "on-chain failure"}, nil
	}

	paid, ok := deltaFor(tx, p.RecipientAddress)
	if !ok {
		return Verdict{Outcome: OutcomeRejected, Reason: "recipient not involved in transaction"}, nil
	}
	if paid < p.TokenAmountBaseUnits {
		return Verdict{
			Outcome:            OutcomeRejected,
			Reason:             "underpayment",
			PaidBaseUnits:      paid,
			ShortfallBaseUnits: p.TokenAmountBaseUnits - paid,
			Recipient:          p.RecipientAddress,
		}, nil
	}

	// Reference binding: without it an attacker could replay any valid
	// transfer of the right amount against this request.
	if !containsKey(tx.ReferenceKeys, p.Reference) {
		return Verdict{Outcome: OutcomeRejected, Reason: "reference not present in transaction"}, nil
	}

	return Verdict{
		Outcome:       OutcomeConfirmed,
		PaidBaseUnits: paid,
		Recipient:     p.RecipientAddress,
	}, nil
}

func deltaFor(tx TxRecord, account string) (int64, bool) {
	for i, a := range tx.Accounts {
		if a == account && i < len(tx.BalanceDeltas) {
			return tx.BalanceDeltas[i], true
		}
	}
	return 0, false
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
