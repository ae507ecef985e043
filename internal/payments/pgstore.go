package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PGStore is the Postgres-backed Store. Every status mutation is a
// compare-and-swap keyed on the caller's expected status so concurrent
// writers cannot double-apply a transition.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

const uniqueViolation = "23505"

// CreatePayment inserts a payment request. An order may carry at most one
// active (pending or confirmed) request at a time; a second create for the
// same order is rejected until the first one reaches a terminal failure.
func (s *PGStore) CreatePayment(ctx context.Context, p *PaymentRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if p.LinkedOrderID != "" {
		var active bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM payment_requests
				WHERE order_id = $1 AND status IN ($2, $3)
			)`, p.LinkedOrderID, string(PaymentPending), string(PaymentConfirmed)).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to check active payment requests: %w", err)
		}
		if active {
			return ErrActivePayment
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_requests (
			id, reference, customer_id, order_id, recipient_address,
			fiat_amount, fiat_currency, token, token_amount_base_units,
			rate_used, status, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Reference, p.CustomerID, p.LinkedOrderID, p.RecipientAddress,
		p.FiatAmount.String(), p.FiatCurrency, p.Token, p.TokenAmountBaseUnits,
		p.RateUsed.String(), string(p.Status), p.CreatedAt, p.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert payment request: %w", err)
	}
	return tx.Commit()
}

const paymentColumns = `
	id, reference, customer_id, order_id, recipient_address,
	fiat_amount, fiat_currency, token, token_amount_base_units,
	rate_used, status, transaction_signature, created_at, expires_at, confirmed_at`

func (s *PGStore) scanPayment(row interface {
	Scan(dest ...interface{}) error
}) (*PaymentRequest, error) {
	var p PaymentRequest
	var fiatAmount, rateUsed string
	var signature sql.NullString
	var confirmedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Reference, &p.CustomerID, &p.LinkedOrderID, &p.RecipientAddress,
		&fiatAmount, &p.FiatCurrency, &p.Token, &p.TokenAmountBaseUnits,
		&rateUsed, &p.Status, &signature, &p.CreatedAt, &p.ExpiresAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	if p.FiatAmount, err = decimal.NewFromString(fiatAmount); err != nil {
		return nil, fmt.Errorf("invalid stored fiat amount: %w", err)
	}
	if p.RateUsed, err = decimal.NewFromString(rateUsed); err != nil {
		return nil, fmt.Errorf("invalid stored rate: %w", err)
	}
	if signature.Valid {
		p.TransactionSignature = signature.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		p.ConfirmedAt = &t
	}
	return &p, nil
}

func (s *PGStore) PaymentByID(ctx context.Context, id string) (*PaymentRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+paymentColumns+` FROM payment_requests WHERE id = $1`, id)
	p, err := s.scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment request: %w", err)
	}
	return p, nil
}

func (s *PGStore) PaymentByReference(ctx context.Context, reference string) (*PaymentRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+paymentColumns+` FROM payment_requests WHERE reference = $1`, reference)
	p, err := s.scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment request: %w", err)
	}
	return p, nil
}

func (s *PGStore) listPayments(ctx context.Context, query string, args ...interface{}) ([]*PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment requests: %w", err)
	}
	defer rows.Close()

	var payments []*PaymentRequest
	for rows.Next() {
		p, err := s.scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment request: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *PGStore) ListPaymentsByStatus(ctx context.Context, status PaymentStatus) ([]*PaymentRequest, error) {
	return s.listPayments(ctx,
		`SELECT`+paymentColumns+` FROM payment_requests WHERE status = $1 ORDER BY created_at DESC`,
		string(status))
}

func (s *PGStore) ListPaymentsByCustomer(ctx context.Context, customerID string) ([]*PaymentRequest, error) {
	return s.listPayments(ctx,
		`SELECT`+paymentColumns+` FROM payment_requests WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID)
}

func (s *PGStore) ListExpiredPayments(ctx context.Context, now time.Time) ([]*PaymentRequest, error) {
	return s.listPayments(ctx,
		`SELECT`+paymentColumns+` FROM payment_requests WHERE status = $1 AND expires_at <= $2`,
		string(PaymentPending), now)
}

func (s *PGStore) UpdatePaymentStatus(ctx context.Context, id string, expected, next PaymentStatus, confirm *ConfirmDetails) error {
	var result sql.Result
	var err error
	if confirm != nil {
		result, err = s.db.ExecContext(ctx, `
			UPDATE payment_requests
			SET status = $1, transaction_signature = $2, confirmed_at = $3
			WHERE id = $4 AND status = $5`,
			string(next), confirm.TransactionSignature, confirm.ConfirmedAt, id, string(expected))
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE payment_requests SET status = $1 WHERE id = $2 AND status = $3`,
			string(next), id, string(expected))
	}
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, lookupErr := s.PaymentByID(ctx, id); lookupErr != nil {
			return lookupErr
		}
		return ErrStaleStatus
	}
	return nil
}

func (s *PGStore) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, status,
			ship_name, ship_address1, ship_address2, ship_city,
			ship_region, ship_postal_code, ship_country_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.OrderNumber, o.CustomerID, string(o.Status),
		o.ShippingAddress.Name, o.ShippingAddress.Address1, o.ShippingAddress.Address2,
		o.ShippingAddress.City, o.ShippingAddress.Region, o.ShippingAddress.PostalCode,
		o.ShippingAddress.CountryCode, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_ref, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			o.ID, item.ProductRef, item.Quantity, item.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, created_at)
		VALUES ($1, $2, $3, $4)`,
		o.ID, string(o.Status), "order created", o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order history: %w", err)
	}

	return tx.Commit()
}

func (s *PGStore) OrderByID(ctx context.Context, id string) (*Order, error) {
	var o Order
	var status string
	var providerOrderID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_number, customer_id, status, provider_order_id,
		       ship_name, ship_address1, ship_address2, ship_city,
		       ship_region, ship_postal_code, ship_country_code, created_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &status, &providerOrderID,
		&o.ShippingAddress.Name, &o.ShippingAddress.Address1, &o.ShippingAddress.Address2,
		&o.ShippingAddress.City, &o.ShippingAddress.Region, &o.ShippingAddress.PostalCode,
		&o.ShippingAddress.CountryCode, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	o.Status = OrderStatus(status)
	if providerOrderID.Valid {
		o.FulfillmentProviderOrderID = providerOrderID.String
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT product_ref, quantity, unit_price FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item OrderItem
		var unitPrice string
		if err := itemRows.Scan(&item.ProductRef, &item.Quantity, &unitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("invalid stored unit price: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	historyRows, err := s.db.QueryContext(ctx, `
		SELECT status, note, created_at FROM order_status_history
		WHERE order_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	defer historyRows.Close()
	for historyRows.Next() {
		var change StatusChange
		var changeStatus string
		if err := historyRows.Scan(&changeStatus, &change.Note, &change.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan order history: %w", err)
		}
		change.Status = OrderStatus(changeStatus)
		o.History = append(o.History, change)
	}
	return &o, historyRows.Err()
}

func (s *PGStore) UpdateOrderStatus(ctx context.Context, id string, expected, next OrderStatus, note string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`,
		string(next), id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStaleStatus
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, created_at)
		VALUES ($1, $2, $3, NOW())`,
		id, string(next), note)
	if err != nil {
		return fmt.Errorf("failed to insert order history: %w", err)
	}
	return tx.Commit()
}

// SetFulfillmentOrder records the provider's order id, guarded so a paid
// order is handed to the provider at most once.
func (s *PGStore) SetFulfillmentOrder(ctx context.Context, orderID, providerOrderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, provider_order_id = $2
		WHERE id = $3 AND status = $4 AND provider_order_id IS NULL`,
		string(OrderFulfillmentRequested), providerOrderID, orderID, string(OrderPaid))
	if err != nil {
		return fmt.Errorf("failed to set fulfillment order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStaleStatus
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, created_at)
		VALUES ($1, $2, $3, NOW())`,
		orderID, string(OrderFulfillmentRequested), "provider order "+providerOrderID)
	if err != nil {
		return fmt.Errorf("failed to insert order history: %w", err)
	}
	return tx.Commit()
}

// AppendOrderNote adds a history entry without changing the order status
func (s *PGStore) AppendOrderNote(ctx context.Context, orderID, note string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, created_at)
		SELECT id, status, $2, NOW() FROM orders WHERE id = $1`,
		orderID, note)
	if err != nil {
		return fmt.Errorf("failed to append order note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
