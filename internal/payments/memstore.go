package payments

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and single-process dev
// deployments. It implements the same CAS semantics as the Postgres store;
// nothing ever hands out its internal maps.
type MemStore struct {
	mu          sync.Mutex
	payments    map[string]*PaymentRequest
	byReference map[string]string
	orders      map[string]*Order
	now         func() time.Time
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		payments:    make(map[string]*PaymentRequest),
		byReference: make(map[string]string),
		orders:      make(map[string]*Order),
		now:         time.Now,
	}
}

func copyPayment(p *PaymentRequest) *PaymentRequest {
	cp := *p
	if p.ConfirmedAt != nil {
		t := *p.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}

func copyOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	cp.History = append([]StatusChange(nil), o.History...)
	return &cp
}

// CreatePayment stores a payment request, rejecting reference collisions
// and orders that already carry an active request
func (s *MemStore) CreatePayment(_ context.Context, p *PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.LinkedOrderID != "" {
		for _, existing := range s.payments {
			if existing.LinkedOrderID == p.LinkedOrderID && existing.Status.Active() {
				return ErrActivePayment
			}
		}
	}
	if _, exists := s.byReference[p.Reference]; exists {
		return ErrDuplicateReference
	}
	if _, exists := s.payments[p.ID]; exists {
		return ErrDuplicateReference
	}

	s.payments[p.ID] = copyPayment(p)
	s.byReference[p.Reference] = p.ID
	return nil
}

// PaymentByID returns a copy of the payment request with the given id
func (s *MemStore) PaymentByID(_ context.Context, id string) (*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPayment(p), nil
}

// PaymentByReference returns a copy of the payment request with the given reference
func (s *MemStore) PaymentByReference(_ context.Context, reference string) (*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byReference[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPayment(s.payments[id]), nil
}

// ListPaymentsByStatus returns all payment requests in the given status
func (s *MemStore) ListPaymentsByStatus(_ context.Context, status PaymentStatus) ([]*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*PaymentRequest
	for _, p := range s.payments {
		if p.Status == status {
			out = append(out, copyPayment(p))
		}
	}
	return out, nil
}

// ListPaymentsByCustomer returns all payment requests for the given customer
func (s *MemStore) ListPaymentsByCustomer(_ context.Context, customerID string) ([]*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*PaymentRequest
	for _, p := range s.payments {
		if p.CustomerID == customerID {
			out = append(out, copyPayment(p))
		}
	}
	return out, nil
}

// UpdatePaymentStatus CAS-transitions a payment request
func (s *MemStore) UpdatePaymentStatus(_ context.Context, id string, expected, next PaymentStatus, confirm *ConfirmDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != expected {
		return ErrStaleStatus
	}

	p.Status = next
	if confirm != nil {
		p.TransactionSignature = confirm.TransactionSignature
		t := confirm.ConfirmedAt
		p.ConfirmedAt = &t
	}
	return nil
}

// ListExpiredPayments returns pending payment requests past their deadline
func (s *MemStore) ListExpiredPayments(_ context.Context, now time.Time) ([]*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*PaymentRequest
	for _, p := range s.payments {
		if p.Status == PaymentPending && now.After(p.ExpiresAt) {
			out = append(out, copyPayment(p))
		}
	}
	return out, nil
}

// CreateOrder stores a new order with an initial history entry
func (s *MemStore) CreateOrder(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return ErrDuplicateReference
	}
	cp := copyOrder(o)
	if len(cp.History) == 0 {
		cp.History = append(cp.History, StatusChange{Status: cp.Status, Timestamp: s.now(), Note: "created"})
	}
	s.orders[o.ID] = cp
	return nil
}

// OrderByID returns a copy of the order with the given id
func (s *MemStore) OrderByID(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

// UpdateOrderStatus CAS-transitions an order and appends to its history
func (s *MemStore) UpdateOrderStatus(_ context.Context, id string, expected, next OrderStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != expected {
		return ErrStaleStatus
	}

	o.Status = next
	o.History = append(o.History, StatusChange{Status: next, Timestamp: s.now(), Note: note})
	return nil
}

// SetFulfillmentOrder records the provider order id under CAS
func (s *MemStore) SetFulfillmentOrder(_ context.Context, orderID, providerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != OrderPaid || o.FulfillmentProviderOrderID != "" {
		return ErrStaleStatus
	}

	o.FulfillmentProviderOrderID = providerOrderID
	o.Status = OrderFulfillmentRequested
	o.History = append(o.History, StatusChange{
		Status:    OrderFulfillmentRequested,
		Timestamp: s.now(),
		Note:      "fulfillment order " + providerOrderID,
	})
	return nil
}

// AppendOrderNote records a history entry without changing status
func (s *MemStore) AppendOrderNote(_ context.Context, orderID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.History = append(o.History, StatusChange{Status: o.Status, Timestamp: s.now(), Note: note})
	return nil
}
