package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of a storefront order
type OrderStatus string

const (
	OrderPending              OrderStatus = "pending"
	OrderPaymentPending       OrderStatus = "payment_pending"
	OrderPaid                 OrderStatus = "paid"
	OrderFulfillmentRequested OrderStatus = "fulfillment_requested"
	OrderFulfilled            OrderStatus = "fulfilled"
	OrderCancelled            OrderStatus = "cancelled"
	OrderFailed               OrderStatus = "failed"
)

// OrderEvent is an input to the order state machine
type OrderEvent string

const (
	EventLinkPayment      OrderEvent = "link_payment"
	EventPaymentConfirmed OrderEvent = "payment_confirmed"
	EventFulfillmentSent  OrderEvent = "fulfillment_sent"
	EventShipped          OrderEvent = "shipped"
	EventCancel           OrderEvent = "cancel"
	EventFail             OrderEvent = "fail"
)

// ErrIllegalTransition is returned when an event is not legal in the
// order's current status.
var ErrIllegalTransition = errors.New("illegal order transition")

// orderTransitions is the authoritative transition table. Anything not
// listed here is illegal; terminal states have no outgoing edges.
var orderTransitions = map[OrderStatus]map[OrderEvent]OrderStatus{
	OrderPending: {
		EventLinkPayment: OrderPaymentPending,
		EventCancel:      OrderCancelled,
	},
	OrderPaymentPending: {
		EventPaymentConfirmed: OrderPaid,
		EventCancel:           OrderCancelled,
		EventFail:             OrderFailed,
	},
	OrderPaid: {
		EventFulfillmentSent: OrderFulfillmentRequested,
	},
	OrderFulfillmentRequested: {
		EventShipped: OrderFulfilled,
	},
}

// NextOrderStatus resolves the state machine: (status, event) -> status.
// Illegal combinations return ErrIllegalTransition and the unchanged
// status; callers deciding idempotent no-ops (e.g. a duplicate confirmed
// verdict on an order already paid) branch on the current status first.
func NextOrderStatus(current OrderStatus, event OrderEvent) (OrderStatus, error) {
	edges, ok := orderTransitions[current]
	if ok {
		if next, ok := edges[event]; ok {
			return next, nil
		}
	}
	return current, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, current)
}

// OrderItem is one line of an order, immutable after creation
type OrderItem struct {
	ProductRef string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// StatusChange is one entry of an order's append-only history
type StatusChange struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
}

// ShippingAddress is the destination the fulfillment provider ships to
type ShippingAddress struct {
	Name        string
	Address1    string
	Address2    string
	City        string
	Region      string
	PostalCode  string
	CountryCode string
}

// Order is a storefront order. Items are immutable; status moves only
// through the transition table and every move appends to History.
type Order struct {
	ID                         string
	OrderNumber                string
	CustomerID                 string
	Items                      []OrderItem
	ShippingAddress            ShippingAddress
	Status                     OrderStatus
	FulfillmentProviderOrderID string
	History                    []StatusChange
	CreatedAt                  time.Time
}

// Total sums the order lines in the order's fiat currency
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// OrderNumberFor derives the human-readable order number from the order id
// and creation time.
func OrderNumberFor(id string, createdAt time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", createdAt.UTC().Format("20060102"), short)
}
