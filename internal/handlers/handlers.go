package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"bursar/internal/payments"
	"bursar/pkg/middleware"
)

type checkoutItem struct {
	ProductRef string `json:"product_ref" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required"`
	UnitPrice  string `json:"unit_price" binding:"required"`
}

type checkoutRequest struct {
	CustomerID string         `json:"customer_id" binding:"required"`
	Token      string         `json:"token" binding:"required"`
	Items      []checkoutItem `json:"items" binding:"required"`
	Shipping   struct {
		Name        string `json:"name" binding:"required"`
		Address1    string `json:"address1" binding:"required"`
		Address2    string `json:"address2"`
		City        string `json:"city" binding:"required"`
		Region      string `json:"region"`
		PostalCode  string `json:"postal_code" binding:"required"`
		CountryCode string `json:"country_code" binding:"required"`
	} `json:"shipping" binding:"required"`
}

// CreateCheckout creates an order and its payment request and returns the
// wallet URI the customer pays against
func CreateCheckout(c middleware.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	items := make([]payments.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil || price.Sign() <= 0 || item.Quantity <= 0 {
			c.JSON(http.StatusBadRequest, middleware.H{"error": "invalid item price or quantity"})
			return
		}
		items = append(items, payments.OrderItem{
			ProductRef: item.ProductRef,
			Quantity:   item.Quantity,
			UnitPrice:  price,
		})
	}

	result, err := svc.CreateCheckout(c.Request.Context(), payments.CheckoutRequest{
		CustomerID: req.CustomerID,
		Token:      req.Token,
		Items:      items,
		ShippingAddress: payments.ShippingAddress{
			Name:        req.Shipping.Name,
			Address1:    req.Shipping.Address1,
			Address2:    req.Shipping.Address2,
			City:        req.Shipping.City,
			Region:      req.Shipping.Region,
			PostalCode:  req.Shipping.PostalCode,
			CountryCode: req.Shipping.CountryCode,
		},
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, payments.ErrInvalidAmount), errors.Is(err, payments.ErrUnsupportedToken):
			status = http.StatusBadRequest
		case errors.Is(err, payments.ErrRateUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, payments.ErrActivePayment):
			status = http.StatusConflict
		}
		logger.WithError(err).Error("Checkout failed")
		c.JSON(status, middleware.H{"error": err.Error()})
		return
	}

	metrics.PaymentRequestsCreated.WithLabelValues(result.Payment.Token).Inc()
	c.JSON(http.StatusCreated, middleware.H{
		"order": middleware.H{
			"id":           result.Order.ID,
			"order_number": result.Order.OrderNumber,
			"status":       result.Order.Status,
			"total":        result.Order.Total().String(),
		},
		"payment": paymentJSON(result.Payment),
		"uri":     result.URI.URI,
		"qr":      result.URI.QRPayload,
		"quote": middleware.H{
			"base_units":     result.Quote.BaseUnits,
			"display_amount": result.Quote.DisplayAmount.String(),
			"rate_used":      result.Quote.RateUsed.String(),
			"quoted_at":      result.Quote.QuotedAt,
		},
	})
}

type verifyRequest struct {
	Signature string `json:"signature" binding:"required"`
	Wait      bool   `json:"wait"`
}

// VerifyPayment checks a submitted transaction signature against the
// payment request. With wait=true it polls until the verdict settles or
// the request expires.
func VerifyPayment(c middleware.Context) {
	paymentID := c.Param("id")
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	started := time.Now()
	var verdict payments.Verdict
	var err error
	if req.Wait {
		verdict, err = poller.Await(c.Request.Context(), paymentID, req.Signature)
	} else {
		verdict, err = svc.VerifyPayment(c.Request.Context(), paymentID, req.Signature)
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, payments.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, payments.ErrAlreadyFinalized):
			status = http.StatusConflict
		case errors.Is(err, payments.ErrPaymentExpired):
			status = http.StatusGone
		}
		c.JSON(status, middleware.H{"error": err.Error()})
		return
	}

	outcome := string(verdict.Outcome)
	metrics.VerificationVerdicts.WithLabelValues(outcome).Inc()
	metrics.VerificationDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())

	resp := middleware.H{
		"outcome": verdict.Outcome,
		"reason":  verdict.Reason,
	}
	if verdict.Outcome == payments.OutcomeConfirmed {
		resp["paid_base_units"] = verdict.PaidBaseUnits
	}
	if verdict.ShortfallBaseUnits > 0 {
		resp["shortfall_base_units"] = verdict.ShortfallBaseUnits
	}
	c.JSON(http.StatusOK, resp)
}

// GetPayment returns one payment request by id
func GetPayment(c middleware.Context) {
	p, err := store.PaymentByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, payments.ErrNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "payment request not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load payment request")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "failed to load payment request"})
		return
	}
	c.JSON(http.StatusOK, paymentJSON(p))
}

// ListPayments lists payment requests filtered by status or customer
func ListPayments(c middleware.Context) {
	ctx := c.Request.Context()
	var list []*payments.PaymentRequest
	var err error

	switch {
	case c.Query("customer_id") != "":
		list, err = store.ListPaymentsByCustomer(ctx, c.Query("customer_id"))
	case c.Query("status") != "":
		list, err = store.ListPaymentsByStatus(ctx, payments.PaymentStatus(c.Query("status")))
	default:
		list, err = store.ListPaymentsByStatus(ctx, payments.PaymentPending)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to list payment requests")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "failed to list payment requests"})
		return
	}

	out := make([]middleware.H, 0, len(list))
	for _, p := range list {
		out = append(out, paymentJSON(p))
	}
	c.JSON(http.StatusOK, middleware.H{"payments": out})
}

// CancelPayment cancels a pending payment request
func CancelPayment(c middleware.Context) {
	err := svc.CancelPayment(c.Request.Context(), c.Param("id"))
	if errors.Is(err, payments.ErrNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "payment request not found"})
		return
	}
	if errors.Is(err, payments.ErrAlreadyFinalized) {
		c.JSON(http.StatusConflict, middleware.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to cancel payment request")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "failed to cancel payment request"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"status": payments.PaymentCancelled})
}

// GetOrder returns an order with its items and status history
func GetOrder(c middleware.Context) {
	o, err := store.OrderByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, payments.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "order not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load order")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "failed to load order"})
		return
	}

	history := make([]middleware.H, 0, len(o.History))
	for _, h := range o.History {
		history = append(history, middleware.H{
			"status":    h.Status,
			"timestamp": h.Timestamp,
			"note":      h.Note,
		})
	}
	items := make([]middleware.H, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, middleware.H{
			"product_ref": item.ProductRef,
			"quantity":    item.Quantity,
			"unit_price":  item.UnitPrice.String(),
		})
	}

	c.JSON(http.StatusOK, middleware.H{
		"id":                o.ID,
		"order_number":      o.OrderNumber,
		"customer_id":       o.CustomerID,
		"status":            o.Status,
		"total":             o.Total().String(),
		"items":             items,
		"history":           history,
		"provider_order_id": o.FulfillmentProviderOrderID,
		"created_at":        o.CreatedAt,
	})
}

// RetryFulfillment re-attempts the provider call for a paid order whose
// first trigger failed
func RetryFulfillment(c middleware.Context) {
	err := svc.RetryFulfillment(c.Request.Context(), c.Param("id"))
	if errors.Is(err, payments.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "order not found"})
		return
	}
	if errors.Is(err, payments.ErrStaleStatus) {
		c.JSON(http.StatusConflict, middleware.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to retry fulfillment")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "failed to retry fulfillment"})
		return
	}
	metrics.FulfillmentTriggers.WithLabelValues("retry").Inc()
	c.JSON(http.StatusAccepted, middleware.H{"status": "fulfillment retried"})
}

// GetSupportedTokens lists the tokens checkout accepts
func GetSupportedTokens(c middleware.Context) {
	c.JSON(http.StatusOK, middleware.H{"tokens": svc.SupportedTokens()})
}

func paymentJSON(p *payments.PaymentRequest) middleware.H {
	out := middleware.H{
		"id":                      p.ID,
		"reference":               p.Reference,
		"order_id":                p.LinkedOrderID,
		"customer_id":             p.CustomerID,
		"recipient":               p.RecipientAddress,
		"fiat_amount":             p.FiatAmount.String(),
		"fiat_currency":           p.FiatCurrency,
		"token":                   p.Token,
		"token_amount_base_units": p.TokenAmountBaseUnits,
		"rate_used":               p.RateUsed.String(),
		"status":                  p.Status,
		"created_at":              p.CreatedAt,
		"expires_at":              p.ExpiresAt,
	}
	if p.TransactionSignature != "" {
		out["transaction_signature"] = p.TransactionSignature
	}
	if p.ConfirmedAt != nil {
		out["confirmed_at"] = p.ConfirmedAt
	}
	return out
}
