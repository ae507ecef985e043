package handlers

import (
	"errors"
	"net/http"

	"bursar/internal/fulfillment"
	"bursar/internal/payments"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
)

// HandleFulfillmentWebhook applies provider callbacks. A shipped event
// moves the order to fulfilled; everything else is acknowledged and
// dropped. The route sits behind service-token auth so only the provider
// relay can reach it.
func HandleFulfillmentWebhook(c middleware.Context) {
	var event fulfillment.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	if event.Type != fulfillment.EventShipped {
		logger.WithField("type", event.Type).Debug("Ignoring fulfillment webhook event")
		c.JSON(http.StatusOK, middleware.H{"status": "ignored"})
		return
	}

	orderID := event.Data.Order.ExternalID
	if orderID == "" {
		c.JSON(http.StatusBadRequest, middleware.H{"error": "missing external order id"})
		return
	}

	err := svc.MarkShipped(c.Request.Context(), orderID, event.ProviderOrderID())
	if errors.Is(err, payments.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "order not found"})
		return
	}
	if errors.Is(err, payments.ErrStaleStatus) || errors.Is(err, payments.ErrIllegalTransition) {
		c.JSON(http.StatusConflict, middleware.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("order_id", orderID).Error("Failed to apply shipped webhook")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "failed to apply webhook"})
		return
	}

	logger.WithFields(logging.Fields{
		"order_id": orderID,
		"carrier":  event.Data.Shipment.Carrier,
		"tracking": event.Data.Shipment.TrackingNumber,
	}).Info("Order shipped")
	c.JSON(http.StatusOK, middleware.H{"status": "ok"})
}
