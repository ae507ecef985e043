package payments

import (
	"context"
	"fmt"

	"bursar/pkg/logging"
)

// triggerFulfillment calls the provider for a paid order. A provider
// failure is recorded on the order and surfaced for manual retry; it never
// reverts the paid status, because the payment is real regardless of
// downstream trouble.
func (s *Service) triggerFulfillment(ctx context.Context, orderID string) {
	order, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("Failed to load order for fulfillment")
		return
	}
	if order.FulfillmentProviderOrderID != "" {
		return
	}
	// The state machine, not the caller, decides whether this order can
	// be handed to the provider.
	if _, err := NextOrderStatus(order.Status, EventFulfillmentSent); err != nil {
		s.logger.WithField("order_id", orderID).WithField("status", order.Status).Warn("Order not eligible for fulfillment")
		return
	}

	providerOrderID, err := s.fulfiller.CreateOrder(ctx, order)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("Fulfillment call failed")
		if noteErr := s.store.AppendOrderNote(ctx, orderID, "fulfillment failed: "+err.Error()); noteErr != nil {
			s.logger.WithError(noteErr).WithField("order_id", orderID).Error("Failed to record fulfillment failure")
		}
		return
	}

	if err := s.store.SetFulfillmentOrder(ctx, orderID, providerOrderID); err != nil {
		// Lost a race with another trigger; the provider call that won
		// is the one of record.
		s.logger.WithError(err).WithFields(logging.Fields{
			"order_id":          orderID,
			"provider_order_id": providerOrderID,
		}).Warn("Fulfillment order not recorded")
		return
	}

	s.logger.WithFields(logging.Fields{
		"order_id":          orderID,
		"provider_order_id": providerOrderID,
	}).Info("Fulfillment requested")
}

// RetryFulfillment re-attempts the provider call for a paid order whose
// earlier trigger failed. The provider-order-id CAS keeps it at-most-once.
func (s *Service) RetryFulfillment(ctx context.Context, orderID string) error {
	order, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != OrderPaid || order.FulfillmentProviderOrderID != "" {
		return fmt.Errorf("%w: order is %s", ErrStaleStatus, order.Status)
	}
	s.triggerFulfillment(ctx, orderID)
	return nil
}

/// MarkShipped applies the provider's shipped signal:
// fulfillment_requested -> fulfilled.
func (s *Service) MarkShipped(ctx context.Context, orderID, providerOrderID string) error {
	order, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if providerOrderID != "" && order.FulfillmentProviderOrderID != providerOrderID {
		return fmt.Errorf("%w: provider order id mismatch", ErrStaleStatus)
	}
	next, err := NextOrderStatus(order.Status, EventShipped)
	if err != nil {
		if order.Status == OrderFulfilled {
			return nil
		}
		return err
	}
	return s.store.UpdateOrderStatus(ctx, orderID, order.Status, next, "provider shipped "+providerOrderID)
}
