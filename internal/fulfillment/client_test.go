package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"bursar/internal/payments"
)

func testOrder() *payments.Order {
	return &payments.Order{
		ID:          "order-1",
		OrderNumber: "ORD-20260301-ABCDEF12",
		CustomerID:  "cust-1",
		Status:      payments.OrderPaid,
		Items: []payments.OrderItem{
			{ProductRef: "variant-77", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
		},
		ShippingAddress: payments.ShippingAddress{
			Name:        "A Customer",
			Address1:    "1 Main St",
			City:        "Metropolis",
			Region:      "NY",
			PostalCode:  "12345",
			CountryCode: "US",
		},
	}
}

func TestCreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("unexpected auth header %q", got)
		}

		var payload orderPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if payload.ExternalID != "order-1" {
			t.Errorf("expected external_id order-1, got %s", payload.ExternalID)
		}
		if len(payload.Items) != 1 || payload.Items[0].ExternalVariantID != "variant-77" || payload.Items[0].Quantity != 2 {
			t.Errorf("unexpected items: %+v", payload.Items)
		}
		if payload.Recipient.CountryCode != "US" || payload.Recipient.Zip != "12345" {
			t.Errorf("unexpected recipient: %+v", payload.Recipient)
		}

		w.Write([]byte(`{"result":{"id":4242}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key-1")
	id, err := client.CreateOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if id != "4242" {
		t.Errorf("expected provider order 4242, got %s", id)
	}
}

func TestCreateOrderRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"result":{"id":7}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key-1")
	id, err := client.CreateOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("CreateOrder failed after retries: %v", err)
	}
	if id != "7" {
		t.Errorf("expected provider order 7, got %s", id)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("expected 3 attempts, got %d", hits)
	}
}

func TestCreateOrderClientErrorNotRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown variant"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key-1")
	_, err := client.CreateOrder(context.Background(), testOrder())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", hits)
	}
}

func TestWebhookEventDecoding(t *testing.T) {
	raw := `{
		"type": "package_shipped",
		"data": {
			"order": {"id": 4242, "external_id": "order-1"},
			"shipment": {"carrier": "USPS", "tracking_number": "940011", "tracking_url": "https://t.example/940011"}
		}
	}`

	var event WebhookEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("failed to decode webhook: %v", err)
	}
	if event.Type != EventShipped {
		t.Errorf("unexpected type %s", event.Type)
	}
	if event.ProviderOrderID() != "4242" {
		t.Errorf("expected provider order 4242, got %s", event.ProviderOrderID())
	}
	if event.Data.Order.ExternalID != "order-1" {
		t.Errorf("unexpected external id %s", event.Data.Order.ExternalID)
	}
}
