// Package fulfillment submits paid orders to the print-on-demand provider
// and decodes its shipped webhooks.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"bursar/internal/payments"
)

// APIError is a non-2xx response from the provider
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fulfillment provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the fulfillment provider's order API. Transient
// failures (5xx, network) are retried with backoff; 4xx responses are
// not, since resubmitting a rejected order cannot help.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  retrypolicy.RetryPolicy[*http.Response]
}

type Option func(*Client)

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	c.policy = retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(500*time.Millisecond, 5*time.Second).
		WithJitterFactor(0.1).
		WithMaxRetries(3).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		}).
		Build()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

var _ payments.Fulfiller = (*Client)(nil)

type recipientPayload struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type itemPayload struct {
	ExternalVariantID string `json:"external_variant_id"`
	Quantity          int    `json:"quantity"`
}

type orderPayload struct {
	ExternalID string           `json:"external_id"`
	Recipient  recipientPayload `json:"recipient"`
	Items      []itemPayload    `json:"items"`
}

type orderResponse struct {
	Result struct {
		ID json.Number `json:"id"`
	} `json:"result"`
}

// CreateOrder submits the order and returns the provider's order id. The
// order id is our own order id as external_id, so a duplicate submission
// is rejected by the provider as well as by our own store guard.
func (c *Client) CreateOrder(ctx context.Context, order *payments.Order) (string, error) {
	payload := orderPayload{
		ExternalID: order.ID,
		Recipient: recipientPayload{
			Name:        order.ShippingAddress.Name,
			Address1:    order.ShippingAddress.Address1,
			Address2:    order.ShippingAddress.Address2,
			City:        order.ShippingAddress.City,
			StateCode:   order.ShippingAddress.Region,
			CountryCode: order.ShippingAddress.CountryCode,
			Zip:         order.ShippingAddress.PostalCode,
		},
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, itemPayload{
			ExternalVariantID: item.ProductRef,
			Quantity:          item.Quantity,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order: %w", err)
	}

	resp, err := failsafe.With(c.policy).
		WithContext(ctx).
		Get(func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/orders", bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			resp, err := c.client.Do(req)
			if err == nil && resp.StatusCode >= 500 {
				// Drain so the transport can reuse the connection before
				// the retry.
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
			return resp, err
		})
	if err != nil {
		return "", fmt.Errorf("fulfillment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode fulfillment response: %w", err)
	}
	providerOrderID := decoded.Result.ID.String()
	if providerOrderID == "" || providerOrderID == "0" {
		return "", fmt.Errorf("fulfillment response missing order id")
	}
	return providerOrderID, nil
}

// WebhookEvent is the provider's callback payload. Only shipment events
// are acted on; everything else is logged and dropped.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			ID         json.Number `json:"id"`
			ExternalID string      `json:"external_id"`
		} `json:"order"`
		Shipment struct {
			Carrier        string `json:"carrier"`
			TrackingNumber string `json:"tracking_number"`
			TrackingURL    string `json:"tracking_url"`
		} `json:"shipment"`
	} `json:"data"`
}

const EventShipped = "package_shipped"

// ProviderOrderID normalizes the numeric order id to a string
func (e *WebhookEvent) ProviderOrderID() string {
	id := e.Data.Order.ID.String()
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return ""
	}
	return id
}
