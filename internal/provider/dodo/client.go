package dodo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/entitled/internal/config"
)

const (
	apiBaseTest = "https://test.dodopayments.com"
	apiBaseLive = "https://live.dodopayments.com"
)

var ErrNotConfigured = errors.New("dodo api key not configured")

// Payment is the subset of the payment resource the success page shows.
type Payment struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Customer    struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Subscription is the subset of the subscription resource the success page
// shows.
type Subscription struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Customer       struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Client looks up payments and subscriptions against the Dodo API, used to
// resolve the customer behind a checkout return. Lookups are best effort and
// never gate entitlement state.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.Config) *Client {
	base := apiBaseTest
	if cfg.IsLive() {
		base = apiBaseLive
	}

	timeout := cfg.Dodo.LookupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Client{
		apiKey:  strings.TrimSpace(cfg.Dodo.APIKey),
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out Payment
	err := c.get(ctx, "/payments/"+paymentID, &out)
	return out, err
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	var out Subscription
	err := c.get(ctx, "/subscriptions/"+subscriptionID, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dodo api %s: status %d", path, resp.StatusCode)
	}

	return json.Unmarshal(body, out)
}
