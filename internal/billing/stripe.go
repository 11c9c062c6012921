// Package billing is a thin Stripe client covering the subscription
// lifecycle this service needs: create a customer, start a checkout
// session, cancel at period end, and verify webhook events.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature   = errors.New("webhook signature verification failed")
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

const signatureTolerance = 5 * time.Minute

type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
	httpClient    *http.Client
	now           func() time.Time
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:       "https://api.stripe.com",
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		priceID:       cfg.PriceID,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now: time.Now,
	}
}

type customerResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[user_id]", userID)
	var out customerResponse
	if err := c.postForm(ctx, "/v1/customers", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type checkoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession starts a subscription checkout for the configured
// price and returns the hosted payment page URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, customerID string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", c.priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", c.successURL)
	form.Set("cancel_url", c.cancelURL)
	var out checkoutResponse
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// CancelAtPeriodEnd flags the subscription to lapse instead of renewing.
// The tier flip to Expiring happens when the webhook confirms it.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	return c.postForm(ctx, "/v1/subscriptions/"+subscriptionID, form, nil)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.secretKey, "")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("stripe status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

// Event is the decoded subset of a Stripe webhook event that the tier
// lifecycle cares about.
type Event struct {
	Type              string
	CustomerID        string
	SubscriptionID    string
	Mode              string
	Status            string
	CancelAtPeriodEnd bool
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string `json:"id"`
			Customer          string `json:"customer"`
			Subscription      string `json:"subscription"`
			Mode              string `json:"mode"`
			Status            string `json:"status"`
			CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook checks the Stripe-Signature header against the payload and
// decodes the event. Signature scheme: HMAC-SHA256 over "<t>.<payload>"
// with the webhook secret, compared in constant time, with a bounded
// timestamp skew.
func (c *Client) VerifyWebhook(payload []byte, sigHeader string) (Event, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}
	if d := c.now().Sub(time.Unix(timestamp, 0)); d > signatureTolerance || d < -signatureTolerance {
		return Event{}, ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	verified := false
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			verified = true
			break
		}
	}
	if !verified {
		return Event{}, ErrBadSignature
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	ev := Event{
		Type:              env.Type,
		CustomerID:        env.Data.Object.Customer,
		SubscriptionID:    env.Data.Object.Subscription,
		Mode:              env.Data.Object.Mode,
		Status:            env.Data.Object.Status,
		CancelAtPeriodEnd: env.Data.Object.CancelAtPeriodEnd,
	}
	if ev.SubscriptionID == "" && strings.HasPrefix(env.Data.Object.ID, "sub_") {
		ev.SubscriptionID = env.Data.Object.ID
	}
	return ev, nil
}

func parseSignatureHeader(header string) (timestamp int64, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, ErrBadSignature
			}
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, ErrBadSignature
	}
	return timestamp, signatures, nil
}
