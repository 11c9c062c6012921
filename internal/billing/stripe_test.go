package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func newTestClient() *Client {
	return NewClient(Config{
		SecretKey:     "sk_test",
		WebhookSecret: testWebhookSecret,
		PriceID:       "price_123",
		SuccessURL:    "https://app.test/ok",
		CancelURL:     "https://app.test/no",
	})
}

func signPayload(secret string, ts time.Time, payload []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", t, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookCheckoutCompleted(t *testing.T) {
	c := newTestClient()
	now := time.Now()
	c.now = func() time.Time { return now }

	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_123",
			"customer": "cus_42",
			"subscription": "sub_99",
			"mode": "subscription"
		}}
	}`)
	event, err := c.VerifyWebhook(payload, signPayload(testWebhookSecret, now, payload))
	require.NoError(t, err)
	assert.Equal(t, "checkout.session.completed", event.Type)
	assert.Equal(t, "cus_42", event.CustomerID)
	assert.Equal(t, "sub_99", event.SubscriptionID)
	assert.Equal(t, "subscription", event.Mode)
}

func TestVerifyWebhookSubscriptionObject(t *testing.T) {
	c := newTestClient()
	now := time.Now()
	c.now = func() time.Time { return now }

	// Subscription events carry the subscription id as the object id.
	payload := []byte(`{
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_99",
			"customer": "cus_42",
			"status": "active",
			"cancel_at_period_end": true
		}}
	}`)
	event, err := c.VerifyWebhook(payload, signPayload(testWebhookSecret, now, payload))
	require.NoError(t, err)
	assert.Equal(t, "sub_99", event.SubscriptionID)
	assert.True(t, event.CancelAtPeriodEnd)
	assert.Equal(t, "active", event.Status)
}

func TestVerifyWebhookBadSignature(t *testing.T) {
	c := newTestClient()
	now := time.Now()
	c.now = func() time.Time { return now }

	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`)

	_, err := c.VerifyWebhook(payload, signPayload("whsec_other", now, payload))
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = c.VerifyWebhook(payload, "garbage")
	assert.ErrorIs(t, err, ErrBadSignature)

	// Payload tampered after signing.
	sig := signPayload(testWebhookSecret, now, payload)
	_, err = c.VerifyWebhook([]byte(`{"type":"evil"}`), sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyWebhookStaleTimestamp(t *testing.T) {
	c := newTestClient()
	now := time.Now()
	c.now = func() time.Time { return now }

	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`)
	old := now.Add(-signatureTolerance - time.Minute)
	_, err := c.VerifyWebhook(payload, signPayload(testWebhookSecret, old, payload))
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestCreateCheckoutSession(t *testing.T) {
	var gotPath, gotAuth string
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_1","url":"https://checkout.stripe.test/cs_1"}`)
	}))
	defer srv.Close()

	c := newTestClient()
	c.baseURL = srv.URL

	url, err := c.CreateCheckoutSession(context.Background(), "cus_42")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", url)
	assert.Equal(t, "/v1/checkout/sessions", gotPath)
	assert.Equal(t, "sk_test", gotAuth)
	assert.Equal(t, []string{"cus_42"}, gotForm["customer"])
	assert.Equal(t, []string{"subscription"}, gotForm["mode"])
	assert.Equal(t, []string{"price_123"}, gotForm["line_items[0][price]"])
}

func TestStripeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"no such customer"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient()
	c.baseURL = srv.URL

	_, err := c.CreateCheckoutSession(context.Background(), "cus_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
