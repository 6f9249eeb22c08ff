package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"

	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
)

func checkoutRequest() models.CheckoutRequest {
	return models.CheckoutRequest{
		LineItems: []models.LineItem{{
			PriceData: models.PriceData{Currency: "usd", ProductData: models.ProductData{Name: "USB-C Charger"}, UnitAmount: 1299},
			Quantity:  2,
		}},
		SuccessURL: "https://airbear.me/bodega/success",
		CancelURL:  "https://airbear.me/bodega",
		UserID:     "u1",
		OrderID:    "o1",
	}
}

func TestMockCheckoutSession(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{Currency: "USD"}, logging.Discard())
	require.True(t, c.Mock())
	assert.Equal(t, "usd", c.Currency())

	sess, err := c.CreateCheckoutSession(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID, "cs_mock_"))
	assert.Equal(t, "https://airbear.me/bodega/success?session_id="+sess.ID, sess.URL)
	assert.Equal(t, "o1", sess.OrderID)
}

func TestCheckoutValidation(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{}, logging.Discard())
	ctx := context.Background()

	empty := checkoutRequest()
	empty.LineItems = nil
	_, err := c.CreateCheckoutSession(ctx, empty)
	assert.ErrorIs(t, err, ErrInvalidCheckout)

	zeroQty := checkoutRequest()
	zeroQty.LineItems[0].Quantity = 0
	_, err = c.CreateCheckoutSession(ctx, zeroQty)
	assert.ErrorIs(t, err, ErrInvalidCheckout)

	noURL := checkoutRequest()
	noURL.CancelURL = ""
	_, err = c.CreateCheckoutSession(ctx, noURL)
	assert.ErrorIs(t, err, ErrInvalidCheckout)
}

func TestCheckoutSessionAgainstAPI(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/checkout/sessions") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_123","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_123"}`)
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	c := NewStripeClientWithBackends(config.StripeConfig{SecretKey: "sk_test_x", Currency: "usd"},
		&stripe.Backends{API: backend, Connect: backend, Uploads: backend}, logging.Discard())
	require.False(t, c.Mock())

	sess, err := c.CreateCheckoutSession(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_123", sess.URL)

	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "1299", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "USB-C Charger", form["line_items[0][price_data][product_data][name]"])
	assert.Equal(t, "2", form["line_items[0][quantity]"])
	assert.Equal(t, "u1", form["metadata[userId]"])
	assert.Equal(t, "o1", form["metadata[orderId]"])
}

func sign(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func completedEvent() []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "api_version": %q,
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_1",
    "object": "checkout.session",
    "amount_total": 2598,
    "currency": "usd",
    "metadata": {"userId": "u1", "orderId": "o1"},
    "payment_intent": "pi_1"
  }}
}`, stripe.APIVersion))
}

func TestParseWebhook(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{WebhookSecret: "whsec_test"}, logging.Discard())
	payload := completedEvent()

	ev, err := c.ParseWebhook(payload, sign("whsec_test", payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventCheckoutCompleted, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "cs_1", ev.Session.ID)
	assert.EqualValues(t, 2598, ev.Session.AmountTotal)
	assert.Equal(t, "u1", ev.Session.UserID)
	assert.Equal(t, "o1", ev.Session.OrderID)
	assert.Equal(t, "pi_1", ev.Session.PaymentIntentID)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{WebhookSecret: "whsec_test"}, logging.Discard())
	payload := completedEvent()

	_, err := c.ParseWebhook(payload, sign("whsec_other", payload, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = c.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := []byte(strings.Replace(string(payload), "2598", "1", 1))
	_, err = c.ParseWebhook(tampered, sign("whsec_test", payload, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = c.ParseWebhook(payload, sign("whsec_test", payload, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature, "stale timestamps fall outside tolerance")
}

func TestParseWebhookWithoutSecret(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{}, logging.Discard())
	_, err := c.ParseWebhook(completedEvent(), "t=1,v1=00")
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}

func TestParseWebhookOtherEventsHaveNoSession(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{WebhookSecret: "whsec_test"}, logging.Discard())
	payload := []byte(fmt.Sprintf(`{"id":"evt_2","object":"event","api_version":%q,"type":"payment_intent.created","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`, stripe.APIVersion))

	ev, err := c.ParseWebhook(payload, sign("whsec_test", payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "payment_intent.created", ev.Type)
	assert.Nil(t, ev.Session)
}

func TestMockHoldCaptureCancel(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{}, logging.Discard())
	ctx := context.Background()

	id, err := c.Hold(ctx, 625, "r1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "pi_mock_"))
	assert.NoError(t, c.Capture(ctx, id))
	assert.NoError(t, c.Cancel(ctx, id))

	_, err = c.Hold(ctx, 0, "r1")
	assert.Error(t, err)
}
