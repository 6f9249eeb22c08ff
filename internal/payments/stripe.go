package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/models"
)

var (
	ErrInvalidCheckout        = errors.New("invalid checkout request")
	ErrInvalidSignature       = errors.New("invalid webhook signature")
	ErrWebhookNotConfigured   = errors.New("webhook secret not configured")
	ErrUnsupportedEventObject = errors.New("unsupported event object")
)

const EventCheckoutCompleted = "checkout.session.completed"

// StripeClient wraps stripe-go for hosted checkout and PaymentIntent
// hold/capture/cancel flows. Without a secret key it runs in mock mode and
// fabricates ids so the rest of the system keeps working locally.
type StripeClient struct {
	api           *client.API
	currency      string
	webhookSecret string
	log           *slog.Logger
}

func NewStripeClient(cfg config.StripeConfig, log *slog.Logger) *StripeClient {
	return NewStripeClientWithBackends(cfg, nil, log)
}

// NewStripeClientWithBackends lets tests point the SDK at a local server.
func NewStripeClientWithBackends(cfg config.StripeConfig, backends *stripe.Backends, log *slog.Logger) *StripeClient {
	if log == nil {
		log = slog.Default()
	}
	s := &StripeClient{
		currency:      strings.ToLower(cfg.Currency),
		webhookSecret: cfg.WebhookSecret,
		log:           log,
	}
	if s.currency == "" {
		s.currency = "usd"
	}
	if cfg.SecretKey != "" {
		s.api = &client.API{}
		s.api.Init(cfg.SecretKey, backends)
	} else {
		log.Warn("stripe secret key missing, payments run in mock mode")
	}
	return s
}

// Mock reports whether calls are answered locally.
func (s *StripeClient) Mock() bool { return s.api == nil }

func (s *StripeClient) Currency() string { return s.currency }

func validateCheckout(req models.CheckoutRequest) error {
	if len(req.LineItems) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidCheckout)
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return fmt.Errorf("%w: success and cancel urls are required", ErrInvalidCheckout)
	}
	for i, li := range req.LineItems {
		if li.Quantity < 1 {
			return fmt.Errorf("%w: line %d quantity %d", ErrInvalidCheckout, i, li.Quantity)
		}
		if li.PriceData.UnitAmount < 0 {
			return fmt.Errorf("%w: line %d unit amount %d", ErrInvalidCheckout, i, li.PriceData.UnitAmount)
		}
		if strings.TrimSpace(li.PriceData.ProductData.Name) == "" {
			return fmt.Errorf("%w: line %d has no name", ErrInvalidCheckout, i)
		}
	}
	return nil
}

// CreateCheckoutSession opens a hosted payment-mode checkout for the given
// line items. The user and order ids ride along as metadata so the webhook
// can attribute the payment.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (models.CheckoutSession, error) {
	if err := validateCheckout(req); err != nil {
		return models.CheckoutSession{}, err
	}
	if s.Mock() {
		id := "cs_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		sep := "?"
		if strings.Contains(req.SuccessURL, "?") {
			sep = "&"
		}
		s.log.Debug("mock checkout session", "session_id", id, "items", len(req.LineItems))
		return models.CheckoutSession{ID: id, URL: req.SuccessURL + sep + "session_id=" + id, OrderID: req.OrderID}, nil
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for _, li := range req.LineItems {
		currency := strings.ToLower(li.PriceData.Currency)
		if currency == "" {
			currency = s.currency
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.PriceData.ProductData.Name),
				},
				UnitAmount: stripe.Int64(li.PriceData.UnitAmount),
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}
	if req.UserID != "" {
		params.AddMetadata("userId", req.UserID)
		params.ClientReferenceID = stripe.String(req.UserID)
	}
	if req.OrderID != "" {
		params.AddMetadata("orderId", req.OrderID)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return models.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return models.CheckoutSession{ID: sess.ID, URL: sess.URL, OrderID: req.OrderID}, nil
}

// CompletedSession is the slice of a checkout session the webhook acts on.
type CompletedSession struct {
	ID              string
	AmountTotal     int64
	Currency        string
	UserID          string
	OrderID         string
	PaymentIntentID string
}

type WebhookEvent struct {
	ID      string
	Type    string
	Session *CompletedSession
}

// ParseWebhook verifies the Stripe-Signature header against the raw body and
// decodes the event. Only checkout.session.completed carries a Session.
func (s *StripeClient) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if s.webhookSecret == "" {
		return WebhookEvent{}, ErrWebhookNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}
	if ev.Data == nil {
		return out, ErrUnsupportedEventObject
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnsupportedEventObject, err)
	}
	cs := &CompletedSession{
		ID:          sess.ID,
		AmountTotal: sess.AmountTotal,
		Currency:    string(sess.Currency),
		UserID:      sess.Metadata["userId"],
		OrderID:     sess.Metadata["orderId"],
	}
	if cs.UserID == "" {
		cs.UserID = sess.ClientReferenceID
	}
	if sess.PaymentIntent != nil {
		cs.PaymentIntentID = sess.PaymentIntent.ID
	}
	out.Session = cs
	return out, nil
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amountCents int64, rideID string) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("hold amount must be positive, got %d", amountCents)
	}
	if s.Mock() {
		return "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("rideId", rideID)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("hold fare: %w", err)
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	if s.Mock() || paymentIntentID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	if s.Mock() || paymentIntentID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Cancel(paymentIntentID, params)
	return err
}
