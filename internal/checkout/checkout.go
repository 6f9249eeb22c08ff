package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/airbear/internal/cart"
	"github.com/example/airbear/internal/models"
)

var (
	ErrUnauthenticated = errors.New("sign in to check out")
	ErrNoRedirectURL   = errors.New("checkout session has no url")
)

// SessionCreator requests a hosted checkout session.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (models.CheckoutSession, error)
}

// Redirector sends the user to the hosted checkout page.
type Redirector interface {
	Redirect(url string) error
}

type RedirectFunc func(url string) error

func (f RedirectFunc) Redirect(url string) error { return f(url) }

type Options struct {
	Cart       *cart.Cart
	Sessions   SessionCreator
	Redirector Redirector
	Currency   string
	SuccessURL string
	CancelURL  string
	Log        *slog.Logger
}

// Flow turns the cart into a hosted checkout. The cart is only cleared once
// the redirect went through.
type Flow struct {
	opts Options
}

func New(opts Options) *Flow {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Flow{opts: opts}
}

// Enabled reports whether there is anything to pay for.
func (f *Flow) Enabled() bool { return f.opts.Cart.Len() > 0 }

// Request builds the session request for user from the cart contents.
func (f *Flow) Request(user *models.User, orderID string) models.CheckoutRequest {
	req := models.CheckoutRequest{
		LineItems:  f.opts.Cart.LineItems(f.opts.Currency),
		SuccessURL: f.opts.SuccessURL,
		CancelURL:  f.opts.CancelURL,
		OrderID:    orderID,
	}
	if user != nil {
		req.UserID = user.ID
	}
	return req
}

// Checkout is a no-op on an empty cart. Without a user it returns
// ErrUnauthenticated so the caller can send them to sign in. Any failure to
// obtain a session url leaves the cart intact and does not redirect.
func (f *Flow) Checkout(ctx context.Context, user *models.User, orderID string) (models.CheckoutSession, error) {
	if !f.Enabled() {
		return models.CheckoutSession{}, nil
	}
	if user == nil || user.ID == "" {
		return models.CheckoutSession{}, ErrUnauthenticated
	}
	sess, err := f.opts.Sessions.CreateCheckoutSession(ctx, f.Request(user, orderID))
	if err != nil {
		f.opts.Log.Warn("create checkout session failed", "user_id", user.ID, "error", err)
		return models.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	if sess.URL == "" {
		return models.CheckoutSession{}, ErrNoRedirectURL
	}
	if err := f.opts.Redirector.Redirect(sess.URL); err != nil {
		return sess, fmt.Errorf("redirect to checkout: %w", err)
	}
	f.opts.Cart.Clear()
	return sess, nil
}
