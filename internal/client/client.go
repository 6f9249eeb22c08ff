package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/querycache"
)

// APIError is a non-2xx answer from the AirBear API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("api %d: %s", e.Status, e.Message) }

// Client calls the AirBear HTTP API. Reads of rides, orders and available
// vehicles go through the query cache when one is set, so the realtime
// tracker's invalidations force the next call to refetch.
type Client struct {
	base  string
	http  *http.Client
	token func() string
	cache *querycache.Cache
	log   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithToken sets the bearer token source, read on every request.
func WithToken(fn func() string) Option { return func(c *Client) { c.token = fn } }

func WithCache(qc *querycache.Cache) Option { return func(c *Client) { c.cache = qc } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(raw []byte, fallback string) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fallback
}

func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// cached serves path from the query cache under key.
func cached[T any](ctx context.Context, c *Client, key, path string) (T, error) {
	if c.cache == nil {
		return get[T](ctx, c, path)
	}
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return get[T](ctx, c, path)
	})
}

func (c *Client) Spots(ctx context.Context) ([]models.Spot, error) {
	return get[[]models.Spot](ctx, c, "/api/spots")
}

func (c *Client) Quote(ctx context.Context, from, to string) (models.Quote, error) {
	q := url.Values{"from": {from}, "to": {to}}
	return get[models.Quote](ctx, c, "/api/quote?"+q.Encode())
}

func (c *Client) Vehicles(ctx context.Context) ([]models.Vehicle, error) {
	return get[[]models.Vehicle](ctx, c, "/api/rickshaws")
}

// AvailableVehicles lists vehicles that are available and not charging.
func (c *Client) AvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return cached[[]models.Vehicle](ctx, c, "/api/rickshaws/available", "/api/rickshaws/available")
}

func (c *Client) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]models.NearbyVehicle, error) {
	q := url.Values{
		"lat":       {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lng":       {strconv.FormatFloat(lng, 'f', -1, 64)},
		"radius_km": {strconv.FormatFloat(radiusKm, 'f', -1, 64)},
	}
	return get[[]models.NearbyVehicle](ctx, c, "/api/rickshaws/nearby?"+q.Encode())
}

func (c *Client) ReportLocation(ctx context.Context, u models.LocationUpdate) error {
	return c.do(ctx, http.MethodPost, "/api/rickshaws/"+url.PathEscape(u.VehicleID)+"/location", u, nil)
}

func (c *Client) CreateRide(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	var r models.Ride
	err := c.do(ctx, http.MethodPost, "/api/rides", req, &r)
	return r, err
}

func (c *Client) RidesByUser(ctx context.Context, userID string) ([]models.Ride, error) {
	path := "/api/rides/user/" + url.PathEscape(userID)
	return cached[[]models.Ride](ctx, c, path, path)
}

func (c *Client) UpdateRideStatus(ctx context.Context, rideID string, upd models.RideStatusUpdate) (models.Ride, error) {
	var r models.Ride
	err := c.do(ctx, http.MethodPatch, "/api/rides/"+url.PathEscape(rideID)+"/status", upd, &r)
	return r, err
}

func (c *Client) BodegaItems(ctx context.Context, category string) ([]models.InventoryItem, error) {
	path := "/api/bodega/items"
	if category != "" {
		path += "?" + url.Values{"category": {category}}.Encode()
	}
	return get[[]models.InventoryItem](ctx, c, path)
}

func (c *Client) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &o)
	return o, err
}

func (c *Client) Orders(ctx context.Context, userID string) ([]models.Order, error) {
	path := "/api/orders/" + url.PathEscape(userID)
	return cached[[]models.Order](ctx, c, path, path)
}

// CreateCheckoutSession asks the API for a hosted checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := c.do(ctx, http.MethodPost, "/api/payments/create-checkout-session", req, &s)
	return s, err
}

func (c *Client) Inventory(ctx context.Context) ([]models.InventoryItem, error) {
	return get[[]models.InventoryItem](ctx, c, "/api/inventory")
}

func (c *Client) AdjustInventory(ctx context.Context, adj models.InventoryAdjustment) (models.InventoryItem, error) {
	var it models.InventoryItem
	err := c.do(ctx, http.MethodPost, "/api/inventory/adjust", adj, &it)
	return it, err
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	return get[models.User](ctx, c, "/api/me")
}
