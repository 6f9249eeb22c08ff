package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Spot is a fixed pickup/dropoff location.
type Spot struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsActive  bool    `json:"is_active"`
}

func (s Spot) Coord() Coord { return Coord{Lat: s.Latitude, Lon: s.Longitude} }

// Vehicle is an AirBear unit. The backend owns every field.
type Vehicle struct {
	ID                 string     `json:"id"`
	DriverID           string     `json:"driver_id,omitempty"`
	CurrentSpotID      string     `json:"current_spot_id,omitempty"`
	BatteryLevel       int        `json:"battery_level"` // 0..100
	IsAvailable        bool       `json:"is_available"`
	IsCharging         bool       `json:"is_charging"`
	MaintenanceStatus  string     `json:"maintenance_status"`
	CurrentLat         *float64   `json:"current_lat,omitempty"`
	CurrentLng         *float64   `json:"current_lng,omitempty"`
	LastLocationUpdate *time.Time `json:"last_location_update,omitempty"`
}

// NearbyVehicle is a vehicle annotated with its distance from a query point.
type NearbyVehicle struct {
	Vehicle
	DistanceKm float64 `json:"distance_km"`
}

// LocationUpdate is what drivers report and what flows through Kafka.
type LocationUpdate struct {
	VehicleID    string    `json:"vehicle_id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	IsCharging   *bool     `json:"is_charging,omitempty"`
	IsAvailable  *bool     `json:"is_available,omitempty"`
	ReportedAt   time.Time `json:"reported_at"`
}

type Ride struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	DriverID          string          `json:"driver_id,omitempty"`
	VehicleID         string          `json:"airbear_id,omitempty"`
	PickupSpotID      string          `json:"pickup_spot_id"`
	DestinationSpotID string          `json:"destination_spot_id"`
	Status            RideStatus      `json:"status"`
	Fare              decimal.Decimal `json:"fare"`
	DistanceKm        float64         `json:"distance"`
	EstimatedMinutes  int             `json:"estimated_duration"`
	PaymentIntentID   string          `json:"payment_intent_id,omitempty"`
	RequestedAt       time.Time       `json:"requested_at"`
	AcceptedAt        *time.Time      `json:"accepted_at,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
}

type RideRequest struct {
	UserID            string `json:"user_id"`
	PickupSpotID      string `json:"pickup_spot_id"`
	DestinationSpotID string `json:"destination_spot_id"`
}

type RideStatusUpdate struct {
	Status    RideStatus `json:"status"`
	DriverID  string     `json:"driver_id,omitempty"`
	VehicleID string     `json:"airbear_id,omitempty"`
}

// Quote is a fare/time/distance estimate between two spots.
type Quote struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	DistanceKm float64         `json:"distance_km"`
	Fare       decimal.Decimal `json:"fare"`
	Minutes    int             `json:"minutes"`
}

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	TotalCents      int64       `json:"total_cents"`
	Status          OrderStatus `json:"status"`
	StripeSessionID string      `json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type OrderItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

type OrderRequest struct {
	UserID string      `json:"user_id"`
	Items  []OrderItem `json:"items"`
}

// CartItem is one line of the client-side bodega cart.
type CartItem struct {
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

// LineItem mirrors the hosted checkout line item shape.
type LineItem struct {
	PriceData PriceData `json:"price_data"`
	Quantity  int64     `json:"quantity"`
}

type PriceData struct {
	Currency    string      `json:"currency"`
	ProductData ProductData `json:"product_data"`
	UnitAmount  int64       `json:"unit_amount"`
}

type ProductData struct {
	Name string `json:"name"`
}

type CheckoutRequest struct {
	LineItems  []LineItem `json:"lineItems"`
	SuccessURL string     `json:"successUrl"`
	CancelURL  string     `json:"cancelUrl"`
	UserID     string     `json:"userId"`
	OrderID    string     `json:"orderId,omitempty"`
}

type CheckoutSession struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	OrderID string `json:"orderId,omitempty"`
}

type Payment struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	StripeSessionID string    `json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// InventoryItem is a bodega product with its current stock.
type InventoryItem struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
	IsAvailable bool   `json:"is_available"`
}

type InventoryAdjustment struct {
	ProductID string `json:"productId"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

// User is the authenticated principal. Role gates UI only on the client;
// the server derives it from verified token claims.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// AuthSession is the provider's session object.
type AuthSession struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	User         User            `json:"user"`
	UserMetadata json.RawMessage `json:"user_metadata,omitempty"`
}

// Change event types, as emitted by the change feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Watched tables.
const (
	TableRides    = "rides"
	TableAirbears = "airbears"
	TableOrders   = "orders"
	TablePayments = "payments"
)

// Change is one row-level change notification.
type Change struct {
	Table     string          `json:"table"`
	EventType string          `json:"eventType"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	At        time.Time       `json:"commit_timestamp"`
}

// NewChange marshals the old/new records of a row change.
func NewChange(table, eventType string, newRec, oldRec any) (Change, error) {
	c := Change{Table: table, EventType: eventType, At: time.Now().UTC()}
	if newRec != nil {
		b, err := json.Marshal(newRec)
		if err != nil {
			return Change{}, err
		}
		c.New = b
	}
	if oldRec != nil {
		b, err := json.Marshal(oldRec)
		if err != nil {
			return Change{}, err
		}
		c.Old = b
	}
	return c, nil
}
