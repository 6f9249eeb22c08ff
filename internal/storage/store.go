package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/airbear/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type VehicleStore interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	AvailableVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (models.Vehicle, error)
	UpsertVehicle(ctx context.Context, v models.Vehicle) error
	// ApplyLocation merges a location report and returns the vehicle before
	// and after the change.
	ApplyLocation(ctx context.Context, u models.LocationUpdate) (before, after models.Vehicle, err error)
}

// RideMutation inspects and changes a ride in place. Returning an error
// aborts the update.
type RideMutation func(r *models.Ride) error

type RideStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (models.Ride, error)
	// MutateRide applies fn atomically and returns the ride before and after.
	MutateRide(ctx context.Context, id string, fn RideMutation) (before, after models.Ride, err error)
	RidesByUser(ctx context.Context, userID string) ([]models.Ride, error)
}

// OrderChange pairs the before and after image of an updated order.
type OrderChange struct {
	Before models.Order
	After  models.Order
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	AttachCheckoutSession(ctx context.Context, orderID, sessionID string) error
	// MarkOrdersPaid flips every order carrying sessionID to paid and records
	// the charged total.
	MarkOrdersPaid(ctx context.Context, sessionID string, totalCents int64) ([]OrderChange, error)
	RecordPayment(ctx context.Context, p *models.Payment) error
}

type InventoryStore interface {
	ListInventory(ctx context.Context) ([]models.InventoryItem, error)
	UpsertInventory(ctx context.Context, it models.InventoryItem) error
	AdjustInventory(ctx context.Context, adj models.InventoryAdjustment) (models.InventoryItem, error)
}

// Store is everything the API persists.
type Store interface {
	VehicleStore
	RideStore
	OrderStore
	InventoryStore
	Close() error
}

func applyLocation(v *models.Vehicle, u models.LocationUpdate) {
	lat, lng := u.Lat, u.Lng
	v.CurrentLat = &lat
	v.CurrentLng = &lng
	at := u.ReportedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	v.LastLocationUpdate = &at
	if u.BatteryLevel != nil {
		b := *u.BatteryLevel
		if b < 0 {
			b = 0
		}
		if b > 100 {
			b = 100
		}
		v.BatteryLevel = b
	}
	if u.IsCharging != nil {
		v.IsCharging = *u.IsCharging
	}
	if u.IsAvailable != nil {
		v.IsAvailable = *u.IsAvailable
	}
}
