package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/airbear/internal/models"
)

// MemoryStore is the inert stand-in used when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	vehicles  map[string]models.Vehicle
	rides     map[string]models.Ride
	orders    map[string]models.Order
	payments  []models.Payment
	inventory map[string]models.InventoryItem
	adjusts   []models.InventoryAdjustment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:  make(map[string]models.Vehicle),
		rides:     make(map[string]models.Ride),
		orders:    make(map[string]models.Order),
		inventory: make(map[string]models.InventoryItem),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ListVehicles(_ context.Context) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	all, _ := m.ListVehicles(ctx)
	out := all[:0]
	for _, v := range all {
		if v.IsAvailable && !v.IsCharging {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetVehicle(_ context.Context, id string) (models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return models.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	return v, nil
}

func (m *MemoryStore) UpsertVehicle(_ context.Context, v models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = v
	return nil
}

func (m *MemoryStore) ApplyLocation(_ context.Context, u models.LocationUpdate) (models.Vehicle, models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before, ok := m.vehicles[u.VehicleID]
	if !ok {
		return models.Vehicle{}, models.Vehicle{}, fmt.Errorf("vehicle %s: %w", u.VehicleID, ErrNotFound)
	}
	after := before
	applyLocation(&after, u)
	m.vehicles[after.ID] = after
	return before, after, nil
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) MutateRide(_ context.Context, id string, fn RideMutation) (models.Ride, models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before, ok := m.rides[id]
	if !ok {
		return models.Ride{}, models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	after := before
	if err := fn(&after); err != nil {
		return before, before, err
	}
	m.rides[id] = after
	return before, after, nil
}

func (m *MemoryStore) RidesByUser(_ context.Context, userID string) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (m *MemoryStore) OrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AttachCheckoutSession(_ context.Context, orderID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	o.StripeSessionID = sessionID
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) MarkOrdersPaid(_ context.Context, sessionID string, totalCents int64) ([]OrderChange, error) {
	if sessionID == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrderChange
	for id, o := range m.orders {
		if o.StripeSessionID != sessionID {
			continue
		}
		after := o
		after.Status = models.OrderPaid
		after.TotalCents = totalCents
		after.UpdatedAt = time.Now().UTC()
		m.orders[id] = after
		out = append(out, OrderChange{Before: o, After: after})
	}
	return out, nil
}

func (m *MemoryStore) RecordPayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, *p)
	return nil
}

// Payments returns recorded payments; handy for tests and admin views.
func (m *MemoryStore) Payments() []models.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Payment, len(m.payments))
	copy(out, m.payments)
	return out
}

func (m *MemoryStore) ListInventory(_ context.Context) ([]models.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.InventoryItem, 0, len(m.inventory))
	for _, it := range m.inventory {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpsertInventory(_ context.Context, it models.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory[it.ProductID] = it
	return nil
}

func (m *MemoryStore) AdjustInventory(_ context.Context, adj models.InventoryAdjustment) (models.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.inventory[adj.ProductID]
	if !ok {
		return models.InventoryItem{}, fmt.Errorf("product %s: %w", adj.ProductID, ErrNotFound)
	}
	if it.Stock+adj.Delta < 0 {
		return it, fmt.Errorf("product %s has %d: %w", adj.ProductID, it.Stock, ErrInsufficientStock)
	}
	it.Stock += adj.Delta
	m.inventory[it.ProductID] = it
	m.adjusts = append(m.adjusts, adj)
	return it, nil
}
