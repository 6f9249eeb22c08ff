package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/example/airbear/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle (tests use sqlmock).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies every *.sql file in dir in lexical order. Statements are
// written to be idempotent so reruns are harmless.
func (p *PostgresStore) Migrate(ctx context.Context, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if _, err := p.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

const vehicleColumns = `id, driver_id, current_spot_id, battery_level, is_available, is_charging, maintenance_status, current_lat, current_lng, last_location_update`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(s rowScanner) (models.Vehicle, error) {
	var (
		v            models.Vehicle
		driver, spot sql.NullString
		lat, lng     sql.NullFloat64
		lastUpdate   pq.NullTime
	)
	if err := s.Scan(&v.ID, &driver, &spot, &v.BatteryLevel, &v.IsAvailable, &v.IsCharging, &v.MaintenanceStatus, &lat, &lng, &lastUpdate); err != nil {
		return v, err
	}
	v.DriverID = driver.String
	v.CurrentSpotID = spot.String
	if lat.Valid && lng.Valid {
		v.CurrentLat, v.CurrentLng = &lat.Float64, &lng.Float64
	}
	if lastUpdate.Valid {
		t := lastUpdate.Time
		v.LastLocationUpdate = &t
	}
	return v, nil
}

func (p *PostgresStore) queryVehicles(ctx context.Context, query string, args ...any) ([]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return p.queryVehicles(ctx, `SELECT `+vehicleColumns+` FROM airbears ORDER BY id`)
}

func (p *PostgresStore) AvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return p.queryVehicles(ctx, `SELECT `+vehicleColumns+` FROM airbears WHERE is_available AND NOT is_charging ORDER BY id`)
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id string) (models.Vehicle, error) {
	v, err := scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM airbears WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	return v, err
}

func (p *PostgresStore) UpsertVehicle(ctx context.Context, v models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO airbears(`+vehicleColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET driver_id=EXCLUDED.driver_id, current_spot_id=EXCLUDED.current_spot_id,
battery_level=EXCLUDED.battery_level, is_available=EXCLUDED.is_available, is_charging=EXCLUDED.is_charging,
maintenance_status=EXCLUDED.maintenance_status, current_lat=EXCLUDED.current_lat, current_lng=EXCLUDED.current_lng,
last_location_update=EXCLUDED.last_location_update`,
		v.ID, nullString(v.DriverID), nullString(v.CurrentSpotID), v.BatteryLevel, v.IsAvailable, v.IsCharging,
		v.MaintenanceStatus, v.CurrentLat, v.CurrentLng, v.LastLocationUpdate)
	return err
}

func (p *PostgresStore) ApplyLocation(ctx context.Context, u models.LocationUpdate) (models.Vehicle, models.Vehicle, error) {
	var before, after models.Vehicle
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		before, err = scanVehicle(tx.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM airbears WHERE id=$1 FOR UPDATE`, u.VehicleID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("vehicle %s: %w", u.VehicleID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		after = before
		applyLocation(&after, u)
		_, err = tx.ExecContext(ctx, `UPDATE airbears SET current_lat=$1, current_lng=$2, last_location_update=$3, battery_level=$4, is_charging=$5, is_available=$6 WHERE id=$7`,
			after.CurrentLat, after.CurrentLng, after.LastLocationUpdate, after.BatteryLevel, after.IsCharging, after.IsAvailable, after.ID)
		return err
	})
	return before, after, err
}

const rideColumns = `id, user_id, driver_id, airbear_id, pickup_spot_id, destination_spot_id, status, fare, distance_km, estimated_minutes, payment_intent_id, requested_at, accepted_at, started_at, completed_at, cancelled_at`

func scanRide(s rowScanner) (models.Ride, error) {
	var (
		r                       models.Ride
		driver, vehicle, intent sql.NullString
		fareText                string
		accepted, started       pq.NullTime
		completed, cancelled    pq.NullTime
	)
	err := s.Scan(&r.ID, &r.UserID, &driver, &vehicle, &r.PickupSpotID, &r.DestinationSpotID, &r.Status,
		&fareText, &r.DistanceKm, &r.EstimatedMinutes, &intent, &r.RequestedAt, &accepted, &started, &completed, &cancelled)
	if err != nil {
		return r, err
	}
	r.DriverID, r.VehicleID, r.PaymentIntentID = driver.String, vehicle.String, intent.String
	if r.Fare, err = decimal.NewFromString(fareText); err != nil {
		return r, fmt.Errorf("ride %s fare: %w", r.ID, err)
	}
	r.AcceptedAt = timePtr(accepted)
	r.StartedAt = timePtr(started)
	r.CompletedAt = timePtr(completed)
	r.CancelledAt = timePtr(cancelled)
	return r, nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.UserID, nullString(r.DriverID), nullString(r.VehicleID), r.PickupSpotID, r.DestinationSpotID, r.Status,
		r.Fare.StringFixed(2), r.DistanceKm, r.EstimatedMinutes, nullString(r.PaymentIntentID), r.RequestedAt,
		r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) MutateRide(ctx context.Context, id string, fn RideMutation) (models.Ride, models.Ride, error) {
	var before, after models.Ride
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		before, err = scanRide(tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("ride %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		after = before
		if err := fn(&after); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE rides SET driver_id=$1, airbear_id=$2, status=$3, payment_intent_id=$4, accepted_at=$5, started_at=$6, completed_at=$7, cancelled_at=$8 WHERE id=$9`,
			nullString(after.DriverID), nullString(after.VehicleID), after.Status, nullString(after.PaymentIntentID),
			after.AcceptedAt, after.StartedAt, after.CompletedAt, after.CancelledAt, id)
		return err
	})
	if err != nil {
		return before, before, err
	}
	return before, after, nil
}

func (p *PostgresStore) RidesByUser(ctx context.Context, userID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE user_id=$1 ORDER BY requested_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const orderColumns = `id, user_id, items, total_cents, status, stripe_session_id, created_at, updated_at`

func scanOrder(s rowScanner) (models.Order, error) {
	var (
		o       models.Order
		items   []byte
		session sql.NullString
	)
	if err := s.Scan(&o.ID, &o.UserID, &items, &o.TotalCents, &o.Status, &session, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	o.StripeSessionID = session.String
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return o, fmt.Errorf("order %s items: %w", o.ID, err)
		}
	}
	return o, nil
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO orders(`+orderColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, items, o.TotalCents, o.Status, nullString(o.StripeSessionID), o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (p *PostgresStore) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AttachCheckoutSession(ctx context.Context, orderID, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET stripe_session_id=$1, updated_at=$2 WHERE id=$3`, sessionID, time.Now().UTC(), orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) MarkOrdersPaid(ctx context.Context, sessionID string, totalCents int64) ([]OrderChange, error) {
	if sessionID == "" {
		return nil, nil
	}
	var out []OrderChange
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE stripe_session_id=$1 FOR UPDATE`, sessionID)
		if err != nil {
			return err
		}
		var before []models.Order
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				rows.Close()
				return err
			}
			before = append(before, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(before) == 0 {
			return nil
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status=$1, total_cents=$2, updated_at=$3 WHERE stripe_session_id=$4`,
			models.OrderPaid, totalCents, now, sessionID); err != nil {
			return err
		}
		for _, o := range before {
			after := o
			after.Status, after.TotalCents, after.UpdatedAt = models.OrderPaid, totalCents, now
			out = append(out, OrderChange{Before: o, After: after})
		}
		return nil
	})
	return out, err
}

func (p *PostgresStore) RecordPayment(ctx context.Context, pay *models.Payment) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO payments(id, order_id, user_id, amount_cents, currency, status, stripe_session_id, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		pay.ID, nullString(pay.OrderID), nullString(pay.UserID), pay.AmountCents, pay.Currency, pay.Status, nullString(pay.StripeSessionID), pay.CreatedAt)
	return err
}

const inventoryColumns = `product_id, name, category, price_cents, stock, is_available`

func scanInventory(s rowScanner) (models.InventoryItem, error) {
	var it models.InventoryItem
	err := s.Scan(&it.ProductID, &it.Name, &it.Category, &it.PriceCents, &it.Stock, &it.IsAvailable)
	return it, err
}

func (p *PostgresStore) ListInventory(ctx context.Context) ([]models.InventoryItem, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+inventoryColumns+` FROM inventory ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.InventoryItem, 0)
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertInventory(ctx context.Context, it models.InventoryItem) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO inventory(`+inventoryColumns+`) VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (product_id) DO UPDATE SET name=EXCLUDED.name, category=EXCLUDED.category, price_cents=EXCLUDED.price_cents,
stock=EXCLUDED.stock, is_available=EXCLUDED.is_available`,
		it.ProductID, it.Name, it.Category, it.PriceCents, it.Stock, it.IsAvailable)
	return err
}

// AdjustInventory applies a stock delta, refusing to go below zero.
func (p *PostgresStore) AdjustInventory(ctx context.Context, adj models.InventoryAdjustment) (models.InventoryItem, error) {
	var it models.InventoryItem
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		it, err = scanInventory(tx.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE product_id=$1 FOR UPDATE`, adj.ProductID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %s: %w", adj.ProductID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if it.Stock+adj.Delta < 0 {
			return fmt.Errorf("product %s has %d: %w", adj.ProductID, it.Stock, ErrInsufficientStock)
		}
		it.Stock += adj.Delta
		if _, err := tx.ExecContext(ctx, `UPDATE inventory SET stock=$1 WHERE product_id=$2`, it.Stock, it.ProductID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO inventory_events(product_id, delta, reason) VALUES($1,$2,$3)`, adj.ProductID, adj.Delta, adj.Reason)
		return err
	})
	return it, err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t pq.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
