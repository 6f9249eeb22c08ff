package storage

import (
	"context"
	"fmt"

	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/models"
)

// DemoInventory is the bodega catalogue used when running without a database.
var DemoInventory = []models.InventoryItem{
	{ProductID: "cold-brew", Name: "Cold Brew", Category: "drinks", PriceCents: 450, Stock: 40, IsAvailable: true},
	{ProductID: "spring-water", Name: "Spring Water", Category: "drinks", PriceCents: 150, Stock: 120, IsAvailable: true},
	{ProductID: "trail-mix", Name: "Trail Mix", Category: "snacks", PriceCents: 325, Stock: 60, IsAvailable: true},
	{ProductID: "granola-bar", Name: "Granola Bar", Category: "snacks", PriceCents: 199, Stock: 80, IsAvailable: true},
	{ProductID: "spiedie-wrap", Name: "Spiedie Wrap", Category: "food", PriceCents: 899, Stock: 15, IsAvailable: true},
	{ProductID: "phone-charger", Name: "USB-C Charger", Category: "essentials", PriceCents: 1299, Stock: 10, IsAvailable: true},
	{ProductID: "sunscreen", Name: "Sunscreen SPF 50", Category: "essentials", PriceCents: 799, Stock: 0, IsAvailable: false},
}

// SeedDemo parks one vehicle at each of the first n active spots and loads
// the demo catalogue.
func SeedDemo(ctx context.Context, s Store, spots *geo.Table, n int) error {
	for i, spot := range spots.Active() {
		if i >= n {
			break
		}
		v := models.Vehicle{
			ID:                fmt.Sprintf("airbear-%02d", i+1),
			CurrentSpotID:     spot.ID,
			BatteryLevel:      100 - (i*7)%60,
			IsAvailable:       i%4 != 3,
			IsCharging:        i%5 == 4,
			MaintenanceStatus: "good",
		}
		if err := s.UpsertVehicle(ctx, v); err != nil {
			return err
		}
	}
	for _, it := range DemoInventory {
		if err := s.UpsertInventory(ctx, it); err != nil {
			return err
		}
	}
	return nil
}
