package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/models"
)

func (s *Server) handleBodegaItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListInventory(r.Context())
	if err != nil {
		s.storeError(w, err, "inventory")
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	out := make([]models.InventoryItem, 0, len(items))
	for _, it := range items {
		if !it.IsAvailable || it.Stock <= 0 {
			continue
		}
		if category != "" && !strings.EqualFold(it.Category, category) {
			continue
		}
		out = append(out, it)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateOrder records a pending order. Names and prices come from the
// catalogue, never from the request.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, status, err := s.actingUser(r, req.UserID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "order has no items")
		return
	}
	catalogue, err := s.store.ListInventory(r.Context())
	if err != nil {
		s.storeError(w, err, "inventory")
		return
	}
	byID := make(map[string]models.InventoryItem, len(catalogue))
	for _, it := range catalogue {
		byID[it.ProductID] = it
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	var total int64
	for _, li := range req.Items {
		it, ok := byID[li.ProductID]
		if !ok || !it.IsAvailable {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("product %q is not available", li.ProductID))
			return
		}
		if li.Quantity < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("quantity for %q must be at least 1", li.ProductID))
			return
		}
		if li.Quantity > it.Stock {
			writeError(w, http.StatusConflict, fmt.Sprintf("only %d of %q left", it.Stock, it.Name))
			return
		}
		items = append(items, models.OrderItem{ProductID: it.ProductID, Name: it.Name, PriceCents: it.PriceCents, Quantity: li.Quantity})
		total += it.PriceCents * int64(li.Quantity)
	}

	now := time.Now().UTC()
	o := &models.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Items:      items,
		TotalCents: total,
		Status:     models.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateOrder(r.Context(), o); err != nil {
		s.logger.Error("create order failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	dispatch.Emit(r.Context(), s.changes, s.logger, models.TableOrders, models.EventInsert, o, nil)
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID, status, err := s.actingUser(r, mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	orders, err := s.store.OrdersByUser(r.Context(), userID)
	if err != nil {
		s.storeError(w, err, "orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListInventory(r.Context())
	if err != nil {
		s.storeError(w, err, "inventory")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleInventoryAdjust(w http.ResponseWriter, r *http.Request) {
	var adj models.InventoryAdjustment
	if !decodeBody(w, r, &adj) {
		return
	}
	if adj.ProductID == "" || adj.Delta == 0 {
		writeError(w, http.StatusBadRequest, "productId and a non-zero delta are required")
		return
	}
	if strings.TrimSpace(adj.Reason) == "" {
		adj.Reason = "manual"
	}
	it, err := s.store.AdjustInventory(r.Context(), adj)
	if err != nil {
		s.storeError(w, err, "product")
		return
	}
	s.logger.Info("inventory adjusted", "product_id", adj.ProductID, "delta", adj.Delta, "reason", adj.Reason, "stock", it.Stock)
	writeJSON(w, http.StatusOK, it)
}
