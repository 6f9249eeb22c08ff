package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/observability"
	"github.com/example/airbear/internal/payments"
)

func (s *Server) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, status, err := s.actingUser(r, req.UserID)
	if err != nil {
		observability.CheckoutSessions.WithLabelValues("rejected").Inc()
		writeError(w, status, err.Error())
		return
	}
	req.UserID = userID

	if req.OrderID != "" {
		o, err := s.store.GetOrder(r.Context(), req.OrderID)
		if err != nil {
			observability.CheckoutSessions.WithLabelValues("rejected").Inc()
			s.storeError(w, err, "order")
			return
		}
		if o.UserID != userID {
			observability.CheckoutSessions.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusForbidden, "order belongs to another user")
			return
		}
		if o.Status != models.OrderPending {
			observability.CheckoutSessions.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusConflict, "order is already "+string(o.Status))
			return
		}
	}

	sess, err := s.payments.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidCheckout) {
			observability.CheckoutSessions.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		observability.CheckoutSessions.WithLabelValues("error").Inc()
		s.logger.Error("create checkout session failed", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}
	if req.OrderID != "" {
		if err := s.store.AttachCheckoutSession(r.Context(), req.OrderID, sess.ID); err != nil {
			observability.CheckoutSessions.WithLabelValues("error").Inc()
			s.storeError(w, err, "order")
			return
		}
	}
	observability.CheckoutSessions.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, sess)
}

// handleWebhook verifies the signature over the raw body before anything
// else. Only checkout.session.completed mutates state, and each event id is
// applied at most once.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		observability.WebhookEvents.WithLabelValues("unreadable").Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	ev, err := s.payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		observability.WebhookEvents.WithLabelValues("rejected").Inc()
		s.logger.Warn("webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
		return
	}
	if ev.Type != payments.EventCheckoutCompleted {
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	if ev.Session == nil || ev.Session.ID == "" {
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		s.logger.Warn("completed checkout without session id", "event_id", ev.ID)
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	first, err := s.idempotency.MarkProcessed(r.Context(), ev.ID, webhookTTL)
	if err != nil {
		s.logger.Warn("idempotency check failed, processing anyway", "event_id", ev.ID, "error", err)
		first = true
	}
	if !first {
		observability.WebhookEvents.WithLabelValues("duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	updated, err := s.completeCheckout(r.Context(), ev.Session)
	if err != nil {
		if ferr := s.idempotency.Forget(r.Context(), ev.ID); ferr != nil {
			s.logger.Warn("release idempotency key failed", "event_id", ev.ID, "error", ferr)
		}
		observability.WebhookEvents.WithLabelValues("error").Inc()
		s.logger.Error("apply checkout completion failed", "event_id", ev.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}
	observability.WebhookEvents.WithLabelValues("applied").Inc()
	s.logger.Info("checkout completed", "event_id", ev.ID, "session_id", ev.Session.ID, "orders", updated)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "orders_updated": updated})
}

// completeCheckout marks the session's orders paid and records the payment.
func (s *Server) completeCheckout(ctx context.Context, cs *payments.CompletedSession) (int, error) {
	changes, err := s.store.MarkOrdersPaid(ctx, cs.ID, cs.AmountTotal)
	if err != nil {
		return 0, fmt.Errorf("mark orders paid: %w", err)
	}
	pay := &models.Payment{
		ID:              uuid.NewString(),
		OrderID:         cs.OrderID,
		UserID:          cs.UserID,
		AmountCents:     cs.AmountTotal,
		Currency:        cs.Currency,
		Status:          "succeeded",
		StripeSessionID: cs.ID,
		CreatedAt:       time.Now().UTC(),
	}
	if pay.OrderID == "" && len(changes) == 1 {
		pay.OrderID = changes[0].After.ID
	}
	if pay.Currency == "" {
		pay.Currency = s.payments.Currency()
	}
	if err := s.store.RecordPayment(ctx, pay); err != nil {
		return len(changes), fmt.Errorf("record payment: %w", err)
	}
	for _, c := range changes {
		dispatch.Emit(ctx, s.changes, s.logger, models.TableOrders, models.EventUpdate, c.After, c.Before)
	}
	dispatch.Emit(ctx, s.changes, s.logger, models.TablePayments, models.EventInsert, pay, nil)
	return len(changes), nil
}
