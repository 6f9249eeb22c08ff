package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/airbear/internal/models"
)

// Publisher fans a row change out to change feed subscribers.
type Publisher interface {
	Publish(ctx context.Context, c models.Change) error
}

// PublishAll sends every change and joins the failures.
func PublishAll(ctx context.Context, p Publisher, changes ...models.Change) error {
	var errs []error
	for _, c := range changes {
		if err := p.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit builds a change from old/new records and publishes it. Failures are
// logged; a row write never fails because the feed is down.
func Emit(ctx context.Context, p Publisher, log *slog.Logger, table, eventType string, newRec, oldRec any) {
	if p == nil {
		return
	}
	c, err := models.NewChange(table, eventType, newRec, oldRec)
	if err != nil {
		log.Warn("encode change failed", "table", table, "error", err)
		return
	}
	if err := p.Publish(ctx, c); err != nil {
		log.Warn("publish change failed", "table", table, "event", eventType, "error", err)
	}
}
