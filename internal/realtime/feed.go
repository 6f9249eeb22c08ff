package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/airbear/internal/models"
)

// Topic selects one table of the change feed, optionally narrowed by an
// equality filter of the form "column=eq.value".
type Topic struct {
	Table  string
	Filter string
}

func (t Topic) String() string {
	if t.Filter == "" {
		return t.Table
	}
	return t.Table + "?" + t.Filter
}

// EqFilter builds a "column=eq.value" filter.
func EqFilter(column, value string) string { return column + "=eq." + value }

// ParseFilter splits a filter into its column and value. An empty filter is
// valid and matches everything.
func ParseFilter(f string) (column, value string, err error) {
	if f == "" {
		return "", "", nil
	}
	col, val, ok := strings.Cut(f, "=eq.")
	if !ok || col == "" || val == "" {
		return "", "", fmt.Errorf("unsupported filter %q", f)
	}
	return col, val, nil
}

// Subscription is a cancellable handle on one topic. C is closed once the
// subscription ends.
type Subscription interface {
	C() <-chan models.Change
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, topic Topic) (Subscription, error)
}
