// Package revalidate tells the rendering front end which cached views went
// stale after a ledger write. Notifications are fire-and-forget: a failed
// notification never undoes the write that triggered it.
package revalidate

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/welth/internal/logger"
)

// View paths invalidated by the ledger.
const (
	ViewDashboard     = "/dashboard"
	ViewAccountDetail = "/account/[id]"
)

// Notifier publishes invalidation requests for view paths.
type Notifier interface {
	Invalidate(ctx context.Context, paths ...string) error
}

// Invalidation is the message body sent to the front end.
type Invalidation struct {
	Paths    []string  `json:"paths"`
	IssuedAt time.Time `json:"issued_at"`
}

// NopNotifier discards every invalidation.
type NopNotifier struct{}

// Invalidate implements Notifier.
func (NopNotifier) Invalidate(context.Context, ...string) error { return nil }

// LogNotifier records invalidations in the request logger. It is the default
// when no broker is configured.
type LogNotifier struct{}

// Invalidate implements Notifier.
func (LogNotifier) Invalidate(ctx context.Context, paths ...string) error {
	log := logger.FromContext(ctx)
	log.Info().Strs("paths", paths).Msg("views invalidated")
	return nil
}

// Multi fans an invalidation out to several notifiers and joins their errors.
type Multi []Notifier

// Invalidate implements Notifier.
func (m Multi) Invalidate(ctx context.Context, paths ...string) error {
	var errs []error
	for _, n := range m {
		if err := n.Invalidate(ctx, paths...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
