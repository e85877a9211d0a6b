package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// Timeout returns middleware that enforces a per-step execution deadline.
// If d is non-zero, a context.WithTimeout wraps the handler call. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, w *item.WorkItem, step string, next Handler) error {
		if d > 0 {
			logger.Debug("step timeout set",
				slog.String("step", step),
				slog.String("work_item_id", w.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
