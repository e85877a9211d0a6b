package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// Logging returns middleware that logs step start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, w *item.WorkItem, step string, next Handler) error {
		logger.Info("step started",
			slog.String("step", step),
			slog.String("work_item_id", w.ID.String()),
			slog.String("phase", string(w.Phase)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				slog.String("step", step),
				slog.String("work_item_id", w.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("step completed",
				slog.String("step", step),
				slog.String("work_item_id", w.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
