package middleware

import (
	"context"
	"log/slog"

	"github.com/runelab/sked/job"
)

// Timeout returns middleware that attaches a per-job deadline to the
// handler context. Jobs with a zero Timeout run without a deadline.
// The runner itself never force-cancels a handler; this deadline is the
// handler's own cooperative signal to stop.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
