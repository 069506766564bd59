package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/questboard/gateway"
)

// ActivityWriter persists audit entries.
type ActivityWriter interface {
	LogActivity(ctx context.Context, in gateway.ActivityInput) error
}

// ActivityLog writes activity entries in the background. Submit never blocks
// and failures are only logged.
type ActivityLog struct {
	pool    *Pool
	writer  ActivityWriter
	log     *zap.Logger
	timeout time.Duration
}

func NewActivityLog(pool *Pool, writer ActivityWriter, log *zap.Logger) *ActivityLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActivityLog{pool: pool, writer: writer, log: log, timeout: 5 * time.Second}
}

// Submit queues in. It returns false when the entry was dropped.
func (a *ActivityLog) Submit(in gateway.ActivityInput) bool {
	queued := a.pool.TryExec(TaskFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.writer.LogActivity(ctx, in); err != nil {
			a.log.Warn("activity log failed",
				zap.String("user_id", in.UserID),
				zap.String("activity_type", in.Type),
				zap.Error(err))
		}
	}))
	if !queued {
		a.log.Warn("activity queue full, entry dropped", zap.String("user_id", in.UserID), zap.String("activity_type", in.Type))
	}
	return queued
}
