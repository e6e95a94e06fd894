package storage

import (
	"context"
	"time"
)

// DefaultDBTimeout caps every audit log query
const DefaultDBTimeout = 5 * time.Second

// withTimeout bounds ctx by timeout. A caller deadline that is already
// sooner is kept as is. A non-positive timeout means DefaultDBTimeout.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultDBTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
