package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/service"
)

// StartAuditWorker registers audit handlers.
func StartAuditWorker(auditService *service.AuditService) {
	if auditService == nil {
		return
	}
	auditService.RegisterHandlers()
}

// Expirer moves lapsed dual-control requests to expired.
type Expirer interface {
	ExpireStale(ctx context.Context) ([]domain.DualControlRequest, error)
}

// StartExpirySweeper runs expirer every interval until ctx is cancelled.
// The returned channel closes once the sweeper has stopped.
func StartExpirySweeper(ctx context.Context, expirer Expirer, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if expirer == nil || interval <= 0 {
		close(done)
		return done
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx, expirer, logger)
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, expirer Expirer, logger *zap.Logger) {
	expired, err := expirer.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("dual-control expiry sweep failed", zap.Error(err))
		}
		return
	}
	if len(expired) > 0 {
		logger.Info("dual-control requests expired", zap.Int("count", len(expired)))
	}
}
