package sweep

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/services"
)

type Activities struct {
	Log     *logger.Logger
	Sweeper *services.StreamSweeper
}

// Pass reclaims one batch of over-age streams. Heartbeats keep the
// activity alive while a large batch drains.
func (a *Activities) Pass(ctx context.Context) (PassResult, error) {
	var res PassResult
	if a == nil || a.Sweeper == nil {
		return res, fmt.Errorf("sweep: activity not configured")
	}

	stopHB := a.startHeartbeat(ctx)
	defer stopHB()

	start := time.Now()
	n, err := a.Sweeper.SweepOnce(ctx)
	observability.Current().ObserveSweep(n, time.Since(start), err)
	if err != nil {
		return res, fmt.Errorf("sweep pass: %w", err)
	}
	res.Reclaimed = n
	if n > 0 && a.Log != nil {
		a.Log.Info("Reclaimed abandoned streams", "count", n)
	}
	return res, nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(hbCtx)
			}
		}
	}()
	return cancel
}
