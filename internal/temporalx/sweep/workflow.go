package sweep

import (
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow drives stream expiry as a single long-lived loop: one pass
// activity, sleep, repeat. Running it under Temporal instead of an
// in-process ticker means exactly one sweeper runs across all API
// replicas and the loop survives process restarts.
func Workflow(ctx workflow.Context, params Params) error {
	const (
		defaultInterval      = time.Minute
		continuePassLimit    = 2000
		continueHistoryLimit = 15000
	)

	interval := defaultInterval
	if params.IntervalSeconds > 0 {
		interval = time.Duration(params.IntervalSeconds) * time.Second
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
	})

	passes := 0
	for {
		passes++
		var out PassResult
		if err := workflow.ExecuteActivity(ctx, ActivityPass).Get(ctx, &out); err != nil {
			// The activity retry policy already absorbed transient
			// failures; log through the workflow logger and keep the
			// loop alive rather than failing the singleton.
			workflow.GetLogger(ctx).Warn("sweep pass failed", "error", err)
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, passes, continuePassLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow, params)
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, passes int, maxPasses int, maxHistory int) bool {
	if maxPasses > 0 && passes >= maxPasses {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
