package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lumenchat/lumen-backend/internal/data/repos"
	types "github.com/lumenchat/lumen-backend/internal/domain"
	streamdom "github.com/lumenchat/lumen-backend/internal/domain/stream"
	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

// StreamSweeperConfig bounds one sweep pass. MaxAge must comfortably
// exceed any realistic single-response duration; a legitimately slow but
// alive writer must never be reclaimed.
type StreamSweeperConfig struct {
	Interval    time.Duration
	MaxAge      time.Duration
	BatchLimit  int
	Concurrency int
}

func (c StreamSweeperConfig) withDefaults() StreamSweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 20 * time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// StreamSweeper reclaims streams whose owning process died before a
// terminal transition. It is the only path that can terminate a stream
// without the writer's cooperation; the idempotent status guard makes it
// safe to race a writer that finishes at the same moment.
type StreamSweeper struct {
	db       *gorm.DB
	log      *logger.Logger
	streams  repos.StreamRepo
	deltas   repos.StreamDeltaRepo
	messages repos.ChatMessageRepo
	notify   StreamNotifier
	cfg      StreamSweeperConfig
}

func NewStreamSweeper(
	db *gorm.DB,
	baseLog *logger.Logger,
	streamRepo repos.StreamRepo,
	deltaRepo repos.StreamDeltaRepo,
	messageRepo repos.ChatMessageRepo,
	notify StreamNotifier,
	cfg StreamSweeperConfig,
) *StreamSweeper {
	return &StreamSweeper{
		db:       db,
		log:      baseLog.With("component", "StreamSweeper"),
		streams:  streamRepo,
		deltas:   deltaRepo,
		messages: messageRepo,
		notify:   notify,
		cfg:      cfg.withDefaults(),
	}
}

func (sw *StreamSweeper) Start(ctx context.Context) {
	sw.log.Info("Starting stream sweeper", "interval", sw.cfg.Interval.String(), "max_age", sw.cfg.MaxAge.String())
	go sw.runLoop(ctx)
}

func (sw *StreamSweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.log.Info("Stream sweeper stopped")
			return
		case <-ticker.C:
			start := time.Now()
			n, err := sw.SweepOnce(ctx)
			observability.Current().ObserveSweep(n, time.Since(start), err)
			if err != nil {
				sw.log.Warn("Sweep pass failed", "error", err)
				continue
			}
			if n > 0 {
				sw.log.Info("Reclaimed abandoned streams", "count", n)
			}
		}
	}
}

// SweepOnce transitions one batch of over-age non-terminal streams to
// timeout and releases their messages. Returns how many streams this
// pass actually reclaimed.
func (sw *StreamSweeper) SweepOnce(ctx context.Context) (int, error) {
	rows, err := sw.streams.ListExpired(dbctx.New(ctx), sw.cfg.MaxAge, sw.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var reclaimed int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sw.cfg.Concurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			if sw.sweepStream(gctx, row) {
				atomic.AddInt32(&reclaimed, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(reclaimed), err
	}
	return int(reclaimed), nil
}

func (sw *StreamSweeper) sweepStream(ctx context.Context, row *types.Stream) bool {
	if row == nil || row.ID == uuid.Nil {
		return false
	}
	dbc := dbctx.New(ctx)
	now := time.Now().UTC()

	applied, err := sw.streams.UpdateFieldsUnlessStatus(dbc, row.ID, types.StreamTerminalStatuses(), map[string]interface{}{
		"status":       types.StreamStatusTimeout,
		"completed_at": now,
	})
	if err != nil {
		sw.log.Warn("Failed to time out stream", "streamID", row.ID, "error", err)
		return false
	}
	if !applied {
		// The writer beat us to a terminal state; nothing to reclaim.
		return false
	}

	sw.releaseMessage(dbc, row)
	observability.Current().ObserveStreamFinished(types.StreamStatusTimeout, now.Sub(row.CreatedAt))

	if sw.notify != nil {
		sw.notify.StreamTimeout(row.UserID, row.ThreadID, row.ID, row.MessageID)
	}
	return true
}

// releaseMessage clears the live indicator on the stream's message and
// salvages whatever the delta log captured before the owner died.
func (sw *StreamSweeper) releaseMessage(dbc dbctx.Context, row *types.Stream) {
	if row.MessageID == uuid.Nil {
		return
	}

	updates := map[string]interface{}{
		"status": types.MessageStatusError,
	}
	deltas, err := sw.deltas.ListByMessage(dbc, row.MessageID)
	if err != nil {
		sw.log.Warn("Failed to load deltas for swept message", "messageID", row.MessageID, "error", err)
	} else if len(deltas) > 0 {
		parts, aErr := streamdom.AssembleParts(deltas)
		if aErr != nil {
			sw.log.Warn("Failed to assemble salvaged parts", "messageID", row.MessageID, "error", aErr)
		} else if raw, mErr := json.Marshal(types.DisplayParts(parts)); mErr == nil {
			updates["parts"] = datatypes.JSON(raw)
		}
	}

	applied, err := sw.messages.UpdateFieldsUnlessStatus(dbc, row.MessageID,
		[]string{types.MessageStatusReady, types.MessageStatusError}, updates)
	if err != nil {
		sw.log.Warn("Failed to release swept message", "messageID", row.MessageID, "error", err)
		return
	}
	if !applied {
		sw.log.Debug("Swept message already finalized", "messageID", row.MessageID)
	}
}
