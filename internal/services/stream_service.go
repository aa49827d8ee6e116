package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenchat/lumen-backend/internal/data/repos"
	types "github.com/lumenchat/lumen-backend/internal/domain"
	streamdom "github.com/lumenchat/lumen-backend/internal/domain/stream"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type StreamService interface {
	// Get returns the caller's stream row.
	Get(dbc dbctx.Context, streamID uuid.UUID) (*types.Stream, error)
	// Replay renders the full delta log as live-format envelopes, plus the
	// stored terminal event when the stream already finished. Idempotent;
	// never mutates state.
	Replay(dbc dbctx.Context, streamID uuid.UUID) ([]types.Envelope, error)
	// Launch starts the generation goroutine for a freshly created stream.
	// The producer drain is detached from the caller's cancellation.
	Launch(ctx context.Context, row *types.Stream, req ProducerRequest)
	// Writer exposes the process-local writer for live attachment.
	Writer(streamID uuid.UUID) (*StreamWriter, bool)
}

type streamService struct {
	db       *gorm.DB
	log      *logger.Logger
	baseLog  *logger.Logger
	streams  repos.StreamRepo
	deltas   repos.StreamDeltaRepo
	messages repos.ChatMessageRepo
	producer ProducerClient
	notify   StreamNotifier
	registry *StreamRegistry

	writerCfg StreamWriterConfig
}

func NewStreamService(
	db *gorm.DB,
	baseLog *logger.Logger,
	streamRepo repos.StreamRepo,
	deltaRepo repos.StreamDeltaRepo,
	messageRepo repos.ChatMessageRepo,
	producer ProducerClient,
	notify StreamNotifier,
	registry *StreamRegistry,
	writerCfg StreamWriterConfig,
) StreamService {
	return &streamService{
		db:        db,
		log:       baseLog.With("service", "StreamService"),
		baseLog:   baseLog,
		streams:   streamRepo,
		deltas:    deltaRepo,
		messages:  messageRepo,
		producer:  producer,
		notify:    notify,
		registry:  registry,
		writerCfg: writerCfg,
	}
}

func (s *streamService) Get(dbc dbctx.Context, streamID uuid.UUID) (*types.Stream, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", apperrors.ErrUnauthorized)
	}
	if streamID == uuid.Nil {
		return nil, fmt.Errorf("missing stream id: %w", apperrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	row, err := s.streams.GetByID(repoCtx, streamID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.UserID != rd.UserID {
		return nil, fmt.Errorf("stream not found: %w", apperrors.ErrNotFound)
	}
	return row, nil
}

func (s *streamService) Replay(dbc dbctx.Context, streamID uuid.UUID) ([]types.Envelope, error) {
	row, err := s.Get(dbc, streamID)
	if err != nil {
		return nil, err
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	rows, err := s.deltas.ListByStream(repoCtx, streamID)
	if err != nil {
		return nil, err
	}
	envs, err := streamdom.AssembleEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	if types.IsStreamTerminalStatus(row.Status) {
		nextSeq := int64(0)
		if n := len(rows); n > 0 {
			nextSeq = rows[n-1].Seq + 1
		}
		envs = append(envs, streamdom.ControlForStatus(row, nextSeq))
	}
	return envs, nil
}

func (s *streamService) Launch(ctx context.Context, row *types.Stream, req ProducerRequest) {
	if row == nil || row.ID == uuid.Nil {
		return
	}
	// Client disconnects must not cancel the generation; only the sweeper
	// reclaims abandoned streams.
	genCtx := context.WithoutCancel(ctx)
	w := NewStreamWriter(genCtx, s.baseLog, s.streams, s.deltas, s.messages, s.notify, row, s.writerCfg)
	s.registry.Insert(w)

	go func() {
		defer s.registry.Remove(row.ID)

		err := s.producer.StreamResponse(genCtx, req, w.HandleEvent)
		if err != nil {
			s.log.Error("Producer stream failed", "streamID", row.ID, "error", err)
			if wErr := w.WriteError(err.Error(), nil); wErr != nil {
				s.log.Error("Failed to record producer failure part", "streamID", row.ID, "error", wErr)
			}
			if hErr := w.HandleError(err.Error()); hErr != nil {
				s.log.Error("Failed to mark stream error", "streamID", row.ID, "error", hErr)
			}
			return
		}

		// Producers normally close with a finish event; Finish is a no-op
		// then. This covers a clean EOF without one.
		if fErr := w.Finish("", nil); fErr != nil {
			s.log.Error("Failed to finish stream", "streamID", row.ID, "error", fErr)
			_ = w.HandleError(fErr.Error())
		}
	}()
}

func (s *streamService) Writer(streamID uuid.UUID) (*StreamWriter, bool) {
	if s.registry == nil {
		return nil, false
	}
	return s.registry.Get(streamID)
}
