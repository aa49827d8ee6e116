package stream

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type StreamDeltaRepo interface {
	// AppendBatch inserts a contiguous run of log rows in one statement.
	// Replayed sequence numbers trip the (stream_id, seq) unique index and
	// come back as ErrConflict.
	AppendBatch(dbc dbctx.Context, rows []*types.StreamDelta) error
	ListByStream(dbc dbctx.Context, streamID uuid.UUID) ([]*types.StreamDelta, error)
	ListByMessage(dbc dbctx.Context, messageID uuid.UUID) ([]*types.StreamDelta, error)
	CountByStream(dbc dbctx.Context, streamID uuid.UUID) (int64, error)
	// MaxSeq returns the highest stored sequence, -1 for an empty log.
	MaxSeq(dbc dbctx.Context, streamID uuid.UUID) (int64, error)
}

type streamDeltaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStreamDeltaRepo(db *gorm.DB, log *logger.Logger) StreamDeltaRepo {
	return &streamDeltaRepo{db: db, log: log.With("repo", "StreamDeltaRepo")}
}

func (r *streamDeltaRepo) AppendBatch(dbc dbctx.Context, rows []*types.StreamDelta) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.StreamID == uuid.Nil {
			return fmt.Errorf("missing stream_id")
		}
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return apperrors.MapStorage("append deltas", err)
	}
	return nil
}

func (r *streamDeltaRepo) ListByStream(dbc dbctx.Context, streamID uuid.UUID) ([]*types.StreamDelta, error) {
	if streamID == uuid.Nil {
		return nil, fmt.Errorf("missing stream_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.StreamDelta
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.StreamDelta{}).
		Where("stream_id = ?", streamID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *streamDeltaRepo) ListByMessage(dbc dbctx.Context, messageID uuid.UUID) ([]*types.StreamDelta, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("missing message_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.StreamDelta
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.StreamDelta{}).
		Where("message_id = ?", messageID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *streamDeltaRepo) CountByStream(dbc dbctx.Context, streamID uuid.UUID) (int64, error) {
	if streamID == uuid.Nil {
		return 0, fmt.Errorf("missing stream_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.StreamDelta{}).
		Where("stream_id = ?", streamID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *streamDeltaRepo) MaxSeq(dbc dbctx.Context, streamID uuid.UUID) (int64, error) {
	if streamID == uuid.Nil {
		return -1, fmt.Errorf("missing stream_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var maxSeq int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.StreamDelta{}).
		Select("COALESCE(MAX(seq), -1)").
		Where("stream_id = ?", streamID).
		Scan(&maxSeq).Error; err != nil {
		return -1, err
	}
	return maxSeq, nil
}
