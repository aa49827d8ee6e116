package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type StreamRepo interface {
	// Create inserts a pending stream. A second active stream for the same
	// message trips the partial unique index and comes back as ErrConflict.
	Create(dbc dbctx.Context, row *types.Stream) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Stream, error)
	ActiveByMessage(dbc dbctx.Context, messageID uuid.UUID) (*types.Stream, error)
	// MarkStreaming flips pending -> streaming; false when the stream is
	// already streaming or terminal.
	MarkStreaming(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only while the row is not in
	// one of the disallowed statuses; false means the guard lost.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	// ListExpired returns non-terminal streams created before the cutoff,
	// oldest first, capped at limit.
	ListExpired(dbc dbctx.Context, olderThan time.Duration, limit int) ([]*types.Stream, error)
}

type streamRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStreamRepo(db *gorm.DB, log *logger.Logger) StreamRepo {
	return &streamRepo{db: db, log: log.With("repo", "StreamRepo")}
}

func (r *streamRepo) Create(dbc dbctx.Context, row *types.Stream) error {
	if row == nil {
		return fmt.Errorf("missing stream row")
	}
	if row.MessageID == uuid.Nil {
		return fmt.Errorf("missing message_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return apperrors.MapStorage("create stream", err)
	}
	return nil
}

func (r *streamRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Stream, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Stream
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *streamRepo) ActiveByMessage(dbc dbctx.Context, messageID uuid.UUID) (*types.Stream, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("missing message_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Stream
	if err := txx.WithContext(dbc.Ctx).
		Where("message_id = ? AND status IN ?", messageID, []string{types.StreamStatusPending, types.StreamStatusStreaming}).
		Order("created_at DESC").
		Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *streamRepo) MarkStreaming(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Model(&types.Stream{}).
		Where("id = ? AND status = ?", id, types.StreamStatusPending).
		Updates(map[string]interface{}{
			"status":     types.StreamStatusStreaming,
			"started_at": at,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *streamRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.Stream{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *streamRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Model(&types.Stream{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *streamRepo) ListExpired(dbc dbctx.Context, olderThan time.Duration, limit int) ([]*types.Stream, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("olderThan must be positive")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	var out []*types.Stream
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.Stream{}).
		Where("status IN ? AND created_at < ?", []string{types.StreamStatusPending, types.StreamStatusStreaming}, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
