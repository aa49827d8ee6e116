package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lumenchat/lumen-backend/internal/data/repos"
	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	apperrors "github.com/lumenchat/lumen-backend/internal/pkg/errors"
	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

const (
	maxMessageLen        = 20000
	maxIdempotencyKeyLen = 200
	producerHistoryLimit = 50
)

type ChatService interface {
	CreateThread(dbc dbctx.Context, title string) (*types.ChatThread, error)
	ListThreads(dbc dbctx.Context, limit int) ([]*types.ChatThread, error)
	GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*types.ChatThread, []*types.ChatMessage, error)
	ListThreadMessages(dbc dbctx.Context, threadID uuid.UUID, limit int, afterSeq *int64) ([]*types.ChatMessage, error)

	// SendMessage persists the user message, creates the assistant
	// placeholder, creates the response stream, and starts the generation
	// after commit. Retries with the same idempotency key return the
	// original rows instead of sending twice.
	SendMessage(dbc dbctx.Context, threadID uuid.UUID, content string, idempotencyKey string) (*types.ChatMessage, *types.ChatMessage, *types.Stream, error)
}

type chatService struct {
	db  *gorm.DB
	log *logger.Logger

	threads  repos.ChatThreadRepo
	messages repos.ChatMessageRepo
	streams  repos.StreamRepo

	streamSvc StreamService
	notify    StreamNotifier

	model string
}

func NewChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	threadRepo repos.ChatThreadRepo,
	messageRepo repos.ChatMessageRepo,
	streamRepo repos.StreamRepo,
	streamSvc StreamService,
	notify StreamNotifier,
	model string,
) ChatService {
	return &chatService{
		db:        db,
		log:       baseLog.With("service", "ChatService"),
		threads:   threadRepo,
		messages:  messageRepo,
		streams:   streamRepo,
		streamSvc: streamSvc,
		notify:    notify,
		model:     model,
	}
}

func (s *chatService) CreateThread(dbc dbctx.Context, title string) (*types.ChatThread, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", apperrors.ErrUnauthorized)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	now := time.Now().UTC()
	thread := &types.ChatThread{
		ID:            uuid.New(),
		UserID:        rd.UserID,
		Title:         title,
		Status:        types.ThreadStatusActive,
		Metadata:      datatypes.JSON([]byte(`{}`)),
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := s.threads.Create(repoCtx, []*types.ChatThread{thread})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 || created[0] == nil {
		return nil, fmt.Errorf("failed to create thread")
	}

	if s.notify != nil {
		s.notify.ThreadCreated(rd.UserID, created[0])
	}
	return created[0], nil
}

func (s *chatService) ListThreads(dbc dbctx.Context, limit int) ([]*types.ChatThread, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", apperrors.ErrUnauthorized)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}
	return s.threads.ListByUser(repoCtx, rd.UserID, limit)
}

func (s *chatService) GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*types.ChatThread, []*types.ChatMessage, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, fmt.Errorf("not authenticated: %w", apperrors.ErrUnauthorized)
	}
	if threadID == uuid.Nil {
		return nil, nil, fmt.Errorf("missing thread id: %w", apperrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	thread, err := s.threads.GetByID(repoCtx, threadID)
	if err != nil {
		return nil, nil, err
	}
	if thread == nil || thread.UserID != rd.UserID {
		return nil, nil, fmt.Errorf("thread not found: %w", apperrors.ErrNotFound)
	}

	msgs, err := s.messages.ListByThread(repoCtx, threadID, limit)
	if err != nil {
		return nil, nil, err
	}
	return thread, msgs, nil
}

func (s *chatService) ListThreadMessages(dbc dbctx.Context, threadID uuid.UUID, limit int, afterSeq *int64) ([]*types.ChatMessage, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", apperrors.ErrUnauthorized)
	}
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread id: %w", apperrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	thread, err := s.threads.GetByID(repoCtx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil || thread.UserID != rd.UserID {
		return nil, fmt.Errorf("thread not found: %w", apperrors.ErrNotFound)
	}

	if afterSeq != nil {
		return s.messages.ListSinceSeq(repoCtx, threadID, *afterSeq, limit)
	}
	return s.messages.ListByThread(repoCtx, threadID, limit)
}

func (s *chatService) SendMessage(dbc dbctx.Context, threadID uuid.UUID, content string, idempotencyKey string) (*types.ChatMessage, *types.ChatMessage, *types.Stream, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, nil, fmt.Errorf("not authenticated: %w", apperrors.ErrUnauthorized)
	}
	if threadID == uuid.Nil {
		return nil, nil, nil, fmt.Errorf("missing thread id: %w", apperrors.ErrInvalidArgument)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, nil, fmt.Errorf("missing content: %w", apperrors.ErrInvalidArgument)
	}
	if len(content) > maxMessageLen {
		return nil, nil, nil, fmt.Errorf("message too large: %w", apperrors.ErrInvalidArgument)
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		return nil, nil, nil, fmt.Errorf("idempotency key too long: %w", apperrors.ErrInvalidArgument)
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	// Fast-path idempotency (no lock): clients can safely retry while the
	// response is still streaming.
	if idempotencyKey != "" {
		userMsg, asstMsg, stream, err := s.resolveIdempotentRetry(repoCtx, threadID, rd.UserID, idempotencyKey)
		if err != nil {
			return nil, nil, nil, err
		}
		if userMsg != nil {
			return userMsg, asstMsg, stream, nil
		}
	}

	var (
		userMsg *types.ChatMessage
		asstMsg *types.ChatMessage
		stream  *types.Stream
		retried bool
	)

	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		// Lock thread for concurrency-safe sequencing.
		th, err := s.threads.LockByID(inner, threadID)
		if err != nil {
			return err
		}
		if th == nil || th.UserID != rd.UserID {
			return fmt.Errorf("thread not found: %w", apperrors.ErrNotFound)
		}

		// Re-check under the lock so two concurrent retries cannot both
		// insert.
		if idempotencyKey != "" {
			u, a, st, err := s.resolveIdempotentRetry(inner, threadID, rd.UserID, idempotencyKey)
			if err != nil {
				return err
			}
			if u != nil {
				userMsg, asstMsg, stream = u, a, st
				retried = true
				return nil
			}
		}

		maxSeq, err := s.messages.GetMaxSeq(inner, threadID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		userParts, err := json.Marshal([]types.Part{{Type: types.PartTypeText, Text: content}})
		if err != nil {
			return err
		}
		userMsg = &types.ChatMessage{
			ID:             uuid.New(),
			ThreadID:       threadID,
			UserID:         rd.UserID,
			Seq:            maxSeq + 1,
			Role:           types.MessageRoleUser,
			Status:         types.MessageStatusReady,
			Parts:          datatypes.JSON(userParts),
			Metadata:       datatypes.JSON([]byte(`{}`)),
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		asstMsg = &types.ChatMessage{
			ID:        uuid.New(),
			ThreadID:  threadID,
			UserID:    rd.UserID,
			Seq:       maxSeq + 2,
			Role:      types.MessageRoleAssistant,
			Status:    types.MessageStatusSubmitted,
			Parts:     datatypes.JSON([]byte(`[]`)),
			Model:     s.model,
			Metadata:  datatypes.JSON([]byte(`{}`)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.messages.Create(inner, []*types.ChatMessage{userMsg, asstMsg}); err != nil {
			return err
		}

		stream = &types.Stream{
			ID:        uuid.New(),
			UserID:    rd.UserID,
			ThreadID:  threadID,
			MessageID: asstMsg.ID,
			Status:    types.StreamStatusPending,
			Model:     s.model,
			Metadata:  datatypes.JSON([]byte(`{}`)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err := s.createStreamFirstWins(dbc.Ctx, txx, stream)
		if err != nil {
			return err
		}
		stream = created

		return s.threads.UpdateFields(inner, threadID, map[string]interface{}{
			"last_message_at": now,
		})
	})
	if err != nil {
		return nil, nil, nil, err
	}

	if retried {
		return userMsg, asstMsg, stream, nil
	}

	if s.notify != nil {
		s.notify.MessageCreated(rd.UserID, threadID, userMsg, nil)
		meta := map[string]any{}
		if stream != nil {
			meta["stream_id"] = stream.ID
		}
		s.notify.MessageCreated(rd.UserID, threadID, asstMsg, meta)
	}

	if s.streamSvc != nil && stream != nil {
		req, err := s.buildProducerRequest(repoCtx, threadID)
		if err != nil {
			s.log.Error("Failed to build producer request", "threadID", threadID, "error", err)
		} else {
			s.streamSvc.Launch(dbc.Ctx, stream, req)
		}
	}

	return userMsg, asstMsg, stream, nil
}

// createStreamFirstWins inserts the response stream inside a savepoint so
// that a unique violation does not poison the surrounding transaction.
// The loser of the race then resolves to the stream the winner made.
func (s *chatService) createStreamFirstWins(ctx context.Context, txx *gorm.DB, row *types.Stream) (*types.Stream, error) {
	err := txx.Transaction(func(sp *gorm.DB) error {
		return s.streams.Create(dbctx.Context{Ctx: ctx, Tx: sp}, row)
	})
	if err == nil {
		return row, nil
	}
	if apperrors.IsConflict(err) {
		existing, aErr := s.streams.ActiveByMessage(dbctx.Context{Ctx: ctx, Tx: txx}, row.MessageID)
		if aErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, err
}

// resolveIdempotentRetry returns the rows a previous send with this key
// created, or nils when the key is unused.
func (s *chatService) resolveIdempotentRetry(repoCtx dbctx.Context, threadID uuid.UUID, userID uuid.UUID, key string) (*types.ChatMessage, *types.ChatMessage, *types.Stream, error) {
	existing, err := s.messages.GetByIdempotencyKey(repoCtx, userID, key)
	if err != nil {
		return nil, nil, nil, err
	}
	if existing == nil {
		return nil, nil, nil, nil
	}
	if existing.ThreadID != threadID {
		return nil, nil, nil, fmt.Errorf("idempotency key already used in another thread: %w", apperrors.ErrConflict)
	}

	// Assistant placeholder is always the next seq.
	var asst *types.ChatMessage
	rows, err := s.messages.ListSinceSeq(repoCtx, threadID, existing.Seq, 1)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(rows) > 0 && rows[0] != nil && rows[0].Role == types.MessageRoleAssistant {
		asst = rows[0]
	}

	var stream *types.Stream
	if asst != nil {
		stream, err = s.streams.ActiveByMessage(repoCtx, asst.ID)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return existing, asst, stream, nil
}

// buildProducerRequest assembles the conversation context for the model
// gateway from the thread's completed messages.
func (s *chatService) buildProducerRequest(repoCtx dbctx.Context, threadID uuid.UUID) (ProducerRequest, error) {
	rows, err := s.messages.ListByThread(repoCtx, threadID, producerHistoryLimit)
	if err != nil {
		return ProducerRequest{}, err
	}
	msgs := make([]ProducerMessage, 0, len(rows))
	for _, m := range rows {
		if m == nil || m.Status != types.MessageStatusReady {
			continue
		}
		var parts []types.Part
		if len(m.Parts) > 0 {
			if err := json.Unmarshal(m.Parts, &parts); err != nil {
				s.log.Warn("Skipping message with unreadable parts", "messageID", m.ID, "error", err)
				continue
			}
		}
		text := types.TextOf(parts)
		if text == "" {
			continue
		}
		msgs = append(msgs, ProducerMessage{Role: m.Role, Content: text})
	}
	return ProducerRequest{Model: s.model, Messages: msgs}, nil
}
