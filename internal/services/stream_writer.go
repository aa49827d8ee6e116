package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lumenchat/lumen-backend/internal/data/repos"
	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/pkg/dbctx"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

// StreamWriterConfig tunes the durable batching policy and the live
// subscriber buffer. Zero values fall back to the defaults below.
type StreamWriterConfig struct {
	FlushInterval time.Duration
	FlushChars    int
	LiveBuffer    int
}

func (c StreamWriterConfig) withDefaults() StreamWriterConfig {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.FlushChars <= 0 {
		c.FlushChars = 50
	}
	if c.LiveBuffer <= 0 {
		c.LiveBuffer = 64
	}
	return c
}

// StreamWriter fans one producer's event sequence out to two sinks: the
// delta log (durable, batched) and an in-process live channel (lossy,
// immediate). Exactly one goroutine drives a writer; the mutex exists for
// the live subscriber attaching and detaching from other goroutines, not
// for concurrent producers. Sequence numbers are assigned per log row in
// emission order, so replaying the log reproduces what the live channel
// saw.
//
// Text and reasoning rows are buffered and flushed together when a
// sentence boundary is observed, when the buffer grows past FlushChars,
// or when FlushInterval has passed since the last flush. Everything else
// flushes the buffer immediately so tool and error ordering stays causal
// in the log. A failed durable flush is fatal to the response; a failed
// live push is not.
type StreamWriter struct {
	mu sync.Mutex

	ctx context.Context
	log *logger.Logger

	streams  repos.StreamRepo
	deltas   repos.StreamDeltaRepo
	messages repos.ChatMessageRepo
	notify   StreamNotifier

	cfg StreamWriterConfig

	streamID  uuid.UUID
	messageID uuid.UUID
	threadID  uuid.UUID
	userID    uuid.UUID
	model     string

	seq         int64
	pending     []*types.StreamDelta
	pendingText int
	lastFlush   time.Time
	openedAt    time.Time

	parts   []types.Part
	history []*types.Envelope

	live         chan *types.Envelope
	attached     bool
	disconnected bool

	started  bool
	terminal bool
}

// NewStreamWriter builds the writer for one stream row. ctx must outlive
// the producer drain; use a request-detached context so a client
// disconnect does not cancel durable writes.
func NewStreamWriter(
	ctx context.Context,
	baseLog *logger.Logger,
	streamRepo repos.StreamRepo,
	deltaRepo repos.StreamDeltaRepo,
	messageRepo repos.ChatMessageRepo,
	notify StreamNotifier,
	row *types.Stream,
	cfg StreamWriterConfig,
) *StreamWriter {
	return &StreamWriter{
		ctx:       ctx,
		log:       baseLog.With("service", "StreamWriter", "streamID", row.ID),
		streams:   streamRepo,
		deltas:    deltaRepo,
		messages:  messageRepo,
		notify:    notify,
		cfg:       cfg.withDefaults(),
		streamID:  row.ID,
		messageID: row.MessageID,
		threadID:  row.ThreadID,
		userID:    row.UserID,
		model:     row.Model,
		lastFlush: time.Now().UTC(),
		openedAt:  time.Now().UTC(),
	}
}

func (w *StreamWriter) StreamID() uuid.UUID  { return w.streamID }
func (w *StreamWriter) MessageID() uuid.UUID { return w.messageID }

// HandleEvent dispatches one producer event. Unknown event types are
// logged and skipped; the stream keeps flowing. A producer error event
// terminates the stream after its error part is durably recorded.
func (w *StreamWriter) HandleEvent(ev types.Event) error {
	switch ev.Type {
	case types.EventTypeStart:
		return w.handleStart(ev.Model)
	case types.EventTypeText:
		return w.WriteText(ev.Text)
	case types.EventTypeReasoning:
		return w.WriteReasoning(ev.Text)
	case types.EventTypeToolCall:
		return w.WriteToolCall(ev.ToolCallID, ev.ToolName, ev.Args)
	case types.EventTypeToolCallDelta:
		return w.WriteToolCallDelta(ev.ToolCallID, ev.ToolName, ev.ArgsDelta)
	case types.EventTypeToolResult:
		return w.WriteToolResult(ev.ToolCallID, ev.Result)
	case types.EventTypeSource:
		return w.WriteSource(ev.SourceURL, ev.SourceTitle)
	case types.EventTypeFile:
		return w.WriteFile(ev.MediaType, ev.Data)
	case types.EventTypeRaw:
		return w.WriteRaw(ev.Raw)
	case types.EventTypeError:
		if err := w.WriteError(ev.Message, ev.Details); err != nil {
			w.log.Error("Failed to record producer error part", "error", err)
		}
		return w.HandleError(ev.Message)
	case types.EventTypeFinish:
		return w.Finish(ev.FinishReason, ev.Usage)
	default:
		w.log.Debug("Skipping unknown producer event type", "type", ev.Type)
		return nil
	}
}

func (w *StreamWriter) handleStart(model string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return nil
	}
	if model != "" {
		w.model = model
	}
	if err := w.ensureStartedLocked(); err != nil {
		return err
	}
	if model != "" {
		if err := w.streams.UpdateFields(dbctx.New(w.ctx), w.streamID, map[string]interface{}{"model": model}); err != nil {
			w.log.Warn("Failed to record stream model", "error", err)
		}
	}
	return nil
}

func (w *StreamWriter) WriteText(text string) error {
	if text == "" {
		return nil
	}
	return w.writePart(types.Part{Type: types.PartTypeText, Text: text}, false)
}

func (w *StreamWriter) WriteReasoning(text string) error {
	if text == "" {
		return nil
	}
	return w.writePart(types.Part{Type: types.PartTypeReasoning, Text: text}, false)
}

func (w *StreamWriter) WriteToolCall(toolCallID, toolName string, args json.RawMessage) error {
	return w.writePart(types.Part{
		Type:       types.PartTypeToolCall,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Args:       args,
		State:      types.ToolStateCall,
	}, true)
}

func (w *StreamWriter) WriteToolCallDelta(toolCallID, toolName, argsDelta string) error {
	return w.writePart(types.Part{
		Type:       types.PartTypeToolCallDelta,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		ArgsDelta:  argsDelta,
		State:      types.ToolStatePartial,
	}, true)
}

func (w *StreamWriter) WriteToolResult(toolCallID string, result json.RawMessage) error {
	return w.writePart(types.Part{
		Type:       types.PartTypeToolResult,
		ToolCallID: toolCallID,
		Result:     result,
		State:      types.ToolStateResult,
	}, true)
}

func (w *StreamWriter) WriteSource(url, title string) error {
	return w.writePart(types.Part{
		Type:        types.PartTypeSource,
		SourceURL:   url,
		SourceTitle: title,
	}, true)
}

func (w *StreamWriter) WriteFile(mediaType, data string) error {
	return w.writePart(types.Part{
		Type:      types.PartTypeFile,
		MediaType: mediaType,
		Data:      data,
	}, true)
}

func (w *StreamWriter) WriteRaw(raw json.RawMessage) error {
	return w.writePart(types.Part{Type: types.PartTypeRaw, Raw: raw}, true)
}

// WriteError records a producer failure as an error part. The part is
// pushed and flushed immediately so every sink observes the same failure
// text; terminating the stream is HandleError's job.
func (w *StreamWriter) WriteError(message string, details json.RawMessage) error {
	return w.writePart(types.Part{
		Type:    types.PartTypeError,
		Message: message,
		Details: details,
	}, true)
}

func (w *StreamWriter) writePart(p types.Part, immediate bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		w.log.Warn("Dropping write on terminal stream", "partType", p.Type)
		return nil
	}
	if err := w.ensureStartedLocked(); err != nil {
		return err
	}

	now := time.Now().UTC()
	seq := w.seq
	w.seq++

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal part: %w", err)
	}
	w.pending = append(w.pending, &types.StreamDelta{
		ID:        uuid.New(),
		StreamID:  w.streamID,
		MessageID: w.messageID,
		Seq:       seq,
		PartType:  p.Type,
		Payload:   datatypes.JSON(payload),
		CreatedAt: now,
	})
	w.parts = append(w.parts, p)
	if p.Type == types.PartTypeText || p.Type == types.PartTypeReasoning {
		w.pendingText += len(p.Text)
	}

	part := p
	env := &types.Envelope{
		StreamID:  w.streamID,
		MessageID: w.messageID,
		Seq:       seq,
		Timestamp: now,
		Part:      &part,
	}
	w.pushLiveLocked(env)
	if w.notify != nil {
		w.notify.StreamDelta(w.userID, w.threadID, env)
	}

	if immediate {
		return w.flushLocked("force")
	}
	if trigger, ok := w.shouldFlushLocked(p); ok {
		return w.flushLocked(trigger)
	}
	return nil
}

// Finish flushes everything, appends the terminal log row, marks the
// stream done, finalizes the message parts, and closes the live channel.
// No-op when already terminal.
func (w *StreamWriter) Finish(finishReason string, usage *types.Usage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		return nil
	}
	if err := w.ensureStartedLocked(); err != nil {
		return err
	}

	now := time.Now().UTC()
	seq := w.seq
	w.seq++

	p := types.Part{Type: types.PartTypeStep, Kind: types.StepKindFinish}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal terminal part: %w", err)
	}
	w.pending = append(w.pending, &types.StreamDelta{
		ID:        uuid.New(),
		StreamID:  w.streamID,
		MessageID: w.messageID,
		Seq:       seq,
		PartType:  p.Type,
		Payload:   datatypes.JSON(payload),
		CreatedAt: now,
	})
	w.parts = append(w.parts, p)
	if err := w.flushLocked("final"); err != nil {
		return err
	}

	dbc := dbctx.New(w.ctx)
	applied, err := w.streams.UpdateFieldsUnlessStatus(dbc, w.streamID, types.StreamTerminalStatuses(), map[string]interface{}{
		"status":       types.StreamStatusDone,
		"completed_at": now,
	})
	if err != nil {
		return fmt.Errorf("mark stream done: %w", err)
	}
	if applied {
		w.finalizeMessageLocked(dbc, types.MessageStatusReady, usage)
	} else {
		w.log.Warn("Stream already terminal at finish; skipping message finalize")
	}

	w.pushTerminalLocked(&types.ControlEvent{Type: types.ControlStreamEnd, Status: types.StreamStatusDone}, now)
	w.terminal = true
	observability.Current().ObserveStreamFinished(types.StreamStatusDone, time.Since(w.openedAt))

	if applied && w.notify != nil {
		msg, gErr := w.messages.GetByID(dbc, w.messageID)
		if gErr != nil {
			w.log.Warn("Failed to load finalized message for notify", "error", gErr)
		}
		w.notify.StreamDone(w.userID, w.threadID, msg, map[string]any{
			"stream_id":     w.streamID,
			"finish_reason": finishReason,
		})
	}
	return nil
}

// HandleError terminates the stream with an error status. The failure
// message lands verbatim on the stream row; any pending text is flushed
// first so nothing already produced is lost. No-op when already terminal.
func (w *StreamWriter) HandleError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		return nil
	}

	// Best-effort: on the durable-failure path this flush may fail again.
	if err := w.flushLocked("error"); err != nil {
		w.log.Error("Flush on error path failed", "error", err)
	}

	now := time.Now().UTC()
	dbc := dbctx.New(w.ctx)
	applied, err := w.streams.UpdateFieldsUnlessStatus(dbc, w.streamID, types.StreamTerminalStatuses(), map[string]interface{}{
		"status":       types.StreamStatusError,
		"error":        message,
		"completed_at": now,
	})
	if err != nil {
		w.log.Error("Failed to mark stream error", "error", err)
	}
	if applied {
		w.finalizeMessageLocked(dbc, types.MessageStatusError, nil)
	}

	w.pushTerminalLocked(&types.ControlEvent{Type: types.ControlStreamError, Message: message}, now)
	w.terminal = true
	observability.Current().ObserveStreamFinished(types.StreamStatusError, time.Since(w.openedAt))

	if applied && w.notify != nil {
		w.notify.StreamError(w.userID, w.threadID, w.streamID, w.messageID, message)
	}
	return nil
}

// AttachLive hands the caller everything pushed so far plus a channel
// that follows the stream until the terminal envelope, after which the
// channel is closed. Only the first caller wins; later calls and calls
// after terminal get ok=false and should fall back to continuation
// replay.
func (w *StreamWriter) AttachLive() ([]*types.Envelope, <-chan *types.Envelope, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal || w.attached || w.disconnected {
		return nil, nil, false
	}
	w.live = make(chan *types.Envelope, w.cfg.LiveBuffer)
	w.attached = true

	replay := make([]*types.Envelope, len(w.history))
	copy(replay, w.history)
	return replay, w.live, true
}

// DetachLive flips the disconnected flag. Durable writes continue; the
// generation never aborts because its subscriber went away. The channel
// itself is closed by the terminal path, not here.
func (w *StreamWriter) DetachLive() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.attached || w.disconnected {
		return
	}
	w.disconnected = true
	w.log.Debug("Live subscriber detached; durable writes continue")
}

func (w *StreamWriter) ensureStartedLocked() error {
	if w.started {
		return nil
	}
	dbc := dbctx.New(w.ctx)
	now := time.Now().UTC()
	if _, err := w.streams.MarkStreaming(dbc, w.streamID, now); err != nil {
		return fmt.Errorf("mark streaming: %w", err)
	}
	if _, err := w.messages.UpdateFieldsUnlessStatus(dbc, w.messageID,
		[]string{types.MessageStatusReady, types.MessageStatusError},
		map[string]interface{}{"status": types.MessageStatusStreaming},
	); err != nil {
		return fmt.Errorf("mark message streaming: %w", err)
	}
	w.started = true
	return nil
}

func (w *StreamWriter) shouldFlushLocked(p types.Part) (string, bool) {
	if len(w.pending) == 0 {
		return "", false
	}
	if p.Type == types.PartTypeText || p.Type == types.PartTypeReasoning {
		if hasSentenceBoundary(p.Text) {
			return "boundary", true
		}
	}
	if w.pendingText >= w.cfg.FlushChars {
		return "size", true
	}
	if time.Since(w.lastFlush) >= w.cfg.FlushInterval {
		return "interval", true
	}
	return "", false
}

func (w *StreamWriter) flushLocked(trigger string) error {
	if len(w.pending) == 0 {
		w.lastFlush = time.Now().UTC()
		return nil
	}
	rows := w.pending
	w.pending = nil
	w.pendingText = 0
	if err := w.deltas.AppendBatch(dbctx.New(w.ctx), rows); err != nil {
		return fmt.Errorf("flush %d deltas: %w", len(rows), err)
	}
	if m := observability.Current(); m != nil {
		partTypes := make([]string, len(rows))
		for i, r := range rows {
			partTypes[i] = r.PartType
		}
		m.ObserveDeltaFlush(trigger, len(rows), partTypes)
	}
	w.lastFlush = time.Now().UTC()
	return nil
}

func (w *StreamWriter) finalizeMessageLocked(dbc dbctx.Context, status string, usage *types.Usage) {
	display := types.DisplayParts(w.parts)
	raw, err := json.Marshal(display)
	if err != nil {
		w.log.Error("Failed to marshal final parts", "error", err)
		raw = []byte(`[]`)
	}
	updates := map[string]interface{}{
		"status": status,
		"parts":  datatypes.JSON(raw),
	}
	if w.model != "" {
		updates["model"] = w.model
	}
	if usage != nil {
		updates["input_tokens"] = usage.InputTokens
		updates["output_tokens"] = usage.OutputTokens
	}
	applied, err := w.messages.UpdateFieldsUnlessStatus(dbc, w.messageID,
		[]string{types.MessageStatusReady, types.MessageStatusError}, updates)
	if err != nil {
		w.log.Error("Failed to finalize message", "error", err)
		return
	}
	if !applied {
		w.log.Warn("Message already finalized; leaving it untouched")
	}
}

func (w *StreamWriter) pushTerminalLocked(ev *types.ControlEvent, at time.Time) {
	env := &types.Envelope{
		StreamID:  w.streamID,
		MessageID: w.messageID,
		Seq:       w.seq,
		Timestamp: at,
		Event:     ev,
	}
	w.pushLiveLocked(env)
	w.closeLiveLocked()
}

func (w *StreamWriter) pushLiveLocked(env *types.Envelope) {
	w.history = append(w.history, env)
	if w.live == nil || w.disconnected {
		return
	}
	select {
	case w.live <- env:
	default:
		observability.Current().IncLiveDropped()
		w.log.Warn("Dropping live envelope; subscriber buffer full", "seq", env.Seq)
	}
}

func (w *StreamWriter) closeLiveLocked() {
	if w.live != nil {
		close(w.live)
		w.live = nil
	}
}

// hasSentenceBoundary reports whether the chunk closes a sentence: a
// terminator at the end of the chunk, a terminator followed by
// whitespace, or a newline anywhere.
func hasSentenceBoundary(s string) bool {
	runes := []rune(s)
	for i, r := range runes {
		switch r {
		case '\n':
			return true
		case '.', '!', '?':
			if i == len(runes)-1 {
				return true
			}
			if unicode.IsSpace(runes[i+1]) {
				return true
			}
		}
	}
	return false
}
