package streamclient

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

const defaultPollInterval = 1 * time.Second

// MessageView is the merged picture of one in-flight assistant message:
// the display-projected parts plus where they currently come from. While
// Source is "live" the parts are the local accumulation from the push
// feed; once it flips to "durable" they are rebuilt from the delta log
// and the live state is discarded.
type MessageView struct {
	StreamID  uuid.UUID
	MessageID uuid.UUID
	Status    string
	Parts     []types.Part
	LastSeq   int64
	Source    string
	Error     string
}

const (
	SourceLive    = "live"
	SourceDurable = "durable"
)

// Reconciler drives one stream to a terminal view. Run blocks until the
// stream finishes or ctx ends; View is safe to call concurrently and
// always returns the latest coherent snapshot.
type Reconciler interface {
	Run(ctx context.Context) error
	View() MessageView
}

type ReconcilerOptions struct {
	StreamID uuid.UUID

	// DerivePart maps a display part to its rendered view, memoized per
	// part across passes. Nil keeps parts as-is.
	DerivePart func(types.Part) types.Part

	// PollInterval applies to the poll strategy only.
	PollInterval time.Duration
}

// NewLiveReconciler follows the push feed while it lasts, then replaces
// local state with a durable replay. A dropped connection and a clean
// terminal take the same path: the delta log is authoritative either way.
// When the replay itself is still mid-stream it re-attaches and repeats,
// so Run only returns once a terminal envelope has landed in the log.
func NewLiveReconciler(c *Client, log *logger.Logger, opts ReconcilerOptions) Reconciler {
	return &liveReconciler{reconcilerBase: newBase(c, log.With("service", "LiveReconciler"), opts)}
}

// NewPollReconciler never opens the push feed. It re-fetches the durable
// replay on an interval until a terminal envelope appears, which is the
// fallback for clients that cannot hold a streaming connection.
func NewPollReconciler(c *Client, log *logger.Logger, opts ReconcilerOptions) Reconciler {
	r := &pollReconciler{reconcilerBase: newBase(c, log.With("service", "PollReconciler"), opts)}
	r.interval = opts.PollInterval
	if r.interval <= 0 {
		r.interval = defaultPollInterval
	}
	return r
}

type reconcilerBase struct {
	client *Client
	log    *logger.Logger
	opts   ReconcilerOptions
	memo   *PartMemo

	mu   sync.RWMutex
	view MessageView
}

func newBase(c *Client, log *logger.Logger, opts ReconcilerOptions) reconcilerBase {
	return reconcilerBase{
		client: c,
		log:    log,
		opts:   opts,
		memo:   NewPartMemo(),
		view: MessageView{
			StreamID: opts.StreamID,
			Status:   types.StreamStatusStreaming,
			LastSeq:  -1,
		},
	}
}

func (b *reconcilerBase) View() MessageView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.view
}

func (b *reconcilerBase) setView(v MessageView) {
	b.mu.Lock()
	b.view = v
	b.mu.Unlock()
}

// render projects raw emission-ordered parts into display parts, routing
// each through the memo so unchanged parts reuse their previous view.
func (b *reconcilerBase) render(raw []types.Part) []types.Part {
	display := types.DisplayParts(raw)
	b.memo.Begin()
	out := make([]types.Part, len(display))
	for i, p := range display {
		out[i] = b.memo.Derive(partKey(i, p), p, b.derivePart)
	}
	b.memo.Evict()
	return out
}

func (b *reconcilerBase) derivePart(p types.Part) types.Part {
	if b.opts.DerivePart == nil {
		return p
	}
	return b.opts.DerivePart(p)
}

// replayDurable rebuilds the view from a full continuation replay,
// replacing whatever the live phase accumulated.
func (b *reconcilerBase) replayDurable(ctx context.Context) (bool, error) {
	feed, err := b.client.Continuation(ctx, b.opts.StreamID)
	if err != nil {
		return false, fmt.Errorf("continuation replay: %w", err)
	}
	defer feed.Close()

	var (
		raw      []types.Part
		lastSeq  int64 = -1
		msgID    uuid.UUID
		terminal *types.ControlEvent
	)
	for {
		env, err := feed.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, fmt.Errorf("continuation replay: %w", err)
		}
		msgID = env.MessageID
		lastSeq = env.Seq
		if env.Part != nil {
			raw = append(raw, *env.Part)
		}
		if env.Terminal() {
			terminal = env.Event
			break
		}
	}

	status, errText := statusFromControl(terminal)
	b.setView(MessageView{
		StreamID:  b.opts.StreamID,
		MessageID: msgID,
		Status:    status,
		Parts:     b.render(raw),
		LastSeq:   lastSeq,
		Source:    SourceDurable,
		Error:     errText,
	})
	return terminal != nil, nil
}

type liveReconciler struct {
	reconcilerBase
}

func (r *liveReconciler) Run(ctx context.Context) error {
	retry := r.opts.PollInterval
	if retry <= 0 {
		retry = defaultPollInterval
	}
	for {
		if err := r.followLive(ctx); err != nil {
			r.log.Warn("Live feed ended early, switching to durable replay",
				"stream_id", r.opts.StreamID.String(),
				"error", err.Error(),
			)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		terminal, err := r.replayDurable(ctx)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
		// The stream is still being produced; re-attach and go again.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (r *liveReconciler) followLive(ctx context.Context) error {
	feed, err := r.client.Live(ctx, r.opts.StreamID)
	if err != nil {
		return err
	}
	defer feed.Close()

	var raw []types.Part
	for {
		env, err := feed.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if env.Terminal() {
			return nil
		}
		if env.Part == nil {
			continue
		}
		raw = append(raw, *env.Part)
		r.setView(MessageView{
			StreamID:  r.opts.StreamID,
			MessageID: env.MessageID,
			Status:    types.StreamStatusStreaming,
			Parts:     r.render(raw),
			LastSeq:   env.Seq,
			Source:    SourceLive,
		})
	}
}

type pollReconciler struct {
	reconcilerBase
	interval time.Duration
}

func (r *pollReconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		terminal, err := r.replayDurable(ctx)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// partKey is the memo identity for a display part. Tool calls are keyed
// by call id so folding shifts do not thrash the cache; everything else
// keys on position and type.
func partKey(i int, p types.Part) string {
	if p.Type == types.PartTypeToolCall && p.ToolCallID != "" {
		return "tool:" + p.ToolCallID
	}
	return fmt.Sprintf("%d:%s", i, p.Type)
}

func statusFromControl(ev *types.ControlEvent) (string, string) {
	if ev == nil {
		return types.StreamStatusStreaming, ""
	}
	if ev.Type == types.ControlStreamError {
		return types.StreamStatusError, ev.Message
	}
	if ev.Status != "" {
		return ev.Status, ""
	}
	return types.StreamStatusDone, ""
}
