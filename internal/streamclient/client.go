package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

// Feed lines can carry a full tool-result payload; keep the scanner limit
// aligned with the writer's delta payload ceiling.
const maxFeedLine = 1 << 20

type Options struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

// Client talks to the streaming HTTP surface: the live NDJSON feed, the
// continuation replay, stream status, and the thread message list.
type Client struct {
	log     *logger.Logger
	baseURL string
	token   string

	httpClient *http.Client
}

func New(log *logger.Logger, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		// No client-level timeout: a live feed stays open for the whole
		// response. Callers bound it with a context.
		hc = &http.Client{}
	}

	return &Client{
		log:        log.With("service", "StreamClient"),
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: hc,
	}, nil
}

// HTTPError is a non-2xx response from the streaming surface, with the
// server's error code when the body carried one.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stream api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stream api: %d", e.StatusCode)
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

// Feed reads one NDJSON envelope stream, live or continuation. Next
// returns io.EOF when the server closes the connection; a terminal
// envelope before that is the normal end of a finished stream.
type Feed struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newFeed(body io.ReadCloser) *Feed {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), maxFeedLine)
	return &Feed{body: body, scanner: sc}
}

// Next decodes the next envelope. Blank lines are skipped; a malformed
// line fails the feed because envelopes are framed by the server, not a
// lossy transport.
func (f *Feed) Next() (*types.Envelope, error) {
	for f.scanner.Scan() {
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" {
			continue
		}
		var env types.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return nil, fmt.Errorf("decode feed line: %w", err)
		}
		return &env, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (f *Feed) Close() error { return f.body.Close() }

// Live opens the low-latency feed for an in-flight stream. The server
// falls back to a full replay when no live writer is attached, so the
// caller reads the same envelopes either way.
func (c *Client) Live(ctx context.Context, streamID uuid.UUID) (*Feed, error) {
	return c.openFeed(ctx, fmt.Sprintf("/api/streams/%s/live", streamID))
}

// Continuation replays the durable delta log from sequence 0.
func (c *Client) Continuation(ctx context.Context, streamID uuid.UUID) (*Feed, error) {
	return c.openFeed(ctx, fmt.Sprintf("/api/streams/%s/continue", streamID))
}

func (c *Client) openFeed(ctx context.Context, path string) (*Feed, error) {
	resp, err := c.do(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return newFeed(resp.Body), nil
}

// Stream fetches the lifecycle record for a stream id.
func (c *Client) Stream(ctx context.Context, streamID uuid.UUID) (*types.Stream, error) {
	var payload struct {
		Stream *types.Stream `json:"stream"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/streams/%s", streamID), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Stream == nil {
		return nil, errors.New("stream api: empty stream payload")
	}
	return payload.Stream, nil
}

// Messages lists a thread's messages in seq order. afterSeq is the
// polling cursor: pass the highest seq already held to fetch only newer
// rows, or nil for the whole thread.
func (c *Client) Messages(ctx context.Context, threadID uuid.UUID, afterSeq *int64) ([]*types.ChatMessage, error) {
	q := url.Values{}
	if afterSeq != nil {
		q.Set("after_seq", strconv.FormatInt(*afterSeq, 10))
	}
	var payload struct {
		Messages []*types.ChatMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/threads/%s/messages", threadID), q, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.do(ctx, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		return nil, parseHTTPError(resp.StatusCode, raw)
	}
	return resp, nil
}

func parseHTTPError(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	hErr := &HTTPError{StatusCode: status}
	if json.Unmarshal(raw, &envelope) == nil {
		hErr.Code = envelope.Error.Code
		hErr.Message = envelope.Error.Message
	}
	return hErr
}
