package modelgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/pkg/httpx"
	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
	"github.com/lumenchat/lumen-backend/internal/platform/envutil"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type Options struct {
	BaseURL string
	APIKey  string
	Model   string

	// StreamTimeout bounds one whole response, first byte to last. Zero
	// means the stream runs until the gateway closes it.
	StreamTimeout time.Duration
	MaxRetries    int

	HTTPClient *http.Client
}

// Client streams typed producer events from the model gateway over SSE.
type Client struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	model   string

	streamTimeout time.Duration
	maxRetries    int

	httpClient *http.Client
}

func New(log *logger.Logger, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	hc := opts.HTTPClient
	if hc == nil {
		// No client-level timeout: a healthy stream can legitimately run
		// for minutes. StreamTimeout bounds it via context instead.
		hc = &http.Client{}
	}

	return &Client{
		log:           log.With("service", "ModelGatewayClient"),
		baseURL:       baseURL,
		apiKey:        strings.TrimSpace(opts.APIKey),
		model:         strings.TrimSpace(opts.Model),
		streamTimeout: opts.StreamTimeout,
		maxRetries:    maxRetries,
		httpClient:    hc,
	}, nil
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	streamTimeoutSeconds := envutil.Int("LC_MODELGW_STREAM_TIMEOUT_SECONDS", 0)
	maxRetries := envutil.Int("LC_MODELGW_MAX_RETRIES", 2)

	return New(log, Options{
		BaseURL:       envutil.String("LC_MODELGW_BASE_URL", "http://localhost:8081"),
		APIKey:        strings.TrimSpace(os.Getenv("LC_MODELGW_API_KEY")),
		Model:         strings.TrimSpace(os.Getenv("LC_MODELGW_MODEL")),
		StreamTimeout: time.Duration(streamTimeoutSeconds) * time.Second,
		MaxRetries:    maxRetries,
	})
}

func (c *Client) BaseURL() string { return c.baseURL }

// StreamResponse opens one streamed response and forwards each decoded
// event to onEvent in arrival order. Connection failures and retryable
// statuses are retried with backoff, but only until the first event has
// been delivered: after that a retry would replay sequence numbers the
// caller already consumed, so the stream fails instead. An error from
// onEvent aborts the stream and is returned as-is.
func (c *Client) StreamResponse(ctx context.Context, req Request, onEvent func(ev types.Event) error) error {
	if strings.TrimSpace(req.Model) == "" {
		req.Model = c.model
	}
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages required")
	}
	req.Stream = true

	ctx = ctxutil.Default(ctx)
	if c.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	backoff := 1 * time.Second
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delivered, resp, err := c.streamOnce(ctx, req, onEvent)
		if err == nil {
			return nil
		}
		if delivered || attempt >= c.maxRetries || !httpx.IsRetryableError(err) {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Model gateway stream retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
}

func (c *Client) streamOnce(ctx context.Context, req Request, onEvent func(ev types.Event) error) (bool, *http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return false, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return false, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(req.Model, resp, err, start, nil)
		return false, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		hErr := parseHTTPError(resp.StatusCode, raw)
		c.observe(req.Model, resp, hErr, start, nil)
		return false, resp, hErr
	}
	defer resp.Body.Close()

	delivered := false
	var usage *types.Usage
	err = streamSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}

		var ev types.Event
		if uErr := json.Unmarshal([]byte(data), &ev); uErr != nil {
			// One malformed frame must not kill a response already in
			// flight; skip it and keep reading.
			c.log.Warn("Skipping malformed gateway frame", "event", event, "error", uErr)
			return nil
		}
		if ev.Type == "" {
			ev.Type = strings.TrimSpace(event)
		}
		if ev.Type == "" {
			return nil
		}
		if ev.Type == types.EventTypeFinish && ev.Usage != nil {
			usage = ev.Usage
		}

		delivered = true
		return onEvent(ev)
	})
	c.observe(req.Model, resp, err, start, usage)
	if err != nil {
		return delivered, resp, fmt.Errorf("gateway stream: %w", err)
	}
	return delivered, resp, nil
}

func (c *Client) observe(model string, resp *http.Response, err error, start time.Time, usage *types.Usage) {
	metrics := observability.Current()
	if metrics == nil {
		return
	}
	var inTokens, outTokens int64
	if usage != nil {
		inTokens = usage.InputTokens
		outTokens = usage.OutputTokens
	}
	status := statusFromResp(resp)
	if err != nil {
		status = statusFromRespErr(resp, err)
	}
	metrics.ObserveModelRequest(model, "/v1/responses", status, time.Since(start), inTokens, outTokens)
}

func statusFromResp(resp *http.Response) string {
	if resp == nil {
		return "unknown"
	}
	return strconv.Itoa(resp.StatusCode)
}

func statusFromRespErr(resp *http.Response, err error) string {
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	var httpErr *HTTPError
	if err != nil && errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
