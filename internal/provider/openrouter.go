// Package provider streams chat completions from an OpenAI-compatible
// endpoint such as OpenRouter.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/metrics"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
	maxLine        = 1 << 20
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one piece of streamed reply text, or a terminal error.
type Fragment struct {
	Text string
	Err  error
}

// Usage is the token usage the provider reported, if any.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	Referer           string
	Title             string
	Timeout           time.Duration
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	HTTPClient        *http.Client
	Metrics           *metrics.Metrics
}

// Client issues streaming chat completion requests. It never retries.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a Client.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		// Deadlines come from the request context.
		hc = &http.Client{}
	}
	c := &Client{opts: opts, http: hc, log: logging.OrNop(logger)}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Stream starts a streamed completion. Errors before the response body
// arrives are returned directly; later failures arrive as a single error
// Fragment. The whole call, body included, is bounded by the timeout.
func (c *Client) Stream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	if c.opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			cancel()
			return nil, &ProviderError{Message: "rate limit wait", Err: err}
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		c.opts.Metrics.ProviderCall("transport_error", time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = ctxErr
		}
		return nil, &ProviderError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.opts.Metrics.ProviderCall("http_error", time.Since(start).Seconds())
		c.log.Warn("provider returned error status", zap.Int("status", resp.StatusCode), zap.String("model", model))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	s := &Stream{
		ch:     make(chan Fragment),
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.consume(ctx, s, resp.Body, start)
	return s, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.opts.Referer != "" {
		req.Header.Set("HTTP-Referer", c.opts.Referer)
	}
	if c.opts.Title != "" {
		req.Header.Set("X-Title", c.opts.Title)
	}
}

// errorMessage extracts error.message from a JSON error body.
func errorMessage(raw []byte, fallback string) string {
	if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fallback
}

func (c *Client) consume(ctx context.Context, s *Stream, body io.ReadCloser, start time.Time) {
	outcome := "ok"
	defer func() {
		_ = body.Close()
		s.cancel()
		close(s.ch)
		close(s.done)
		c.opts.Metrics.ProviderCall(outcome, time.Since(start).Seconds())
	}()

	send := func(f Fragment) bool {
		select {
		case s.ch <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// The terminal error is delivered even after the deadline, unless the
	// caller has closed the stream.
	fail := func(err error) {
		outcome = "stream_error"
		s.setErr(err)
		select {
		case s.ch <- Fragment{Err: err}:
		case <-s.stop:
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return
		}

		payload := gjson.Parse(data)
		if msg := payload.Get("error.message"); msg.Exists() {
			fail(&ProviderError{StatusCode: int(payload.Get("error.code").Int()), Message: msg.String()})
			return
		}
		if usage := payload.Get("usage"); usage.Exists() && usage.IsObject() {
			s.setUsage(Usage{
				PromptTokens:     usage.Get("prompt_tokens").Int(),
				CompletionTokens: usage.Get("completion_tokens").Int(),
			})
		}
		if text := payload.Get("choices.0.delta.content").String(); text != "" {
			if !send(Fragment{Text: text}) {
				if s.closed() {
					outcome = "cancelled"
					return
				}
				fail(&ProviderError{Err: ctx.Err()})
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if s.closed() {
			outcome = "cancelled"
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		fail(&ProviderError{Err: err})
	}
}

// Stream is an in-flight completion. Callers must read Fragments until the
// channel closes, or call Close to stop early.
type Stream struct {
	ch       chan Fragment
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	usage    Usage
	hasUsage bool
	err      error
	isClosed bool
}

// Fragments yields reply text in order. It is closed when the stream ends.
func (s *Stream) Fragments() <-chan Fragment {
	return s.ch
}

// Close stops consumption and releases the connection.
func (s *Stream) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		s.mu.Unlock()
		close(s.stop)
		s.cancel()
	})
	<-s.done
}

// Usage returns the provider-reported usage. ok is false when none was sent.
func (s *Stream) Usage() (u Usage, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.hasUsage
}

// Err returns the terminal error, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setUsage(u Usage) {
	s.mu.Lock()
	s.usage, s.hasUsage = u, true
	s.mu.Unlock()
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Stream) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}
