// Package chat runs a conversation against the provider and records each
// exchange in the session ledger.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/config"
	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/provider"
)

// ErrUnknownModel is returned when selecting a model the pricing table lacks.
var ErrUnknownModel = errors.New("unknown or unavailable model")

// Streamer starts a streamed completion.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []provider.Message) (*provider.Stream, error)
}

// Recorder logs a priced message.
type Recorder interface {
	Record(ctx context.Context, role model.Role, inputTokens, outputTokens int64, modelID, content string) (model.MessageEvent, error)
}

// TokenCounter counts tokens for text the provider gave no usage for.
type TokenCounter interface {
	CountAll(texts ...string) int
}

// Exchange is one completed user turn and its reply.
type Exchange struct {
	Reply     string
	User      model.MessageEvent
	Assistant model.MessageEvent
	Reported  bool
}

// Conversation holds the system prompt, history and selected model.
type Conversation struct {
	streamer Streamer
	recorder Recorder
	counter  TokenCounter
	pricing  *config.PricingTable
	system   string
	log      *zap.Logger

	mu      sync.Mutex
	model   string
	history []provider.Message
}

// New creates a Conversation on modelID. An empty modelID uses the pricing
// table's default.
func New(streamer Streamer, recorder Recorder, counter TokenCounter, pricing *config.PricingTable, systemPrompt, modelID string, logger *zap.Logger) *Conversation {
	if modelID == "" {
		modelID = pricing.DefaultModel()
	}
	return &Conversation{
		streamer: streamer,
		recorder: recorder,
		counter:  counter,
		pricing:  pricing,
		system:   systemPrompt,
		model:    modelID,
		log:      logging.OrNop(logger),
	}
}

// Model returns the selected model id.
func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel switches the model for later turns.
func (c *Conversation) SetModel(id string) error {
	p, ok := c.pricing.Lookup(id)
	if !ok || !p.Available {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	c.mu.Lock()
	c.model = p.ID
	c.mu.Unlock()
	return nil
}

// History returns a copy of the user and assistant turns so far.
func (c *Conversation) History() []provider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]provider.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Send streams a reply to text, calling onFragment for each piece, then
// records the user and assistant messages. A failed or cancelled call
// records nothing and leaves history unchanged.
func (c *Conversation) Send(ctx context.Context, text string, onFragment func(string)) (Exchange, error) {
	c.mu.Lock()
	modelID := c.model
	messages := make([]provider.Message, 0, len(c.history)+2)
	if c.system != "" {
		messages = append(messages, provider.Message{Role: "system", Content: c.system})
	}
	messages = append(messages, c.history...)
	c.mu.Unlock()
	messages = append(messages, provider.Message{Role: string(model.RoleUser), Content: text})

	upstream := modelID
	if p, ok := c.pricing.Lookup(modelID); ok {
		upstream = p.Upstream()
	}

	stream, err := c.streamer.Stream(ctx, upstream, messages)
	if err != nil {
		return Exchange{}, err
	}
	reply, err := drain(ctx, stream, onFragment)
	if err != nil {
		return Exchange{}, err
	}

	usage, reported := stream.Usage()
	in := usage.PromptTokens
	if !reported || in <= 0 {
		contents := make([]string, len(messages))
		for i, m := range messages {
			contents[i] = m.Content
		}
		in = int64(c.counter.CountAll(contents...))
	}
	out := usage.CompletionTokens
	if !reported || out <= 0 {
		out = int64(c.counter.CountAll(reply))
	}

	userEv, err := c.recorder.Record(ctx, model.RoleUser, in, 0, modelID, text)
	if err != nil {
		return Exchange{}, fmt.Errorf("recording user message: %w", err)
	}
	asstEv, err := c.recorder.Record(ctx, model.RoleAssistant, 0, out, modelID, reply)
	if err != nil {
		return Exchange{}, fmt.Errorf("recording assistant message: %w", err)
	}

	c.mu.Lock()
	c.history = append(c.history,
		provider.Message{Role: string(model.RoleUser), Content: text},
		provider.Message{Role: string(model.RoleAssistant), Content: reply},
	)
	c.mu.Unlock()

	c.log.Debug("exchange recorded",
		zap.String("model", modelID),
		zap.Int64("input_tokens", in),
		zap.Int64("output_tokens", out),
		zap.Bool("usage_reported", reported),
	)
	return Exchange{Reply: reply, User: userEv, Assistant: asstEv, Reported: reported}, nil
}

func drain(ctx context.Context, stream *provider.Stream, onFragment func(string)) (string, error) {
	var b strings.Builder
	frags := stream.Fragments()
	for {
		select {
		case <-ctx.Done():
			stream.Close()
			return "", ctx.Err()
		case f, ok := <-frags:
			if !ok {
				if err := stream.Err(); err != nil {
					return "", err
				}
				return b.String(), nil
			}
			if f.Err != nil {
				stream.Close()
				return "", f.Err
			}
			b.WriteString(f.Text)
			if onFragment != nil {
				onFragment(f.Text)
			}
		}
	}
}
