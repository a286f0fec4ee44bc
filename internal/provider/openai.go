// Package provider implements llm.Invoker against OpenAI-compatible
// chat completion endpoints.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/pkg/llm"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// HTTPClient is the subset of *http.Client used here.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Config configures an OpenAI client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// RatePerSecond caps request starts; 0 disables limiting.
	RatePerSecond float64
	Timeout       time.Duration
	MaxRetries    int
}

type OpenAI struct {
	cfg     Config
	url     string
	client  HTTPClient
	limiter *rate.Limiter
	log     *logging.Logger
}

func NewOpenAI(cfg Config) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return NewOpenAIWithClient(cfg, &http.Client{Timeout: timeout})
}

func NewOpenAIWithClient(cfg Config, client HTTPClient) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	o := &OpenAI{
		cfg:    cfg,
		url:    completionsURL(cfg.BaseURL),
		client: client,
		log:    logging.New("provider"),
	}
	if cfg.RatePerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return o
}

// completionsURL normalizes a base URL to the chat completions endpoint.
func completionsURL(base string) string {
	if base == "" {
		return openaiAPIURL
	}
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

func (o *OpenAI) Model() string { return o.cfg.Model }

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiToolCall struct {
	Index    int            `json:"index,omitempty"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function openaiFunction `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openaiRequest struct {
	Model         string            `json:"model"`
	Messages      []openaiMessage   `json:"messages"`
	Tools         []openaiTool      `json:"tools,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *openaiStreamOpts `json:"stream_options,omitempty"`
}

type openaiStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

// statusError is a non-200 answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("OpenAI API error %d: %s", e.code, e.body)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Invoke sends one streamed completion and assembles the reply into a
// single assistant message. 429 and 5xx answers are retried with
// exponential backoff.
func (o *OpenAI) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(o.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 20 * time.Second

	return backoff.Retry(ctx, func() (*llm.Response, error) {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		resp, err := o.send(ctx, body, req.Role)
		var se *statusError
		switch {
		case err == nil:
			return resp, nil
		case errors.As(err, &se) && !retryableStatus(se.code):
			return nil, backoff.Permanent(err)
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			o.log.Warn("retrying completion", zap.String("worker", req.Role), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
}

func (o *OpenAI) buildRequest(req *llm.Request) openaiRequest {
	out := openaiRequest{
		Model:         o.cfg.Model,
		Stream:        true,
		StreamOptions: &openaiStreamOpts{IncludeUsage: true},
	}
	for _, m := range req.Messages {
		content := m.Content
		msg := openaiMessage{Role: string(m.Role), Content: &content}
		switch m.Role {
		case domain.RoleTool:
			msg.ToolCallID = m.ToolCallID
		case domain.RoleAssistant:
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openaiFunction{Name: tc.Name, Arguments: mustJSON(tc.Args)},
				})
			}
			if content == "" && len(msg.ToolCalls) > 0 {
				msg.Content = nil
			}
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		tool := openaiTool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, tool)
	}
	return out
}

func (o *OpenAI) send(ctx context.Context, body []byte, worker string) (*llm.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	return o.readStream(resp.Body, worker)
}

// pendingCall accumulates argument fragments for one streamed tool call.
type pendingCall struct {
	id, name string
	args     strings.Builder
}

func (o *OpenAI) readStream(r io.Reader, worker string) (*llm.Response, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	var text strings.Builder
	calls := map[int]*pendingCall{}
	var usage llm.Usage

	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			o.log.Debug("skip malformed chunk", zap.Error(err))
			continue
		}
		if chunk.Usage != nil {
			usage = llm.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &pendingCall{}
					calls[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	msg := domain.AssistantMessage(worker, text.String())
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		pc := calls[i]
		args := map[string]any{}
		if raw := pc.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				o.log.Warn("tool call arguments are not valid JSON",
					zap.String("tool", pc.name), zap.String("raw", raw), zap.Error(err))
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: pc.id, Name: pc.name, Args: args})
	}
	return &llm.Response{Messages: []domain.Message{msg}, Usage: usage}, nil
}

func mustJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

var _ llm.Invoker = (*OpenAI)(nil)
