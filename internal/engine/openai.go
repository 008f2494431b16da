package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAIConfig points at an OpenAI-compatible server (llama.cpp server,
// vLLM, Ollama) that hosts the weights itself.
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// OpenAIFactory talks to a running server over HTTP. Weight sources are not
// read; the server owns its model files.
type OpenAIFactory struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

func NewOpenAIFactory(cfg OpenAIConfig) *OpenAIFactory {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	// Timeout stays 0: streaming responses are bounded by request contexts.
	return &OpenAIFactory{cfg: cfg, httpClient: &http.Client{Transport: tr}}
}

func (f *OpenAIFactory) Available() error {
	if f.cfg.BaseURL == "" {
		return fmt.Errorf("%w: openai engine has no base url", ErrUnavailable)
	}
	return nil
}

// Create probes /v1/models so an unreachable server fails the load instead of
// the first chat.
func (f *OpenAIFactory) Create(ctx context.Context, modelID string, opts Options) (Engine, error) {
	if err := f.Available(); err != nil {
		return nil, err
	}
	opts.progress("Connecting to " + f.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	f.authorize(req)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("engine: probe %s: %w", f.cfg.BaseURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, fmt.Errorf("engine: probe %s: %s", f.cfg.BaseURL, resp.Status)
	}
	opts.progress("Connected")
	return &openAIEngine{factory: f, model: modelID}, nil
}

func (f *OpenAIFactory) authorize(req *http.Request) {
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}
}

type openAIEngine struct {
	factory *OpenAIFactory
	model   string
}

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

// openAIStreamResponse is a minimal subset of a streamed chat chunk.
type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func toOpenAIMessages(msgs []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Images) == 0 {
			out = append(out, openAIMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openAIContentPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			p := openAIContentPart{Type: "image_url"}
			p.ImageURL = &struct {
				URL string `json:"url"`
			}{URL: img}
			parts = append(parts, p)
		}
		out = append(out, openAIMessage{Role: m.Role, Content: parts})
	}
	return out
}

func (e *openAIEngine) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	var cancel context.CancelFunc = func() {}
	if t := e.factory.cfg.RequestTimeout; t > 0 {
		ctx, cancel = context.WithTimeout(ctx, t)
	}
	body, err := json.Marshal(openAIChatRequest{
		Model:       e.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.factory.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	e.factory.authorize(hreq)
	resp, err := e.factory.httpClient.Do(hreq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("engine: chat http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return &openAIStream{ctx: ctx, body: resp.Body, r: bufio.NewReader(resp.Body), cancel: cancel, log: e.factory.cfg.Logger}, nil
}

func (e *openAIEngine) ClearRuntimeCache(context.Context) error { return nil }
func (e *openAIEngine) Close() error                            { return nil }

// openAIStream parses Server-Sent Events lines of the form "data: {...}".
type openAIStream struct {
	ctx    context.Context
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
	log    zerolog.Logger
	done   bool
}

func (s *openAIStream) Recv() (Chunk, error) {
	for !s.done {
		line, err := s.r.ReadString('\n')
		if c, ok, end := s.parseLine(strings.TrimSpace(line)); end {
			s.done = true
			break
		} else if ok {
			return c, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				break
			}
			if s.ctx.Err() != nil {
				return Chunk{}, s.ctx.Err()
			}
			s.log.Warn().Err(err).Msg("openai_stream_read_error")
			return Chunk{}, err
		}
	}
	return Chunk{}, io.EOF
}

// parseLine returns a chunk when the line carries content or a finish
// reason, and end when the stream terminator was seen.
func (s *openAIStream) parseLine(line string) (c Chunk, ok bool, end bool) {
	if line == "" || !strings.HasPrefix(strings.ToLower(line), "data:") {
		return Chunk{}, false, false
	}
	data := strings.TrimSpace(line[len("data:"):])
	if data == "[DONE]" {
		return Chunk{}, false, true
	}
	var msg openAIStreamResponse
	if err := json.Unmarshal([]byte(data), &msg); err != nil || len(msg.Choices) == 0 {
		s.log.Debug().Str("line", line).Msg("openai_stream_unknown_line")
		return Chunk{}, false, false
	}
	ch := msg.Choices[0]
	if ch.Delta.Content == "" && ch.FinishReason == "" {
		return Chunk{}, false, false
	}
	return Chunk{Content: ch.Delta.Content, FinishReason: ch.FinishReason}, true, false
}

func (s *openAIStream) Close() error {
	s.cancel()
	return s.body.Close()
}
