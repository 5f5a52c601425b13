package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/myaview/backend/internal/platform/envutil"
	"github.com/myaview/backend/internal/platform/logger"
)

// Client wraps the Ollama HTTP API. The inference engine is a black box from
// the core's perspective: text in, token stream out, vectors out.
type Client interface {
	// Chat runs a full (non-streaming) completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	// ChatStream runs a streaming completion, invoking onToken for every
	// delta. The accumulated result is returned after the final chunk. A
	// non-nil error from onToken stops forwarding but lets the completion
	// drain, so the full text is still returned.
	ChatStream(ctx context.Context, req ChatRequest, onToken func(token string) error) (*ChatResult, error)
	// Embed maps each input text to a fixed-length vector.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	// ChatModel and EmbedModel report the configured model identifiers.
	ChatModel() string
	EmbedModel() string
}

type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ChatRequest struct {
	// Model overrides the configured default when non-empty.
	Model    string
	Messages []Message
	// Format forces structured output ("json") when set.
	Format string
}

type ChatResult struct {
	Content string
	Model   string
}

type client struct {
	log         *logger.Logger
	baseURL     string
	chatModel   string
	embedModel  string
	httpClient  *http.Client
	embedClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimRight(envutil.GetEnv("OLLAMA_HOST", "http://localhost:11434", log), "/")
	chatModel := envutil.GetEnv("OLLAMA_CHAT_MODEL", "llama3.2-vision:11b", log)
	embedModel := envutil.GetEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text", log)

	// Generation dominates latency; embedding calls are short. Independent
	// timeouts so a generic one never aborts a healthy completion.
	chatTimeout := envutil.GetEnvAsDuration("OLLAMA_CHAT_TIMEOUT_SECONDS", 300*time.Second, log)
	embedTimeout := envutil.GetEnvAsDuration("OLLAMA_EMBED_TIMEOUT_SECONDS", 5*time.Second, log)

	return &client{
		log:         log.With("client", "OllamaClient"),
		baseURL:     baseURL,
		chatModel:   chatModel,
		embedModel:  embedModel,
		httpClient:  &http.Client{Timeout: chatTimeout},
		embedClient: &http.Client{Timeout: embedTimeout},
	}, nil
}

func (c *client) ChatModel() string  { return c.chatModel }
func (c *client) EmbedModel() string { return c.embedModel }

type chatRequestBody struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type chatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (c *client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	body := chatRequestBody{Model: model, Messages: req.Messages, Stream: false, Format: req.Format}

	resp, raw, err := c.doOnce(ctx, c.httpClient, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp.StatusCode, raw)
	}

	var chunk chatChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, fmt.Errorf("ollama: decode chat response: %w", err)
	}
	return &ChatResult{Content: chunk.Message.Content, Model: chunk.Model}, nil
}

func (c *client) ChatStream(ctx context.Context, req ChatRequest, onToken func(token string) error) (*ChatResult, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	body := chatRequestBody{Model: model, Messages: req.Messages, Stream: true, Format: req.Format}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: chat stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, httpError(resp.StatusCode, raw)
	}

	var (
		full       strings.Builder
		usedModel  = model
		forwarding = onToken != nil
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.log.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Model != "" {
			usedModel = chunk.Model
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if forwarding {
				if err := onToken(chunk.Message.Content); err != nil {
					// Receiver is gone. Keep draining so the completed text
					// is not wasted.
					forwarding = false
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama: read stream: %w", err)
	}
	return &ChatResult{Content: full.String(), Model: usedModel}, nil
}

type embedRequestBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponseBody struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	body := embedRequestBody{Model: c.embedModel, Input: inputs}

	resp, raw, err := c.doOnce(ctx, c.embedClient, "/api/embed", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp.StatusCode, raw)
	}

	var out embedResponseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ollama: decode embed response: %w", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama: embed returned %d vectors for %d inputs", len(out.Embeddings), len(inputs))
	}
	return out.Embeddings, nil
}

func (c *client) doOnce(ctx context.Context, httpClient *http.Client, path string, body any) (*http.Response, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ollama: %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("ollama: read %s response: %w", path, err)
	}
	return resp, raw, nil
}

type ollamaHTTPError struct {
	status int
	body   string
}

func (e *ollamaHTTPError) Error() string {
	return fmt.Sprintf("ollama: http %d: %s", e.status, e.body)
}

func httpError(status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))
	if len(body) > 512 {
		body = body[:512]
	}
	return &ollamaHTTPError{status: status, body: body}
}
