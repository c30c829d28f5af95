package openai_provider

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

	"github.com/docqa-ai/docqa/internal/agent/core"
)

const defaultBaseURL = "https://api.openai.com/v1"

const systemPrompt = `You are a document question answering assistant.
Answer the question using ONLY the provided context passages.
If the context does not contain the answer, say "I don't know".
Be concise and cite nothing outside the context.`

// Config carries everything needed to talk to the OpenAI API. BaseURL is
// overridable for tests and proxies.
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
	BaseURL        string
}

// client implements answer generation and embeddings against OpenAI's API
type client struct {
	cfg        Config
	httpClient *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a chat-completions request
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// response represents a buffered chat-completions response
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chunk represents one server-sent event of a streamed response
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// NewClient creates a new OpenAI client
func NewClient(cfg Config) *client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func buildMessages(question string, contexts []string) []Message {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, c)
	}
	fmt.Fprintf(&b, "QUESTION: %s", question)
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// GenerateAnswer synthesizes a grounded answer from the question and
// context passages.
func (c *client) GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error) {
	requestBody := request{
		Model:       c.cfg.Model,
		Messages:    buildMessages(question, contexts),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	resp, err := c.post(ctx, "/chat/completions", requestBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return openaiResp.Choices[0].Message.Content, nil
}

// StreamAnswer opens a streamed chat completion. Fragments are read from the
// returned stream until io.EOF.
func (c *client) StreamAnswer(ctx context.Context, question string, contexts []string) (core.AnswerStream, error) {
	requestBody := request{
		Model:       c.cfg.Model,
		Messages:    buildMessages(question, contexts),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      true,
	}

	resp, err := c.post(ctx, "/chat/completions", requestBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// CreateEmbedding generates an embedding for the given texts
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	}

	resp, err := c.post(ctx, "/embeddings", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	vecs := make([][]float32, len(openaiResp.Data))
	for i, d := range openaiResp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func (c *client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// sseStream parses a text/event-stream body into content fragments.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Recv returns the next non-empty content fragment, io.EOF on the [DONE]
// sentinel or end of body.
func (s *sseStream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("read stream: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return "", io.EOF
		}
		var ch chunk
		if err := json.Unmarshal([]byte(payload), &ch); err != nil {
			return "", fmt.Errorf("parse stream chunk: %w", err)
		}
		if len(ch.Choices) == 0 || ch.Choices[0].Delta.Content == "" {
			continue
		}
		return ch.Choices[0].Delta.Content, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
