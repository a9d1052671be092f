package llm

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
)

const (
	// DefaultGroqBaseURL is the Groq OpenAI-compatible API endpoint.
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

	// DefaultGroqModel is the default hosted model.
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// GroqClient implements the LLM interface against Groq's
// OpenAI-compatible chat completions API.
type GroqClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// streamClient carries no timeout; http.Client.Timeout covers the
	// whole body read, which would cut off long streams. The request
	// context handles cancellation.
	streamClient *http.Client
	model        string
}

// GroqOption is a functional option for configuring GroqClient.
type GroqOption func(*GroqClient)

// WithGroqBaseURL sets a custom base URL, mainly for tests.
func WithGroqBaseURL(url string) GroqOption {
	return func(c *GroqClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithGroqHTTPClient sets a custom HTTP client, used for both blocking
// and streaming requests.
func WithGroqHTTPClient(client *http.Client) GroqOption {
	return func(c *GroqClient) {
		c.httpClient = client
		c.streamClient = client
	}
}

// WithGroqModel sets the default model for the client.
func WithGroqModel(model string) GroqOption {
	return func(c *GroqClient) {
		c.model = model
	}
}

// NewGroqClient creates a Groq client authenticated with apiKey.
func NewGroqClient(apiKey string, opts ...GroqOption) *GroqClient {
	c := &GroqClient{
		baseURL: DefaultGroqBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		streamClient: &http.Client{},
		model:        DefaultGroqModel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends a chat completion request and returns the answer text.
func (c *GroqClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req, err := c.buildRequest(ctx, prompt, opts, false)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrGenerationFailure, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: executing request: %v", ErrGenerationFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: groq API status %d: %s", ErrGenerationFailure, resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrGenerationFailure, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: groq API returned no choices", ErrGenerationFailure)
	}

	return result.Choices[0].Message.Content, nil
}

// GenerateStream streams the chat completion as server-sent events.
func (c *GroqClient) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	req, err := c.buildRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrGenerationFailure, err)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: executing request: %v", ErrGenerationFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: groq API status %d: %s", ErrGenerationFailure, resp.StatusCode, string(body))
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				chunks <- StreamChunk{Done: true}
				return
			}

			var streamResp chatStreamResponse
			if err := json.Unmarshal([]byte(payload), &streamResp); err != nil {
				chunks <- StreamChunk{Error: fmt.Errorf("parsing stream response: %w", err), Done: true}
				return
			}
			if len(streamResp.Choices) == 0 {
				continue
			}

			done := streamResp.Choices[0].FinishReason != nil
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Error: ctx.Err(), Done: true}
				return
			case chunks <- StreamChunk{Token: streamResp.Choices[0].Delta.Content, Done: done}:
			}
			if done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- StreamChunk{Error: fmt.Errorf("reading stream: %w", err), Done: true}
		}
	}()

	return chunks, nil
}

func (c *GroqClient) buildRequest(ctx context.Context, prompt string, opts GenerateOptions, stream bool) (*http.Request, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	messages := make([]chatMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return req, nil
}

// Ensure GroqClient implements LLM interface.
var _ LLM = (*GroqClient)(nil)
