package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vasic-digital/graphrag-core/internal/llmclient"
)

// openAICompatibleClient talks to any OpenAI-chat-completions-compatible
// endpoint, satisfying llmclient.Generator and llmclient.Embedder. The
// core never imports this: it is the external-collaborator glue the spec
// explicitly leaves to the caller.
type openAICompatibleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newOpenAICompatibleClient(baseURL, apiKey string, timeout time.Duration) *openAICompatibleClient {
	return &openAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type chatCompletionRequest struct {
	Model     string                  `json:"model"`
	Messages  []chatCompletionMessage `json:"messages"`
	MaxTokens int                     `json:"max_tokens,omitempty"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openAICompatibleClient) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, llmclient.TokenUsage, error) {
	reqBody := chatCompletionRequest{
		Model:     model,
		Messages:  []chatCompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	}
	var resp chatCompletionResponse
	if err := c.postJSON(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return "", llmclient.TokenUsage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", llmclient.TokenUsage{}, fmt.Errorf("completion endpoint returned no choices")
	}
	usage := llmclient.TokenUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	return resp.Choices[0].Message.Content, usage, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

func (c *openAICompatibleClient) Embed(ctx context.Context, model string, inputs []string) ([][]float32, llmclient.TokenUsage, error) {
	reqBody := embeddingRequest{Model: model, Input: inputs}
	var resp embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, llmclient.TokenUsage{}, err
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, llmclient.TokenUsage{InputTokens: resp.Usage.PromptTokens}, nil
}

func (c *openAICompatibleClient) postJSON(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
