package embed

import (
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
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOpenAIDims    = 1536
	defaultOpenAITimeout = 60 * time.Second
	openAIMaxBatchSize   = 2048
)

// OpenAIConfig holds configuration for the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BaseURL    string
	Timeout    time.Duration
}

// OpenAIProvider implements Provider against an OpenAI-compatible
// embeddings endpoint.
type OpenAIProvider struct {
	config OpenAIConfig
	client *http.Client
}

type openaiEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultOpenAIDims
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	embeddings, err := p.doEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, NewProviderError("openai", "embed", fmt.Errorf("no embedding returned"))
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, NewProviderError("openai", "embedBatch", fmt.Errorf("text %d: %w", i, ErrEmptyText))
		}
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatchSize {
		end := min(i+openAIMaxBatchSize, len(texts))
		embeddings, err := p.doEmbed(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		results = append(results, embeddings...)
	}
	return results, nil
}

func (p *OpenAIProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openaiEmbeddingRequest{Model: p.config.Model, Input: texts}
	// Only the text-embedding-3 models accept a dimensions override.
	if strings.HasPrefix(p.config.Model, "text-embedding-3") && p.config.Dimensions != defaultOpenAIDims {
		req.Dimensions = p.config.Dimensions
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, NewProviderError("openai", "embed", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewProviderError("openai", "embed", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewProviderError("openai", "embed", fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError("openai", "embed", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			if errResp.Error.Code == "model_not_found" {
				return nil, NewProviderError("openai", "embed", ErrModelNotFound)
			}
			return nil, NewProviderError("openai", "embed",
				fmt.Errorf("status %d: %s", resp.StatusCode, errResp.Error.Message))
		}
		return nil, NewProviderError("openai", "embed", fmt.Errorf("status %d", resp.StatusCode))
	}

	var embResp openaiEmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, NewProviderError("openai", "embed", fmt.Errorf("decode response: %w", err))
	}
	if len(embResp.Data) != len(texts) {
		return nil, NewProviderError("openai", "embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(embResp.Data), len(texts)))
	}

	// The API may return data out of order; index is authoritative.
	results := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, NewProviderError("openai", "embed", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		results[d.Index] = vec
	}
	return results, nil
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector length.
func (p *OpenAIProvider) Dimensions() int {
	return p.config.Dimensions
}

// Ping verifies the API key by requesting a single minimal embedding.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	_, err := p.Embed(ctx, "ping")
	return err
}
