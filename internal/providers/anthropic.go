package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// AnthropicProvider implements Provider for the Anthropic messages API.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewAnthropic(apiKey, baseURL, model string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        true,
		VisionAPI:        true,
		MaxContextWindow: 200000,
	}
}

func (p *AnthropicProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return apiErr("anthropic", KindAuth, "api key is required")
	}
	if p.model == "" {
		return apiErr("anthropic", KindModelNotFound, "model is required")
	}
	return nil
}

func (p *AnthropicProvider) buildRequestBody(req Request, stream bool) map[string]interface{} {
	// The messages API rejects temperatures above 1.0.
	temperature := req.Temperature
	if temperature > 1.0 {
		slog.Warn("anthropic.temperature_clamped", "requested", temperature, "sent", 1.0)
		temperature = 1.0
	}

	body := map[string]interface{}{
		"model":       p.model,
		"system":      req.SystemPrompt,
		"messages":    []map[string]interface{}{{"role": "user", "content": req.UserPrompt}},
		"max_tokens":  req.MaxTokens,
		"temperature": temperature,
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if req.TopK > 0 {
		body["top_k"] = req.TopK
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (p *AnthropicProvider) doRequest(ctx context.Context, body map[string]interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapErr("anthropic", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apiErr("anthropic", classify(fmt.Sprintf("%d %s", resp.StatusCode, respBody)),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.Body, nil
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	respBody, err := p.doRequest(ctx, p.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(respBody).Decode(&parsed); err != nil {
		return nil, apiErr("anthropic", KindAPI, "decode response: %v", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Response{Content: sb.String(), Model: parsed.Model}, nil
}

func (p *AnthropicProvider) GenerateStream(ctx context.Context, req Request, onChunk func(Chunk)) error {
	respBody, err := p.doRequest(ctx, p.buildRequestBody(req, true))
	if err != nil {
		return err
	}
	defer respBody.Close()

	err = scanSSE(respBody, func(payload string) (bool, error) {
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return false, nil
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				onChunk(Chunk{Content: event.Delta.Text})
			}
		case "message_stop":
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return wrapErr("anthropic", err)
	}

	onChunk(Chunk{Finished: true})
	return nil
}
