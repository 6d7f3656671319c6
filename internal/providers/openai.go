package providers

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

// OpenAIProvider implements Provider for OpenAI-compatible chat-completion
// APIs. The same wire protocol serves OpenAI, DeepSeek, and OpenRouter;
// variant-specific headers and reasoning fields are toggled per name.
type OpenAIProvider struct {
	name          string
	apiKey        string
	baseURL       string
	model         string
	reasoning     bool
	contextWindow int

	// OpenRouter-only attribution headers and provider routing.
	referer       string
	title         string
	providerPrefs string

	client *http.Client
}

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

func NewOpenAI(apiKey, baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIProvider{
		name:          "openai",
		apiKey:        apiKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		model:         model,
		contextWindow: 128000,
		client:        &http.Client{Timeout: 120 * time.Second},
	}
}

func NewDeepSeek(apiKey, baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = deepSeekBaseURL
	}
	p := NewOpenAI(apiKey, baseURL, model)
	p.name = "deepseek"
	p.reasoning = true
	p.contextWindow = 64000
	return p
}

func NewOpenRouter(apiKey, baseURL, model, providerPrefs string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	p := NewOpenAI(apiKey, baseURL, model)
	p.name = "openrouter"
	p.reasoning = true
	p.contextWindow = 200000
	p.referer = "https://github.com/amiantos/ursceal"
	p.title = "Ursceal"
	p.providerPrefs = providerPrefs
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        true,
		Reasoning:        p.reasoning,
		MaxContextWindow: p.contextWindow,
	}
}

func (p *OpenAIProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return apiErr(p.name, KindAuth, "api key is required")
	}
	if p.model == "" {
		return apiErr(p.name, KindModelNotFound, "model is required")
	}
	return nil
}

// usesCompletionTokensParam reports whether the model rejects max_tokens in
// favor of max_completion_tokens (newer OpenAI reasoning-era models).
func usesCompletionTokensParam(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-5", "o1", "o3", "chatgpt-"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func (p *OpenAIProvider) buildRequestBody(req Request, stream bool) map[string]interface{} {
	body := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": req.UserPrompt},
		},
		"stream":      stream,
		"temperature": req.Temperature,
	}
	if usesCompletionTokensParam(p.model) {
		body["max_completion_tokens"] = req.MaxTokens
	} else {
		body["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if req.FrequencyPenalty != 0 {
		body["frequency_penalty"] = req.FrequencyPenalty
	}
	if req.PresencePenalty != 0 {
		body["presence_penalty"] = req.PresencePenalty
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}
	if p.name == "openrouter" && p.providerPrefs != "" {
		// Pin to the preferred providers; fallback routing would ignore
		// the preference list.
		body["route"] = "fallback"
	}
	return body
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body map[string]interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.name == "openrouter" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
		httpReq.Header.Set("X-Title", p.title)
		if p.providerPrefs != "" {
			httpReq.Header.Set("X-OpenRouter-Provider", p.providerPrefs)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapErr(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apiErr(p.name, classify(fmt.Sprintf("%d %s", resp.StatusCode, respBody)),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.Body, nil
}

type openAIMessage struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			ReasoningDetails []struct {
				Text string `json:"text"`
			} `json:"reasoning_details"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	respBody, err := p.doRequest(ctx, p.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(respBody).Decode(&parsed); err != nil {
		return nil, apiErr(p.name, KindAPI, "decode response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, apiErr(p.name, KindAPI, "response contained no choices")
	}

	msg := parsed.Choices[0].Message
	reasoning := msg.ReasoningContent
	if reasoning == "" {
		reasoning = msg.Reasoning
	}
	return &Response{Content: msg.Content, Reasoning: reasoning, Model: parsed.Model}, nil
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, req Request, onChunk func(Chunk)) error {
	respBody, err := p.doRequest(ctx, p.buildRequestBody(req, true))
	if err != nil {
		return err
	}
	defer respBody.Close()

	err = scanSSE(respBody, func(payload string) (bool, error) {
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return false, nil
		}
		if len(chunk.Choices) == 0 {
			return false, nil
		}

		choice := chunk.Choices[0]
		reasoning := choice.Delta.ReasoningContent
		if reasoning == "" {
			reasoning = choice.Delta.Reasoning
		}
		if reasoning == "" && len(choice.Delta.ReasoningDetails) > 0 {
			reasoning = choice.Delta.ReasoningDetails[0].Text
		}
		if reasoning != "" {
			onChunk(Chunk{Reasoning: reasoning})
		}
		if choice.Delta.Content != "" {
			onChunk(Chunk{Content: choice.Delta.Content})
		}
		return choice.FinishReason != nil && *choice.FinishReason != "", nil
	})
	if err != nil {
		return wrapErr(p.name, err)
	}

	onChunk(Chunk{Finished: true})
	return nil
}
