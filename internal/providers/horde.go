package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	hordeBaseURL      = "https://aihorde.net/api/v2"
	hordeAnonymousKey = "0000000000"

	hordePollInterval = 2000 * time.Millisecond
	hordeTimeout      = 300 * time.Second

	hordeModelCacheTTL = 5 * time.Minute
)

// Crowdsourced workers advertise everything; tiny and debug models are
// never worth queueing for.
var hordeModelBlocklist = []string{"tinyllama", "debug", "-1b", "-270m", "test"}

var hordeModelAllowlist = []string{
	"llama-3", "llama3", "mistral", "mixtral", "qwen2.5", "deepseek",
	"gemma", "magnum", "hermes", "command",
}

// HordeProvider implements Provider over the AI Horde text queue. The horde
// has no streaming: a request is submitted, then polled until a worker
// finishes it.
type HordeProvider struct {
	apiKey  string
	baseURL string

	models         []string
	workers        []string
	trustedWorkers bool
	slowWorkers    bool
	maxContext     int

	pollInterval time.Duration
	timeout      time.Duration
	client       *http.Client

	mu            sync.Mutex
	cachedModels  []HordeModel
	modelsFetched time.Time
}

func NewHorde(apiKey, baseURL string, models []string) *HordeProvider {
	if apiKey == "" {
		apiKey = hordeAnonymousKey
	}
	if baseURL == "" {
		baseURL = hordeBaseURL
	}
	return &HordeProvider{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		models:       models,
		slowWorkers:  true,
		maxContext:   2048,
		pollInterval: hordePollInterval,
		timeout:      hordeTimeout,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

// WithWorkerFilters restricts which workers may pick up requests.
func (p *HordeProvider) WithWorkerFilters(workers []string, trusted, slow bool) *HordeProvider {
	p.workers = workers
	p.trustedWorkers = trusted
	p.slowWorkers = slow
	return p
}

// SetMaxContextLength overrides the max_context_length sent with requests,
// typically the dynamic limit computed from worker data.
func (p *HordeProvider) SetMaxContextLength(n int) {
	if n > 0 {
		p.maxContext = n
	}
}

func (p *HordeProvider) Name() string { return "horde" }

func (p *HordeProvider) Capabilities() Capabilities {
	return Capabilities{
		MaxContextWindow: p.maxContext,
		RequiresPolling:  true,
	}
}

func (p *HordeProvider) ValidateConfig() error {
	// The horde accepts anonymous requests; nothing is mandatory.
	return nil
}

// HordeModel is one entry from the horde's active model list.
type HordeModel struct {
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	ETA         int     `json:"eta"`
	Queued      float64 `json:"queued"`
	Performance float64 `json:"performance"`
}

// HordeWorker is one text worker, as reported by the workers endpoint.
type HordeWorker struct {
	Name             string   `json:"name"`
	Online           bool     `json:"online"`
	MaxContextLength int      `json:"max_context_length"`
	MaxLength        int      `json:"max_length"`
	Models           []string `json:"models"`
}

type hordeSubmitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type hordeStatusResponse struct {
	Done          bool `json:"done"`
	Faulted       bool `json:"faulted"`
	QueuePosition int  `json:"queue_position"`
	WaitTime      int  `json:"wait_time"`
	Generations   []struct {
		Text       string `json:"text"`
		Model      string `json:"model"`
		WorkerName string `json:"worker_name"`
		WorkerID   string `json:"worker_id"`
		Kudos      float64 `json:"kudos"`
	} `json:"generations"`
}

func (p *HordeProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	id, err := p.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.poll(ctx, id)
}

// GenerateStream satisfies the streaming interface by emitting the whole
// completion as one chunk once the queue delivers it.
func (p *HordeProvider) GenerateStream(ctx context.Context, req Request, onChunk func(Chunk)) error {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return err
	}
	onChunk(Chunk{Content: resp.Content, Finished: true})
	return nil
}

func (p *HordeProvider) submit(ctx context.Context, req Request) (string, error) {
	params := map[string]interface{}{
		"max_length":              req.MaxTokens,
		"max_context_length":      p.maxContext,
		"temperature":             req.Temperature,
		"rep_pen":                 1.1,
		"rep_pen_range":           320,
		"sampler_order":           []int{6, 0, 1, 3, 4, 2, 5},
		"use_default_badwordsids": false,
	}
	if len(req.StopSequences) > 0 {
		params["stop_sequence"] = req.StopSequences
	}

	body := map[string]interface{}{
		"prompt": req.SystemPrompt + "\n\n" + req.UserPrompt,
		"params": params,
		"models": p.models,
	}
	if len(p.workers) > 0 {
		body["workers"] = p.workers
	}
	body["trusted_workers"] = p.trustedWorkers
	body["slow_workers"] = p.slowWorkers

	var parsed hordeSubmitResponse
	if err := p.doJSON(ctx, "POST", "/generate/text/async", body, &parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", apiErr("horde", KindQueue, "submit rejected: %s", parsed.Message)
	}
	return parsed.ID, nil
}

func (p *HordeProvider) poll(ctx context.Context, id string) (*Response, error) {
	deadline := time.Now().Add(p.timeout)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, wrapErr("horde", ctx.Err())
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return nil, apiErr("horde", KindTimeout, "generation timed out after %s", p.timeout)
		}

		var status hordeStatusResponse
		if err := p.doJSON(ctx, "GET", "/generate/text/status/"+id, nil, &status); err != nil {
			return nil, err
		}
		if status.Faulted {
			return nil, apiErr("horde", KindQueue, "generation faulted")
		}
		if !status.Done {
			continue
		}
		if len(status.Generations) == 0 {
			return nil, apiErr("horde", KindQueue, "done with no generations")
		}
		gen := status.Generations[0]
		return &Response{
			Content: strings.TrimLeft(gen.Text, "\n"),
			Model:   gen.Model,
		}, nil
	}
}

// GetAvailableModels lists active text models, cached for five minutes.
func (p *HordeProvider) GetAvailableModels(ctx context.Context) ([]HordeModel, error) {
	p.mu.Lock()
	if time.Since(p.modelsFetched) < hordeModelCacheTTL && p.cachedModels != nil {
		models := p.cachedModels
		p.mu.Unlock()
		return models, nil
	}
	p.mu.Unlock()

	var models []HordeModel
	if err := p.doJSON(ctx, "GET", "/status/models?type=text", nil, &models); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cachedModels = models
	p.modelsFetched = time.Now()
	p.mu.Unlock()
	return models, nil
}

// GetWorkerData lists online text workers.
func (p *HordeProvider) GetWorkerData(ctx context.Context) ([]HordeWorker, error) {
	var workers []HordeWorker
	if err := p.doJSON(ctx, "GET", "/workers?type=text", nil, &workers); err != nil {
		return nil, err
	}
	online := workers[:0]
	for _, w := range workers {
		if w.Online {
			online = append(online, w)
		}
	}
	return online, nil
}

// AutoSelectModels picks reasonable models from the active list: known-bad
// names are dropped, recognizable model families are kept, and if nothing
// matches, the three busiest models win.
func AutoSelectModels(models []HordeModel) []string {
	var candidates []HordeModel
	for _, m := range models {
		lower := strings.ToLower(m.Name)
		blocked := false
		for _, bad := range hordeModelBlocklist {
			if strings.Contains(lower, bad) {
				blocked = true
				break
			}
		}
		if !blocked {
			candidates = append(candidates, m)
		}
	}

	var selected []string
	for _, m := range candidates {
		lower := strings.ToLower(m.Name)
		for _, good := range hordeModelAllowlist {
			if strings.Contains(lower, good) {
				selected = append(selected, m.Name)
				break
			}
		}
	}
	if len(selected) > 0 {
		return selected
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Count > candidates[j].Count
	})
	for i := 0; i < len(candidates) && i < 3; i++ {
		selected = append(selected, candidates[i].Name)
	}
	return selected
}

// CalculateDynamicContextLimit returns the smallest max_context_length among
// workers serving any of the selected models, plus the character budget the
// prompt builder may spend against it.
func (p *HordeProvider) CalculateDynamicContextLimit(ctx context.Context, modelNames []string, maxTokens int) (contextLen, maxChars int, err error) {
	workers, err := p.GetWorkerData(ctx)
	if err != nil {
		return 0, 0, err
	}
	limit := dynamicContextLimit(workers, modelNames)
	return limit, dynamicCharBudget(limit, maxTokens), nil
}

func dynamicContextLimit(workers []HordeWorker, modelNames []string) int {
	wanted := make(map[string]bool, len(modelNames))
	for _, m := range modelNames {
		wanted[m] = true
	}

	limit := 0
	for _, w := range workers {
		serves := false
		for _, m := range w.Models {
			if wanted[m] {
				serves = true
				break
			}
		}
		if !serves || w.MaxContextLength <= 0 {
			continue
		}
		if limit == 0 || w.MaxContextLength < limit {
			limit = w.MaxContextLength
		}
	}
	if limit == 0 {
		limit = 2048
	}
	return limit
}

// dynamicCharBudget converts a context limit into a raw character budget.
// Horde tokenizers run denser than 4 chars/token, so 3.0 is used for the
// context and 3.5 for the reply, minus a flat safety margin.
func dynamicCharBudget(contextLen, maxTokens int) int {
	chars := int(math.Floor(float64(contextLen)*3.0 - float64(maxTokens)*3.5 - 100))
	if chars < 1000 {
		return 1000
	}
	return chars
}

func (p *HordeProvider) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("horde: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("horde: create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("apikey", p.apiKey)
	httpReq.Header.Set("Client-Agent", "ursceal:1:github.com/amiantos/ursceal")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return wrapErr("horde", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return apiErr("horde", classify(fmt.Sprintf("%d %s", resp.StatusCode, respBody)),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apiErr("horde", KindAPI, "decode response: %v", err)
	}
	return nil
}
