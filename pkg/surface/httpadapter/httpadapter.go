// Package httpadapter implements the REST-JSON-API family of surface.Adapter:
// a thin, context-aware wrapper around an HTTP chat-completion-style
// endpoint. Browser-driven and CDP-mediated adapter families remain
// external collaborators not implemented in this core.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/recovery"
	"github.com/benthamhq/bentham/pkg/surface"
)

// Config configures one REST JSON surface endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// Adapter is a surface.Adapter backed by a single HTTP chat-completion
// style endpoint.
type Adapter struct {
	surfaceID string
	cfg       Config
	client    *http.Client
}

// New constructs an Adapter satisfying surface.Factory's signature.
func New(surfaceID string, options map[string]any) (surface.Adapter, error) {
	cfg := Config{Client: http.DefaultClient}
	if v, ok := options["baseUrl"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := options["apiKey"].(string); ok {
		cfg.APIKey = v
	}
	if v, ok := options["model"].(string); ok {
		cfg.Model = v
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("httpadapter: baseUrl option is required for surface %q", surfaceID)
	}
	return &Adapter{surfaceID: surfaceID, cfg: cfg, client: cfg.Client}, nil
}

type chatRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	History     []string `json:"history,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Text  string `json:"text"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Citations []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"citations"`
}

// Query implements surface.Adapter.
func (a *Adapter) Query(ctx context.Context, req surface.Request) (surface.Response, error) {
	start := time.Now()

	model := req.ModelOverride
	if model == "" {
		model = a.cfg.Model
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Prompt:      req.QueryText,
		System:      req.SystemPrompt,
		History:     req.ConversationHistory,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return surface.Response{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return surface.Response{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return surface.Response{}, err // classified by pkg/recovery.Classify
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return surface.Response{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		code := recovery.ClassifyHTTPStatus(resp.StatusCode)
		return surface.Response{}, apierror.New(code, fmt.Sprintf("surface %s returned status %d", a.surfaceID, resp.StatusCode))
	}

	var cr chatResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return surface.Response{}, fmt.Errorf("decoding response: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	citations := make([]surface.Citation, 0, len(cr.Citations))
	for _, c := range cr.Citations {
		citations = append(citations, surface.Citation{Title: c.Title, URL: c.URL})
	}

	return surface.Response{
		Success:      true,
		ResponseText: cr.Text,
		Citations:    citations,
		TotalMS:      elapsed,
		TokenUsage: &surface.TokenUsage{
			Input:  cr.Usage.InputTokens,
			Output: cr.Usage.OutputTokens,
			Total:  cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
		RawProvenance: payload,
	}, nil
}

// HealthCheck implements surface.Adapter with a minimal synthetic query.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.Query(ctx, surface.Request{QueryText: "ping"})
	return err
}

// Close implements surface.Adapter; the stdlib http.Client holds no
// per-adapter resources that need releasing.
func (a *Adapter) Close(context.Context) error { return nil }
