package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apm-labs/apm/internal/config"
	"github.com/apm-labs/apm/internal/core"
)

// HTTPJudge scores content through a hosted judge endpoint speaking the
// scoring API: POST {base_url}/v1/score with a JSON body, bearer auth.
type HTTPJudge struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPJudge creates an HTTP judge from provider config.
func NewHTTPJudge(cfg Config) (core.Judge, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("judge %s: base_url is required", cfg.Name)
	}
	return &HTTPJudge{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 30*time.Second),
		},
	}, nil
}

// Name returns the provider name.
func (j *HTTPJudge) Name() string {
	return j.name
}

// Ping checks the endpoint is reachable and the key is accepted.
func (j *HTTPJudge) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	j.authorize(req)

	resp, err := j.client.Do(req)
	if err != nil {
		return core.ErrNetwork(fmt.Sprintf("judge %s unreachable: %v", j.name, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.ErrAuth(fmt.Sprintf("judge %s rejected credentials", j.name))
	case resp.StatusCode >= 400:
		return core.ErrCriticUnavailable("", fmt.Sprintf("judge %s health returned %d", j.name, resp.StatusCode))
	}
	return nil
}

// scoreRequest is the wire body for one scoring call.
type scoreRequest struct {
	Model      string `json:"model,omitempty"`
	CriticID   string `json:"critic_id"`
	Prompt     string `json:"prompt"`
	Content    string `json:"content"`
	ContentRef string `json:"content_ref,omitempty"`
	Modality   string `json:"modality"`
}

// scoreResponse is the wire body of a scoring result.
type scoreResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	Model     string  `json:"model"`
	Flags     []struct {
		Code     string `json:"code"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
	} `json:"flags"`
}

// Score evaluates content against one critic dimension.
func (j *HTTPJudge) Score(ctx context.Context, req core.JudgeRequest) (*core.JudgeResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(scoreRequest{
		Model:      j.model,
		CriticID:   string(req.CriticID),
		Prompt:     req.Prompt,
		Content:    req.Content,
		ContentRef: req.ContentRef,
		Modality:   string(req.Modality),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding score request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	j.authorize(httpReq)

	started := time.Now()
	resp, err := j.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, core.ErrCriticTimeout(req.CriticID)
		}
		return nil, core.ErrNetwork(fmt.Sprintf("judge %s: %v", j.name, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, core.ErrRateLimit(fmt.Sprintf("judge %s rate limited", j.name))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, core.ErrAuth(fmt.Sprintf("judge %s rejected credentials", j.name))
	case resp.StatusCode >= 500:
		return nil, core.ErrCriticUnavailable(req.CriticID,
			fmt.Sprintf("judge %s returned %d", j.name, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("judge %s rejected request with %d", j.name, resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.ErrCriticUnavailable(req.CriticID,
			fmt.Sprintf("judge %s returned malformed response: %v", j.name, err))
	}
	if out.Score < 0 || out.Score > 100 {
		return nil, core.ErrCriticUnavailable(req.CriticID,
			fmt.Sprintf("judge %s returned out-of-range score %.2f", j.name, out.Score))
	}

	result := &core.JudgeResult{
		Score:     out.Score,
		Reasoning: out.Reasoning,
		Model:     out.Model,
		Latency:   time.Since(started),
	}
	if result.Model == "" {
		result.Model = j.model
	}
	for _, f := range out.Flags {
		result.Flags = append(result.Flags, core.Flag{
			CriticID: req.CriticID,
			Code:     f.Code,
			Severity: parseSeverity(f.Severity),
			Message:  f.Message,
		})
	}
	return result, nil
}

func (j *HTTPJudge) authorize(req *http.Request) {
	if j.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.apiKey)
	}
}

// parseSeverity maps wire severities to known values, defaulting
// unknown ones to warning rather than dropping them.
func parseSeverity(s string) core.FlagSeverity {
	switch core.FlagSeverity(strings.ToLower(s)) {
	case core.SeverityInfo:
		return core.SeverityInfo
	case core.SeverityCritical:
		return core.SeverityCritical
	default:
		return core.SeverityWarning
	}
}
