package std

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/tools"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// WebFetchTool загружает страницу по URL.
//
// Запросы ограничены rate.Limiter: модель не должна устраивать
// обход сайта в одном батче.
type WebFetchTool struct {
	client      *http.Client
	limiter     *rate.Limiter
	maxBytes    int64
	description string
}

// NewWebFetchTool создаёт инструмент по настройкам vault.
func NewWebFetchTool(vcfg config.VaultConfig, cfg config.ToolConfig) *WebFetchTool {
	vcfg = vcfg.GetDefaults()
	return &WebFetchTool{
		client:   &http.Client{Timeout: vcfg.FetchTimeout},
		limiter:  rate.NewLimiter(rate.Limit(vcfg.FetchRate), 1),
		maxBytes: vcfg.MaxFileBytes,
		description: describe(cfg,
			"Fetches a web page over HTTP(S) and returns its text. Large pages are truncated."),
	}
}

func (t *WebFetchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_fetch",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "Absolute http or https URL."},
			},
			"required": []string{"url"},
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, ec *tools.ExecContext) tools.Result {
	var params struct {
		URL string `json:"url"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}

	u, err := url.Parse(strings.TrimSpace(params.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return tools.Failure("invalid url: %q", params.URL)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return tools.Failure("rate limiter: %v", err)
	}

	ec.ReportProgress("fetching " + u.Host)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return tools.Failure("create request: %v", err)
	}
	req.Header.Set("User-Agent", "vaultmind/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.Failure("fetch %s: %v", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return tools.Failure("read body: %v", err)
	}
	truncated := int64(len(body)) > t.maxBytes
	if truncated {
		body = body[:t.maxBytes]
	}

	utils.Debug("web_fetch completed",
		"host", u.Host,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 400 {
		return tools.Failure("fetch %s: HTTP %d", u.String(), resp.StatusCode)
	}

	return tools.Success(map[string]any{
		"url":          u.String(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      string(body),
		"truncated":    truncated,
	})
}
