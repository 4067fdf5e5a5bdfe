// Package gemini реализует адаптер LLM провайдера для Gemini API.
//
// Thinking модели Gemini подписывают functionCall части непрозрачным
// thoughtSignature. Адаптер сохраняет сигнатуру в llm.FunctionCall
// и возвращает её модели байт-в-байт на следующем ходе.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// Client реализует интерфейс llm.Client для Gemini API.
type Client struct {
	api             *genai.Client
	model           string
	defaults        llm.GenerateOptions
	includeThoughts bool
	limiter         *rate.Limiter
}

// NewClient создает Gemini клиент на основе конфигурации модели.
func NewClient(ctx context.Context, modelDef config.ModelDef) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  modelDef.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if modelDef.BaseURL != "" {
		cc.HTTPOptions.BaseURL = modelDef.BaseURL
	}
	if modelDef.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: modelDef.Timeout}
	}

	api, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	defaults := llm.GenerateOptions{
		Model:     modelDef.ModelName,
		MaxTokens: modelDef.MaxTokens,
	}
	if modelDef.Temperature != 0 {
		t := modelDef.Temperature
		defaults.Temperature = &t
	}
	if modelDef.TopP != 0 {
		p := modelDef.TopP
		defaults.TopP = &p
	}

	var limiter *rate.Limiter
	if modelDef.RateLimit > 0 {
		burst := modelDef.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(modelDef.RateLimit), burst)
	}

	return &Client{
		api:             api,
		model:           modelDef.ModelName,
		defaults:        defaults,
		includeThoughts: modelDef.IncludeThoughts,
		limiter:         limiter,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Send выполняет запрос к API и возвращает ответ модели.
func (c *Client) Send(ctx context.Context, req llm.Request) (llm.Response, error) {
	startTime := time.Now()

	model, contents, cfg, err := c.buildRequest(req)
	if err != nil {
		return llm.Response{}, err
	}

	utils.Debug("LLM request started",
		"model", model,
		"contents_count", len(contents),
		"tools_count", len(cfg.Tools))

	if err := c.wait(ctx); err != nil {
		return llm.Response{}, err
	}

	resp, err := c.api.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		utils.Error("LLM API request failed",
			"error", err,
			"model", model,
			"duration_ms", time.Since(startTime).Milliseconds())
		return llm.Response{}, wrapError(err)
	}

	acc := llm.NewAccumulator()
	var index int
	acc.Add(convertResponse(resp, &index))
	result := acc.Response()

	utils.Info("LLM response received",
		"model", model,
		"tool_calls_count", len(result.ToolCalls),
		"content_length", len(result.Text),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// Stream выполняет запрос с потоковой передачей.
func (c *Client) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (*llm.Stream, error) {
	model, contents, cfg, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	return llm.StartStream(ctx, onChunk, func(ctx context.Context, yield func(llm.Delta) bool) error {
		var index int
		for resp, err := range c.api.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				return wrapError(err)
			}
			if !yield(convertResponse(resp, &index)) {
				return nil
			}
		}
		return nil
	}), nil
}

// convertResponse конвертирует ответ (или порцию стрима) в llm.Delta.
//
// Function calls в Gemini приходят целиком, index нумерует их
// сквозным образом по всему стриму.
func convertResponse(resp *genai.GenerateContentResponse, index *int) llm.Delta {
	var d llm.Delta
	if resp == nil || len(resp.Candidates) == 0 {
		return d
	}

	cand := resp.Candidates[0]
	d.FinishReason = string(cand.FinishReason)
	if cand.Content == nil {
		return d
	}

	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
				Index:            *index,
				ID:               part.FunctionCall.ID,
				Name:             part.FunctionCall.Name,
				Args:             nonNilArgs(part.FunctionCall.Args),
				ThoughtSignature: part.ThoughtSignature,
			})
			*index++
		case part.Thought:
			d.Thought += part.Text
		default:
			d.Text += part.Text
		}
	}
	return d
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

// buildRequest конвертирует llm.Request в аргументы GenerateContent.
func (c *Client) buildRequest(req llm.Request) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	prepared, err := llm.Prepare(req)
	if err != nil {
		return "", nil, nil, err
	}

	opts := prepared.Options.Merge(c.defaults)

	cfg := &genai.GenerateContentConfig{}
	if prepared.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(prepared.System, genai.RoleUser)
	}
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*opts.TopP))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if c.includeThoughts {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if len(prepared.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(prepared.Tools)}}
	}

	contents := make([]*genai.Content, 0, len(prepared.Messages))
	for _, m := range prepared.Messages {
		contents = append(contents, toContent(m))
	}

	return opts.Model, contents, cfg, nil
}

// toContent конвертирует сообщение в genai.Content.
//
// functionResponse отправляется с ролью user, как того требует Gemini API.
func toContent(m llm.Message) *genai.Content {
	role := genai.RoleUser
	if m.Role == llm.RoleModel {
		role = genai.RoleModel
	}

	content := &genai.Content{Role: role}
	for _, p := range m.Parts {
		switch {
		case p.FunctionCall != nil:
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				},
				ThoughtSignature: p.FunctionCall.ThoughtSignature,
			})
		case p.FunctionResponse != nil:
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				},
			})
		default:
			content.Parts = append(content.Parts, genai.NewPartFromText(p.Text))
		}
	}
	return content
}

// convertTools конвертирует определения инструментов в FunctionDeclaration.
// JSON Schema передаётся как есть через ParametersJsonSchema.
func convertTools(defs []llm.ToolDefinition) []*genai.FunctionDeclaration {
	result := make([]*genai.FunctionDeclaration, len(defs))
	for i, def := range defs {
		result[i] = &genai.FunctionDeclaration{
			Name:                 def.Name,
			Description:          def.Description,
			ParametersJsonSchema: map[string]any(def.Parameters),
		}
	}
	return result
}

// wrapError конвертирует ошибки SDK в llm.APIError с HTTP статусом.
func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	return err
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
