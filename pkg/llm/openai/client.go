// Package openai реализует адаптер LLM провайдера для OpenAI-совместимых API.
//
// Поддерживает Function Calling (tools) и потоковую передачу.
// Соблюдает правило 4 манифеста: работает только через интерфейс llm.Client.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Client реализует интерфейс llm.Client для OpenAI-совместимых API.
type Client struct {
	api      *openai.Client
	model    string
	defaults llm.GenerateOptions
	limiter  *rate.Limiter
}

// NewClient создает OpenAI клиент на основе конфигурации модели.
//
// Правило 2: Все настройки из конфигурации, никакого хардкода.
func NewClient(modelDef config.ModelDef) *Client {
	// Поддержка custom BaseURL для non-OpenAI провайдеров (Zai, DeepSeek и т.д.)
	cfg := openai.DefaultConfig(modelDef.APIKey)
	if modelDef.BaseURL != "" {
		cfg.BaseURL = modelDef.BaseURL
	}
	if modelDef.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: modelDef.Timeout}
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

	return &Client{
		api:      openai.NewClientWithConfig(cfg),
		model:    modelDef.ModelName,
		defaults: defaults,
		limiter:  newLimiter(modelDef),
	}
}

// newLimiter создаёт rate limiter. nil если лимит не задан.
func newLimiter(modelDef config.ModelDef) *rate.Limiter {
	if modelDef.RateLimit <= 0 {
		return nil
	}
	burst := modelDef.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(modelDef.RateLimit), burst)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Send выполняет запрос к API и возвращает ответ модели.
//
// Алгоритм:
//  1. Конвертирует запрос в формат OpenAI SDK
//  2. Вызывает API
//  3. Извлекает текст, reasoning и ToolCalls
//
// Правило 7: Все ошибки возвращаются, никаких panic.
func (c *Client) Send(ctx context.Context, req llm.Request) (llm.Response, error) {
	startTime := time.Now()

	chatReq, err := c.buildRequest(req)
	if err != nil {
		return llm.Response{}, err
	}

	utils.Debug("LLM request started",
		"model", chatReq.Model,
		"messages_count", len(chatReq.Messages),
		"tools_count", len(chatReq.Tools))

	if err := c.wait(ctx); err != nil {
		return llm.Response{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		utils.Error("LLM API request failed",
			"error", err,
			"model", chatReq.Model,
			"duration_ms", time.Since(startTime).Milliseconds())
		return llm.Response{}, wrapError(err)
	}

	// Проверяем что есть хотя бы один выбор
	if len(resp.Choices) == 0 {
		return llm.Response{}, &llm.APIError{Provider: "openai", StatusCode: http.StatusBadGateway, Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	result := llm.Response{
		Text:         choice.Message.Content,
		Thought:      choice.Message.ReasoningContent,
		FinishReason: string(choice.FinishReason),
	}

	// Извлекаем ToolCalls если модель решила вызвать функции
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: llm.ParseArguments(tc.Function.Arguments),
		})
	}

	utils.Info("LLM response received",
		"model", chatReq.Model,
		"tool_calls_count", len(result.ToolCalls),
		"content_length", len(result.Text),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// Stream выполняет запрос с потоковой передачей.
//
// Аргументы tool calls приходят кусками по index и собираются
// llm.Accumulator в финальном состоянии стрима.
func (c *Client) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (*llm.Stream, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		utils.Error("LLM stream request failed", "error", err, "model", chatReq.Model)
		return nil, wrapError(err)
	}

	return llm.StartStream(ctx, onChunk, func(ctx context.Context, yield func(llm.Delta) bool) error {
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return wrapError(err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			if !yield(convertDelta(chunk.Choices[0])) {
				return nil
			}
		}
	}), nil
}

// convertDelta конвертирует порцию стрима в llm.Delta.
func convertDelta(choice openai.ChatCompletionStreamChoice) llm.Delta {
	d := llm.Delta{
		Text:         choice.Delta.Content,
		Thought:      choice.Delta.ReasoningContent,
		FinishReason: string(choice.FinishReason),
	}
	for i, tc := range choice.Delta.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return d
}

// buildRequest конвертирует llm.Request в запрос SDK.
func (c *Client) buildRequest(req llm.Request) (openai.ChatCompletionRequest, error) {
	prepared, err := llm.Prepare(req)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	opts := prepared.Options.Merge(c.defaults)

	msgs := make([]openai.ChatCompletionMessage, 0, len(prepared.Messages)+1)
	if prepared.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prepared.System,
		})
	}
	for _, m := range prepared.Messages {
		converted, err := mapToOpenAI(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, llm.Permanent(err)
		}
		msgs = append(msgs, converted...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     opts.Model,
		Messages:  msgs,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != nil {
		chatReq.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		chatReq.TopP = float32(*opts.TopP)
	}

	if len(prepared.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(prepared.Tools)
		// Включаем автоматический режим - LLM сама решает когда вызывать tools
		chatReq.ToolChoice = "auto"
	}

	return chatReq, nil
}

// mapToOpenAI конвертирует наше сообщение в формат SDK.
//
// Сообщение роли tool разворачивается в несколько сообщений:
// OpenAI ожидает по одному tool message на каждый tool_call_id.
func mapToOpenAI(m llm.Message) ([]openai.ChatCompletionMessage, error) {
	switch m.Role {
	case llm.RoleModel:
		msg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: m.Text(),
		}
		for i, fc := range m.FunctionCalls() {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal args of %s: %w", fc.Name, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   callID(fc.ID, fc.Name, i),
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      fc.Name,
					Arguments: string(args),
				},
			})
		}
		return []openai.ChatCompletionMessage{msg}, nil

	case llm.RoleTool:
		responses := m.FunctionResponses()
		out := make([]openai.ChatCompletionMessage, 0, len(responses))
		for i, fr := range responses {
			content, err := json.Marshal(fr.Response)
			if err != nil {
				return nil, fmt.Errorf("marshal response of %s: %w", fr.Name, err)
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Name:       fr.Name,
				Content:    string(content),
				ToolCallID: callID(fr.ID, fr.Name, i),
			})
		}
		return out, nil

	default:
		return []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: m.Text(),
		}}, nil
	}
}

// callID возвращает id вызова. Если модель его не прислала (история из
// другого провайдера), генерирует стабильный id из имени и позиции.
func callID(id, name string, idx int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("call_%s_%d", name, idx)
}

// convertToolsToOpenAI конвертирует определения инструментов во внутреннем формате
// в формат OpenAI Function Calling.
//
// Поскольку ToolDefinition.Parameters уже является JSON Schema объектом,
// он напрямую передаётся в OpenAI SDK.
func convertToolsToOpenAI(defs []llm.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))

	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}

	return result
}

// wrapError конвертирует ошибки SDK в llm.APIError с HTTP статусом.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.APIError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return err
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
