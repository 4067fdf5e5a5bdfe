package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
	openai "github.com/sashabaranov/go-openai"
)

// TestNewClient тестирует создание клиента.
func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		modelDef config.ModelDef
	}{
		{
			name: "minimal config",
			modelDef: config.ModelDef{
				APIKey:    "test-key",
				ModelName: "gpt-4o-mini",
			},
		},
		{
			name: "with custom base url and rate limit",
			modelDef: config.ModelDef{
				APIKey:    "test-key",
				ModelName: "glm-4",
				BaseURL:   "https://api.z.ai/v4",
				RateLimit: 2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.modelDef)
			if client == nil {
				t.Fatal("expected non-nil client")
			}
			if client.model != tt.modelDef.ModelName {
				t.Errorf("expected model %s, got %s", tt.modelDef.ModelName, client.model)
			}
			if client.api == nil {
				t.Error("expected non-nil api client")
			}
			if (tt.modelDef.RateLimit > 0) != (client.limiter != nil) {
				t.Error("limiter must exist only when rate_limit is set")
			}
		})
	}
}

// TestConvertToolsToOpenAI тестирует конвертацию tools.
func TestConvertToolsToOpenAI(t *testing.T) {
	input := []llm.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Reads a file",
			Parameters: llm.JSONSchema{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
	}

	result := convertToolsToOpenAI(input)

	require.Len(t, result, 1)
	assert.Equal(t, openai.ToolTypeFunction, result[0].Type)
	assert.Equal(t, "read_file", result[0].Function.Name)
	assert.Equal(t, "Reads a file", result[0].Function.Description)
	assert.NotNil(t, result[0].Function.Parameters)
}

// TestMapToOpenAI проверяет маппинг functionCall/functionResponse.
func TestMapToOpenAI(t *testing.T) {
	model := llm.Message{Role: llm.RoleModel, Parts: []llm.Part{
		llm.ToolCall{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.md"}}.Part(),
		llm.ToolCall{Name: "list_files", Args: map[string]any{}}.Part(),
	}}

	msgs, err := mapToOpenAI(model)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[0].Role)
	require.Len(t, msgs[0].ToolCalls, 2)
	assert.Equal(t, "call_1", msgs[0].ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"a.md"}`, msgs[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_list_files_1", msgs[0].ToolCalls[1].ID)

	tool := llm.Message{Role: llm.RoleTool, Parts: []llm.Part{
		{FunctionResponse: &llm.FunctionResponse{ID: "call_1", Name: "read_file", Response: map[string]any{"success": true}}},
		{FunctionResponse: &llm.FunctionResponse{Name: "list_files", Response: map[string]any{"success": false, "error": "denied"}}},
	}}

	msgs, err = mapToOpenAI(tool)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "one tool message per call")
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[0].Role)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "call_list_files_1", msgs[1].ToolCallID)
	assert.JSONEq(t, `{"success":false,"error":"denied"}`, msgs[1].Content)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ModelDef{APIKey: "test", ModelName: "test-model", BaseURL: srv.URL})
}

func TestClient_Send_ToolCalls(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "x",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "search_files", "arguments": "{\"query\":\"go\"}"}}]
				}
			}]
		}`)
	})

	resp, err := client.Send(context.Background(), llm.ConversationRequest{
		System:      "be brief",
		UserMessage: "find go notes",
		Tools:       []llm.ToolDefinition{{Name: "search_files", Parameters: llm.JSONSchema{"type": "object"}}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"query": "go"}, resp.ToolCalls[0].Args)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, gotReq.Messages[0].Role)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Len(t, gotReq.Tools, 1)
}

func TestClient_Send_MapsStatusCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down", "type": "rate_limit"}}`)
	})

	_, err := client.Send(context.Background(), llm.SimpleRequest{Prompt: "hi"})

	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, llm.IsRetryable(err))
}

func TestClient_Stream_ReassemblesToolCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"id":"x","choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "}}]}`,
			`{"id":"x","choices":[{"index":0,"delta":{"content":"check."}}]}`,
			`{"id":"x","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}`,
			`{"id":"x","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a.md\"}"}}]}}]}`,
			`{"id":"x","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	s, err := client.Stream(context.Background(), llm.SimpleRequest{Prompt: "hi"}, func(ch llm.StreamChunk) {
		chunks = append(chunks, ch.Text)
	})
	require.NoError(t, err)

	resp, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, []string{"Let me ", "check."}, chunks)
	assert.Equal(t, "Let me check.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "a.md"}, resp.ToolCalls[0].Args)
}
