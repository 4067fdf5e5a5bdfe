package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/llm/llmtest"
)

func TestStream_DeliversChunksInOrder(t *testing.T) {
	client := llmtest.NewScriptedClient(llmtest.Turn{
		Chunks: []llm.StreamChunk{
			{Thought: "thinking "},
			{Text: "Hello"},
			{Text: ", "},
			{Text: "world"},
		},
	})

	var text, thought string
	s, err := client.Stream(context.Background(), llm.SimpleRequest{Prompt: "hi"}, func(ch llm.StreamChunk) {
		text += ch.Text
		thought += ch.Thought
	})
	require.NoError(t, err)

	resp, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", resp.Text)
	assert.Equal(t, "thinking ", resp.Thought)
	assert.Equal(t, resp.Text, text)
	assert.Equal(t, resp.Thought, thought)
	assert.Equal(t, 4, s.Delivered())
	assert.False(t, resp.Cancelled)
}

func TestStream_CancelAfterNChunks(t *testing.T) {
	release := make(chan struct{})
	client := llmtest.NewScriptedClient(llmtest.Turn{
		Chunks: []llm.StreamChunk{
			{Text: "one "},
			{Text: "two "},
			{Text: "three "},
			{Text: "four"},
		},
		ToolCalls:  []llm.ToolCall{{Name: "read_file", Args: map[string]any{"path": "a.md"}}},
		PauseAfter: 2,
		Release:    release,
	})

	received := make(chan string, 10)
	s, err := client.Stream(context.Background(), llm.SimpleRequest{Prompt: "hi"}, func(ch llm.StreamChunk) {
		received <- ch.Text
	})
	require.NoError(t, err)

	assert.Equal(t, "one ", <-received)
	assert.Equal(t, "two ", <-received)

	s.Cancel()
	close(release)

	resp, err := s.Wait()
	require.NoError(t, err, "cancellation is not an error")
	assert.True(t, resp.Cancelled)
	assert.Equal(t, "one two ", resp.Text)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 2, s.Delivered())
	assert.Empty(t, received, "no chunks after cancel")
}

func TestStream_TransportErrorRejectsWait(t *testing.T) {
	boom := errors.New("connection reset")
	client := llmtest.NewScriptedClient(llmtest.Turn{
		Chunks: []llm.StreamChunk{{Text: "par"}},
		Err:    boom,
	})

	s, err := client.Stream(context.Background(), llm.SimpleRequest{Prompt: "hi"}, nil)
	require.NoError(t, err)

	_, err = s.Wait()
	assert.ErrorIs(t, err, boom)
}

func TestStream_ContextCancelResolvesAsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	client := llmtest.NewScriptedClient(llmtest.Turn{
		Chunks:     []llm.StreamChunk{{Text: "a"}, {Text: "b"}},
		PauseAfter: 1,
		Release:    release,
	})

	got := make(chan struct{}, 2)
	s, err := client.Stream(ctx, llm.SimpleRequest{Prompt: "hi"}, func(llm.StreamChunk) { got <- struct{}{} })
	require.NoError(t, err)

	<-got
	cancel()

	resp, err := s.Wait()
	require.NoError(t, err)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, "a", resp.Text)
}

func TestAccumulator_ReassemblesToolCallFragments(t *testing.T) {
	acc := llm.NewAccumulator()
	acc.Add(llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", Arguments: `{"pa`}}})
	acc.Add(llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 1, ID: "call_2", Name: "list_files", Arguments: `{}`}}})
	acc.Add(llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `th": "notes/a.md"}`}}})
	acc.Add(llm.Delta{FinishReason: "tool_calls"})

	resp := acc.Response()

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "notes/a.md"}, resp.ToolCalls[0].Args)
	assert.Equal(t, "list_files", resp.ToolCalls[1].Name)
	assert.Equal(t, map[string]any{}, resp.ToolCalls[1].Args)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestAccumulator_InvalidArgumentsBecomeEmpty(t *testing.T) {
	acc := llm.NewAccumulator()
	acc.Add(llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, Name: "read_file", Arguments: `{"path": `}}})

	resp := acc.Response()

	require.Len(t, resp.ToolCalls, 1)
	assert.Empty(t, resp.ToolCalls[0].Args)
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"plain", `{"path":"inbox.md"}`, map[string]any{"path": "inbox.md"}},
		{"markdown fence", "```json\n{\"path\":\"inbox.md\"}\n```", map[string]any{"path": "inbox.md"}},
		{"surrounding text", `args: {"query":"todo"} ok`, map[string]any{"query": "todo"}},
		{"garbage", "not json", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ParseArguments(tt.raw))
		})
	}
}

func TestMessage_ThoughtSignatureRoundTrip(t *testing.T) {
	signature := []byte{0x00, 0xff, 0x10, 'g', 'e', 'm'}
	call := llm.ToolCall{Name: "search_files", Args: map[string]any{"query": "go"}, ThoughtSignature: signature}
	msg := llm.Message{Role: llm.RoleModel, Parts: []llm.Part{call.Part()}}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var restored llm.Message
	require.NoError(t, json.Unmarshal(data, &restored))

	calls := restored.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, signature, calls[0].ThoughtSignature)
	assert.Equal(t, "search_files", calls[0].Name)
}

func TestPrepare(t *testing.T) {
	history := []llm.Message{llm.NewTextMessage(llm.RoleUser, "first")}

	p, err := llm.Prepare(llm.ConversationRequest{History: history, UserMessage: "second"})
	require.NoError(t, err)
	require.Len(t, p.Messages, 2)
	assert.Equal(t, "second", p.Messages[1].Text())
	assert.Len(t, history, 1, "history is not modified")

	p, err = llm.Prepare(llm.ConversationRequest{History: history})
	require.NoError(t, err)
	assert.Len(t, p.Messages, 1, "empty user message is not appended")

	p, err = llm.Prepare(llm.SimpleRequest{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, llm.RoleUser, p.Messages[0].Role)
}

func TestGenerateOptions_Merge(t *testing.T) {
	defaults := llm.NewGenerateOptions(llm.WithModel("base"), llm.WithTemperature(0.2), llm.WithMaxTokens(100))
	override := llm.NewGenerateOptions(llm.WithTemperature(0.9))

	merged := override.Merge(defaults)

	assert.Equal(t, "base", merged.Model)
	require.NotNil(t, merged.Temperature)
	assert.InDelta(t, 0.9, *merged.Temperature, 1e-9)
	assert.Equal(t, 100, merged.MaxTokens)
	assert.Nil(t, merged.TopP)
}
