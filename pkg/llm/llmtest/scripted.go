// Package llmtest предоставляет scripted llm.Client для тестов.
//
// Каждый вызов Send/Stream берёт следующий Turn из сценария.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ilkoid/vaultmind/pkg/llm"
)

// ErrScriptExhausted - сценарий закончился, а клиента вызвали ещё раз.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Turn - один ответ модели в сценарии.
type Turn struct {
	// Chunks - текстовые порции стрима. Если пусто, Text отдаётся одним чанком.
	Chunks []llm.StreamChunk
	Text   string

	ToolCalls    []llm.ToolCall
	FinishReason string

	// StartErr возвращается из Stream()/Send() сразу.
	StartErr error
	// Err возвращается после отправки всех Chunks (обрыв стрима).
	Err error

	// PauseAfter > 0: после стольких чанков стрим ждёт закрытия Release.
	PauseAfter int
	Release    chan struct{}
}

func (t Turn) text() string {
	if len(t.Chunks) == 0 {
		return t.Text
	}
	var sb strings.Builder
	for _, ch := range t.Chunks {
		sb.WriteString(ch.Text)
	}
	return sb.String()
}

// ScriptedClient проигрывает заранее заданные ответы.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    []Turn
	requests []llm.Prepared
}

// NewScriptedClient создаёт клиента со сценарием.
func NewScriptedClient(turns ...Turn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// Push добавляет ходы в конец сценария.
func (c *ScriptedClient) Push(turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// Calls возвращает количество вызовов клиента.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests возвращает нормализованные запросы в порядке вызова.
func (c *ScriptedClient) Requests() []llm.Prepared {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Prepared, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *ScriptedClient) next(req llm.Request) (Turn, error) {
	prepared, err := llm.Prepare(req)
	if err != nil {
		return Turn{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, prepared)
	if len(c.turns) == 0 {
		return Turn{}, ErrScriptExhausted
	}
	t := c.turns[0]
	c.turns = c.turns[1:]
	return t, nil
}

// Send implements llm.Client.
func (c *ScriptedClient) Send(ctx context.Context, req llm.Request) (llm.Response, error) {
	t, err := c.next(req)
	if err != nil {
		return llm.Response{}, err
	}
	if t.StartErr != nil {
		return llm.Response{}, t.StartErr
	}
	if t.Err != nil {
		return llm.Response{}, t.Err
	}
	return llm.Response{
		Text:         t.text(),
		ToolCalls:    t.ToolCalls,
		FinishReason: t.FinishReason,
	}, nil
}

// Stream implements llm.Client.
func (c *ScriptedClient) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (*llm.Stream, error) {
	t, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if t.StartErr != nil {
		return nil, t.StartErr
	}

	chunks := t.Chunks
	if len(chunks) == 0 && t.Text != "" {
		chunks = []llm.StreamChunk{{Text: t.Text}}
	}

	return llm.StartStream(ctx, onChunk, func(ctx context.Context, yield func(llm.Delta) bool) error {
		for i, ch := range chunks {
			if !yield(llm.Delta{Text: ch.Text, Thought: ch.Thought}) {
				return nil
			}
			if t.PauseAfter > 0 && i+1 == t.PauseAfter && t.Release != nil {
				select {
				case <-t.Release:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if t.Err != nil {
			return t.Err
		}

		final := llm.Delta{FinishReason: t.FinishReason}
		for i, tc := range t.ToolCalls {
			final.ToolCalls = append(final.ToolCalls, llm.ToolCallDelta{
				Index:            i,
				ID:               tc.ID,
				Name:             tc.Name,
				Args:             tc.Args,
				ThoughtSignature: tc.ThoughtSignature,
			})
		}
		yield(final)
		return nil
	}), nil
}

// Ensure ScriptedClient implements llm.Client
var _ llm.Client = (*ScriptedClient)(nil)
