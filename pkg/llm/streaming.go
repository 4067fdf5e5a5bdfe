// Package llm предоставляет типы и интерфейсы для работы с LLM провайдерами.
//
// Этот файл определяет потоковую передачу (streaming) ответов и её отмену.
package llm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ilkoid/vaultmind/pkg/utils"
)

// Delta - одна порция wire-ответа, разобранная провайдером.
type Delta struct {
	Text         string
	Thought      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// ToolCallDelta - фрагмент вызова инструмента.
//
// OpenAI присылает аргументы кусками JSON с одинаковым Index,
// Gemini присылает вызов целиком (Args заполнен).
type ToolCallDelta struct {
	Index            int
	ID               string
	Name             string
	Arguments        string
	Args             map[string]any
	ThoughtSignature []byte
}

// StreamFunc читает транспорт и передаёт порции в yield.
//
// Когда yield возвращает false, стрим отменён: функция должна
// прекратить чтение и вернуть nil.
type StreamFunc func(ctx context.Context, yield func(Delta) bool) error

// Stream - handle потоковой генерации.
//
// Отмена кооперативная: Cancel() выставляет флаг, который проверяется
// на границе следующего чанка. Текущее чтение из сети не прерывается.
// После отмены Wait() возвращает накопленный ответ с Cancelled=true
// и никогда не возвращает ошибку из-за отмены.
type Stream struct {
	cancelled atomic.Bool
	delivered atomic.Int64
	done      chan struct{}
	abort     chan struct{}
	abortOnce sync.Once

	mu    sync.Mutex
	inner *Stream

	resp Response
	err  error
}

func newStream() *Stream {
	return &Stream{
		done:  make(chan struct{}),
		abort: make(chan struct{}),
	}
}

// StartStream запускает run в отдельной goroutine и возвращает handle.
//
// Используется всеми провайдерами: handle владеет флагом отмены,
// а Accumulator собирает текст и фрагменты tool calls.
func StartStream(ctx context.Context, onChunk func(StreamChunk), run StreamFunc) *Stream {
	s := newStream()

	go func() {
		acc := NewAccumulator()
		err := run(ctx, func(d Delta) bool {
			if s.Cancelled() {
				return false
			}
			acc.Add(d)
			if d.Text != "" || d.Thought != "" {
				s.deliver(onChunk, StreamChunk{Text: d.Text, Thought: d.Thought})
			}
			return !s.Cancelled()
		})

		resp := acc.Response()
		switch {
		case s.Cancelled(), err != nil && ctx.Err() != nil:
			// Незавершённые вызовы инструментов не отдаём: их некому выполнить.
			resp.ToolCalls = nil
			resp.Cancelled = true
			s.finish(resp, nil)
		case err != nil:
			s.finish(Response{}, err)
		default:
			s.finish(resp, nil)
		}
	}()

	return s
}

// deliver передаёт чанк потребителю и увеличивает счётчик доставленных.
func (s *Stream) deliver(onChunk func(StreamChunk), chunk StreamChunk) {
	s.delivered.Add(1)
	if onChunk != nil {
		onChunk(chunk)
	}
}

func (s *Stream) finish(resp Response, err error) {
	s.resp = resp
	s.err = err
	close(s.done)
}

// Wait блокируется до завершения стрима и возвращает финальный ответ.
func (s *Stream) Wait() (Response, error) {
	<-s.done
	return s.resp, s.err
}

// Done закрывается когда стрим завершён.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Cancel запрашивает остановку стрима. Повторные вызовы безопасны.
func (s *Stream) Cancel() {
	s.cancelled.Store(true)
	s.abortOnce.Do(func() { close(s.abort) })

	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	if inner != nil {
		inner.Cancel()
	}
}

// Cancelled сообщает была ли запрошена отмена.
func (s *Stream) Cancelled() bool {
	return s.cancelled.Load()
}

// Delivered возвращает количество чанков, переданных в onChunk.
func (s *Stream) Delivered() int {
	return int(s.delivered.Load())
}

// link связывает handle с внутренним стримом (для декораторов):
// Cancel() внешнего handle отменяет внутренний.
func (s *Stream) link(inner *Stream) {
	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
	if s.Cancelled() {
		inner.Cancel()
	}
}

// StreamFromResponse отдаёт готовый ответ как стрим из одного чанка.
//
// Используется провайдерами и моками без нативного стриминга.
func StreamFromResponse(ctx context.Context, resp Response, onChunk func(StreamChunk)) *Stream {
	return StartStream(ctx, onChunk, func(ctx context.Context, yield func(Delta) bool) error {
		d := Delta{Text: resp.Text, Thought: resp.Thought, FinishReason: resp.FinishReason}
		for i, tc := range resp.ToolCalls {
			d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
				Index:            i,
				ID:               tc.ID,
				Name:             tc.Name,
				Args:             tc.Args,
				ThoughtSignature: tc.ThoughtSignature,
			})
		}
		yield(d)
		return nil
	})
}

// Accumulator собирает Delta в финальный Response.
//
// Tool calls берутся только из финального состояния: фрагменты
// аргументов склеиваются по Index и парсятся один раз в Response().
type Accumulator struct {
	text         strings.Builder
	thought      strings.Builder
	finishReason string
	calls        map[int]*pendingCall
}

type pendingCall struct {
	id        string
	name      string
	arguments strings.Builder
	args      map[string]any
	signature []byte
}

// NewAccumulator создаёт пустой Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*pendingCall)}
}

// Add добавляет порцию.
func (a *Accumulator) Add(d Delta) {
	a.text.WriteString(d.Text)
	a.thought.WriteString(d.Thought)
	if d.FinishReason != "" {
		a.finishReason = d.FinishReason
	}

	for _, tc := range d.ToolCalls {
		pc, ok := a.calls[tc.Index]
		if !ok {
			pc = &pendingCall{}
			a.calls[tc.Index] = pc
		}
		if tc.ID != "" {
			pc.id = tc.ID
		}
		if tc.Name != "" {
			pc.name = tc.Name
		}
		pc.arguments.WriteString(tc.Arguments)
		if tc.Args != nil {
			pc.args = tc.Args
		}
		if len(tc.ThoughtSignature) > 0 {
			pc.signature = tc.ThoughtSignature
		}
	}
}

// Text возвращает накопленный текст.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Response возвращает финальный ответ.
func (a *Accumulator) Response() Response {
	resp := Response{
		Text:         a.text.String(),
		Thought:      a.thought.String(),
		FinishReason: a.finishReason,
	}

	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		pc := a.calls[idx]
		if pc.name == "" {
			continue
		}
		args := pc.args
		if args == nil {
			args = ParseArguments(pc.arguments.String())
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:               pc.id,
			Name:             pc.name,
			Args:             args,
			ThoughtSignature: pc.signature,
		})
	}

	return resp
}

// ParseArguments парсит JSON аргументов вызова.
//
// Пустая строка даёт пустой map. Markdown-обёртка и текст вокруг объекта
// отбрасываются. Невалидный JSON логируется и тоже
// даёт пустой map: инструмент сам вернёт ошибку валидации модели.
func ParseArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return make(map[string]any)
	}
	obj, ok := utils.ToolArguments(raw)
	if ok {
		args := make(map[string]any)
		if err := json.Unmarshal([]byte(obj), &args); err == nil {
			return args
		}
	}
	utils.Warn("Failed to parse tool call arguments", "raw", raw)
	return make(map[string]any)
}
