package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanEmitter_EmitAndSubscribe(t *testing.T) {
	e := NewChanEmitter(4)
	sub := e.Subscribe()

	e.Emit(context.Background(), New(EventProgress, ProgressData{Status: "reading", Phase: "tools"}))
	e.Emit(context.Background(), New(EventDone, MessageData{Content: "ok"}))
	e.Close()

	var got []Event
	for ev := range sub.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, ProgressData{Status: "reading", Phase: "tools"}, got[0].Data)
	assert.Equal(t, MessageData{Content: "ok"}, got[1].Data)
}

func TestChanEmitter_EmitAfterCloseIsNoop(t *testing.T) {
	e := NewChanEmitter(1)
	e.Close()
	e.Close()

	assert.NotPanics(t, func() {
		e.Emit(context.Background(), New(EventDone, MessageData{}))
	})
}

func TestChanEmitter_EmitRespectsContext(t *testing.T) {
	e := NewChanEmitter(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Небуферизованный канал без читателя: Emit не должен зависнуть
	e.Emit(ctx, New(EventDone, MessageData{}))
}

func TestEmit_NilEmitter(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), nil, New(EventDone, MessageData{}))
	})
}

func TestMultiEmitter(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(name string) Emitter {
		return EmitterFunc(func(_ context.Context, ev Event) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+string(ev.Type))
		})
	}

	m := MultiEmitter{record("a"), nil, record("b")}
	Emit(context.Background(), m, Event{Type: EventCancelled})

	assert.Equal(t, []string{"a:cancelled", "b:cancelled"}, seen)
}
