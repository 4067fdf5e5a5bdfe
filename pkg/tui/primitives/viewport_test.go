package primitives

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewportManager_AppendAndReplaceLast(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})

	vm.Append("you: привет", true)
	vm.ReplaceLast("model: При", true)
	assert.Equal(t, []string{"model: При"}, vm.Content(), "ReplaceLast replaces the only line")

	vm.Append("model: При", true)
	vm.ReplaceLast("model: Привет!", true)
	assert.Equal(t, []string{"model: При", "model: Привет!"}, vm.Content())

	vm.Clear()
	assert.Empty(t, vm.Content())
}

func TestViewportManager_ReplaceLastOnEmpty(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})
	vm.ReplaceLast("first", true)
	assert.Equal(t, []string{"first"}, vm.Content())
}

func TestViewportManager_MinDimensions(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})
	vm.Append("content", true)

	vm.HandleResize(tea.WindowSizeMsg{Width: 10, Height: 5}, 3, 3)

	width, height := vm.GetDimensions()
	assert.Equal(t, 20, width, "width is clamped to MinWidth")
	assert.Equal(t, 1, height, "height is clamped to MinHeight")
}

func TestViewportManager_WrapsLongLines(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})
	vm.HandleResize(tea.WindowSizeMsg{Width: 20, Height: 10}, 0, 0)

	vm.Append("one two three four five six seven eight", true)
	vm.Append(strings.Repeat("x", 45), true)

	vp := vm.GetViewport()
	// 39 символов по словам в ширину 20 - две строки, 45 без пробелов - три
	assert.Equal(t, 5, vp.TotalLineCount())
	assert.Len(t, vm.Content(), 2, "original lines are kept unwrapped")
}

func TestViewportManager_FollowsBottom(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})
	vm.HandleResize(tea.WindowSizeMsg{Width: 80, Height: 5}, 0, 0)

	for i := 0; i < 20; i++ {
		vm.Append(fmt.Sprintf("line %d", i), true)
	}
	vp := vm.GetViewport()
	assert.Equal(t, vp.TotalLineCount()-vp.Height, vp.YOffset, "stays at bottom while following")

	vm.ScrollUp(5)
	offset := vm.GetViewport().YOffset
	vm.Append("new line", true)
	assert.Equal(t, offset, vm.GetViewport().YOffset, "does not jump when user scrolled up")

	vm.GotoBottom()
	vp = vm.GetViewport()
	assert.Equal(t, vp.TotalLineCount()-vp.Height, vp.YOffset)
}

func TestViewportManager_ResizeClampsOffset(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})
	vm.HandleResize(tea.WindowSizeMsg{Width: 80, Height: 5}, 0, 0)
	for i := 0; i < 10; i++ {
		vm.Append(fmt.Sprintf("line %d", i), false)
	}
	vm.ScrollDown(3)

	vm.HandleResize(tea.WindowSizeMsg{Width: 80, Height: 40}, 0, 0)

	vp := vm.GetViewport()
	maxOffset := vp.TotalLineCount() - vp.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	assert.LessOrEqual(t, vp.YOffset, maxOffset)
	assert.GreaterOrEqual(t, vp.YOffset, 0)
}

func TestViewportManager_ThreadSafety(t *testing.T) {
	vm := NewViewportManager(ViewportConfig{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			vm.HandleResize(tea.WindowSizeMsg{Width: 80, Height: 20 + i%10}, 3, 2)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			vm.Append("line", true)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = vm.View()
			_ = vm.Content()
			_, _ = vm.GetDimensions()
		}
	}()
	wg.Wait()

	require.Len(t, vm.Content(), 100)
}
