package tools

import (
	"testing"

	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/stretchr/testify/assert"
)

type classifiedTool struct {
	mockTool
	class PriorityClass
}

func (c *classifiedTool) PriorityClass() PriorityClass { return c.class }

func TestClassifyName(t *testing.T) {
	tests := map[string]PriorityClass{
		"list_files":        PriorityLookup,
		"search_files":      PriorityLookup,
		"get_file_metadata": PriorityLookup,
		"read_file":         PriorityRead,
		"web_fetch":         PriorityExternal,
		"write_file":        PriorityMutate,
		"append_to_file":    PriorityMutate,
		"delete_file":       PriorityDestructive,
		"delete_search_idx": PriorityDestructive,
		"frobnicate":        PriorityMutate,
	}
	for name, want := range tests {
		assert.Equal(t, want, ClassifyName(name), name)
	}
}

func TestClassify_ExplicitClassWins(t *testing.T) {
	tool := &classifiedTool{mockTool: mockTool{name: "delete_cache"}, class: PriorityLookup}
	assert.Equal(t, PriorityLookup, Classify(tool, "delete_cache"))
	assert.Equal(t, PriorityDestructive, Classify(&mockTool{name: "delete_cache"}, "delete_cache"))
}

func TestOrderCalls(t *testing.T) {
	calls := []llm.ToolCall{call("delete_file"), call("read_file"), call("search_files")}
	order := OrderCalls(calls, ClassifyName)
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestOrderCalls_StableWithinClass(t *testing.T) {
	calls := []llm.ToolCall{
		call("read_file"),
		call("list_files"),
		call("get_note"),
		call("search_files"),
	}
	order := OrderCalls(calls, ClassifyName)
	assert.Equal(t, []int{1, 3, 0, 2}, order)
}

func TestPriorityClass_String(t *testing.T) {
	assert.Equal(t, "external", PriorityExternal.String())
	assert.Equal(t, "unknown", PriorityClass(42).String())
}
