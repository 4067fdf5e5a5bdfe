package tools

import (
	"sort"
	"strings"

	"github.com/ilkoid/vaultmind/pkg/llm"
)

// PriorityClass определяет порядок выполнения вызовов в батче.
//
// Меньшее значение выполняется раньше: сначала дешёвые lookup,
// затем чтение, внешние запросы, изменения и в конце удаление.
type PriorityClass int

const (
	PriorityLookup PriorityClass = iota
	PriorityRead
	PriorityExternal
	PriorityMutate
	PriorityDestructive
)

func (p PriorityClass) String() string {
	switch p {
	case PriorityLookup:
		return "lookup"
	case PriorityRead:
		return "read"
	case PriorityExternal:
		return "external"
	case PriorityMutate:
		return "mutate"
	case PriorityDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// Ключевые слова в имени инструмента. Проверяются сверху вниз:
// "delete_search_index" - destructive, а не lookup.
var priorityKeywords = []struct {
	class    PriorityClass
	keywords []string
}{
	{PriorityDestructive, []string{"delete", "remove", "trash", "purge", "drop"}},
	{PriorityMutate, []string{"write", "create", "append", "update", "move", "rename", "edit", "save"}},
	{PriorityExternal, []string{"fetch", "web", "http", "download", "google"}},
	{PriorityLookup, []string{"list", "search", "find", "metadata", "stat", "glob"}},
	{PriorityRead, []string{"read", "get", "open", "view"}},
}

// ClassifyName выводит класс приоритета из имени инструмента.
//
// Неизвестные имена получают PriorityMutate: неизвестный инструмент
// не должен выполняться раньше чтений.
func ClassifyName(name string) PriorityClass {
	lower := strings.ToLower(name)
	for _, group := range priorityKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.class
			}
		}
	}
	return PriorityMutate
}

// Classify возвращает класс инструмента: явный (Classified) или по имени.
func Classify(tool Tool, name string) PriorityClass {
	if c, ok := tool.(Classified); ok {
		return c.PriorityClass()
	}
	return ClassifyName(name)
}

// OrderCalls возвращает индексы calls в порядке выполнения.
//
// Сортировка стабильная: вызовы одного класса сохраняют порядок модели.
func OrderCalls(calls []llm.ToolCall, classOf func(name string) PriorityClass) []int {
	order := make([]int, len(calls))
	classes := make([]PriorityClass, len(calls))
	for i, c := range calls {
		order[i] = i
		classes[i] = classOf(c.Name)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return classes[order[a]] < classes[order[b]]
	})
	return order
}
