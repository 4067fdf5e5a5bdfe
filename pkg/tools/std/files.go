/* Файловые инструменты vault.

list_files, search_files, get_file_metadata, read_file - только чтение,
выполняются без подтверждения.
write_file, append_to_file, delete_file - изменяют заметки пользователя
и требуют подтверждения через permission.Gate.
*/
package std

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/tools"
)

const (
	defaultListLimit   = 200
	defaultSearchLimit = 50
)

func pathSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// --- Tool: list_files ---
// Аналог ls: показывает содержимое директории vault.

type ListFilesTool struct {
	vault       *Vault
	description string
}

func NewListFilesTool(v *Vault, cfg config.ToolConfig) *ListFilesTool {
	return &ListFilesTool{vault: v, description: describe(cfg,
		"Lists files and folders in the vault. Use it first to discover note paths.")}
}

func (t *ListFilesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "list_files",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"path":      pathSchema("Folder relative to the vault root. Empty for the root."),
				"recursive": map[string]any{"type": "boolean", "description": "Include nested folders."},
			},
			"required": []string{},
		},
	}
}

type fileEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  string `json:"size,omitempty"`
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]any, _ *tools.ExecContext) tools.Result {
	var params struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}

	dir, err := t.vault.Resolve(params.Path)
	if err != nil {
		return tools.Failure("%v", err)
	}

	entries := make([]fileEntry, 0)
	truncated := false
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == dir {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= defaultListLimit {
			truncated = true
			return filepath.SkipAll
		}

		entry := fileEntry{Path: t.vault.Rel(p), IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = formatSize(info.Size())
			}
		}
		entries = append(entries, entry)

		if d.IsDir() && !params.Recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return tools.Failure("list %s: %v", params.Path, walkErr)
	}
	sortEntries(entries)

	return tools.Success(map[string]any{
		"entries":   entries,
		"truncated": truncated,
	})
}

// --- Tool: search_files ---
// Полнотекстовый поиск подстроки по текстовым файлам vault.

type SearchFilesTool struct {
	vault       *Vault
	description string
}

func NewSearchFilesTool(v *Vault, cfg config.ToolConfig) *SearchFilesTool {
	return &SearchFilesTool{vault: v, description: describe(cfg,
		"Searches note contents for a case-insensitive text fragment and returns matching lines.")}
}

func (t *SearchFilesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "search_files",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Text to find."},
				"path":        pathSchema("Folder to search in. Empty for the whole vault."),
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of matches."},
			},
			"required": []string{"query"},
		},
	}
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]any, ec *tools.ExecContext) tools.Result {
	var params struct {
		Query      string `json:"query"`
		Path       string `json:"path"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return tools.Failure("query is required")
	}
	if params.MaxResults <= 0 {
		params.MaxResults = defaultSearchLimit
	}

	dir, err := t.vault.Resolve(params.Path)
	if err != nil {
		return tools.Failure("%v", err)
	}

	needle := strings.ToLower(params.Query)
	matches := make([]searchMatch, 0)
	scanned := 0

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != dir && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) || isBinaryExt(filepath.Ext(p)) {
			return nil
		}

		scanned++
		if scanned%100 == 0 {
			ec.ReportProgress(fmt.Sprintf("scanned %d files", scanned))
		}

		found, err := t.searchFile(p, needle, params.MaxResults-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= params.MaxResults {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return tools.Failure("search: %v", walkErr)
	}

	return tools.Success(map[string]any{
		"matches": matches,
		"scanned": scanned,
	})
}

func (t *SearchFilesTool) searchFile(p, needle string, limit int) ([]searchMatch, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []searchMatch
	scanner := bufio.NewScanner(io.LimitReader(f, t.vault.MaxFileBytes()))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() && len(out) < limit {
		line++
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), needle) {
			out = append(out, searchMatch{Path: t.vault.Rel(p), Line: line, Text: strings.TrimSpace(text)})
		}
	}
	return out, scanner.Err()
}

// --- Tool: get_file_metadata ---

type FileMetadataTool struct {
	vault       *Vault
	description string
}

func NewFileMetadataTool(v *Vault, cfg config.ToolConfig) *FileMetadataTool {
	return &FileMetadataTool{vault: v, description: describe(cfg,
		"Returns size, modification time and type of a vault file or folder.")}
}

func (t *FileMetadataTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "get_file_metadata",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"path": pathSchema("Path relative to the vault root."),
			},
			"required": []string{"path"},
		},
	}
}

func (t *FileMetadataTool) Execute(_ context.Context, args map[string]any, _ *tools.ExecContext) tools.Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}

	p, err := t.vault.Resolve(params.Path)
	if err != nil {
		return tools.Failure("%v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tools.Failure("file not found: %s", params.Path)
		}
		return tools.Failure("stat %s: %v", params.Path, err)
	}

	return tools.Success(map[string]any{
		"path":     t.vault.Rel(p),
		"is_dir":   info.IsDir(),
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	})
}

// --- Tool: read_file ---
// Аналог cat. Бинарные файлы не читаются.

type ReadFileTool struct {
	vault       *Vault
	description string
}

func NewReadFileTool(v *Vault, cfg config.ToolConfig) *ReadFileTool {
	return &ReadFileTool{vault: v, description: describe(cfg,
		"Reads a text note from the vault. Large files are truncated.")}
}

func (t *ReadFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "read_file",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"path": pathSchema("Path relative to the vault root, as returned by list_files."),
			},
			"required": []string{"path"},
		},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any, _ *tools.ExecContext) tools.Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}
	if isBinaryExt(filepath.Ext(params.Path)) {
		return tools.Failure("file %s is binary, only text files can be read", params.Path)
	}

	p, err := t.vault.Resolve(params.Path)
	if err != nil {
		return tools.Failure("%v", err)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tools.Failure("file not found: %s", params.Path)
		}
		return tools.Failure("open %s: %v", params.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return tools.Failure("stat %s: %v", params.Path, err)
	}
	if info.IsDir() {
		return tools.Failure("%s is a directory, use list_files", params.Path)
	}

	content, err := io.ReadAll(io.LimitReader(f, t.vault.MaxFileBytes()))
	if err != nil {
		return tools.Failure("read %s: %v", params.Path, err)
	}

	return tools.Success(map[string]any{
		"path":      t.vault.Rel(p),
		"content":   string(content),
		"truncated": info.Size() > int64(len(content)),
	})
}

// --- Tool: write_file ---

type WriteFileTool struct {
	vault       *Vault
	description string
}

func NewWriteFileTool(v *Vault, cfg config.ToolConfig) *WriteFileTool {
	return &WriteFileTool{vault: v, description: describe(cfg,
		"Creates or overwrites a note in the vault. Requires user confirmation.")}
}

func (t *WriteFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "write_file",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"path":    pathSchema("Path relative to the vault root."),
				"content": map[string]any{"type": "string", "description": "Full file content."},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *WriteFileTool) RequiresConfirmation() bool { return true }

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any, _ *tools.ExecContext) tools.Result {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}
	return writeContent(t.vault, params.Path, params.Content, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// --- Tool: append_to_file ---

type AppendFileTool struct {
	vault       *Vault
	description string
}

func NewAppendFileTool(v *Vault, cfg config.ToolConfig) *AppendFileTool {
	return &AppendFileTool{vault: v, description: describe(cfg,
		"Appends text to the end of a note, creating it if needed. Requires user confirmation.")}
}

func (t *AppendFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "append_to_file",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"path":    pathSchema("Path relative to the vault root."),
				"content": map[string]any{"type": "string", "description": "Text to append."},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *AppendFileTool) RequiresConfirmation() bool { return true }

func (t *AppendFileTool) Execute(_ context.Context, args map[string]any, _ *tools.ExecContext) tools.Result {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}
	return writeContent(t.vault, params.Path, params.Content, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func writeContent(v *Vault, rel, content string, flag int) tools.Result {
	if strings.TrimSpace(rel) == "" {
		return tools.Failure("path is required")
	}
	if int64(len(content)) > v.MaxFileBytes() {
		return tools.Failure("content exceeds %s limit", formatSize(v.MaxFileBytes()))
	}

	p, err := v.Resolve(rel)
	if err != nil {
		return tools.Failure("%v", err)
	}
	if p == v.Root() {
		return tools.Failure("path must point to a file")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return tools.Failure("create folder for %s: %v", rel, err)
	}

	f, err := os.OpenFile(p, flag, 0o644)
	if err != nil {
		return tools.Failure("open %s: %v", rel, err)
	}
	n, err := f.WriteString(content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return tools.Failure("write %s: %v", rel, err)
	}

	return tools.Success(map[string]any{
		"path":          v.Rel(p),
		"bytes_written": n,
	})
}

// --- Tool: delete_file ---

type DeleteFileTool struct {
	vault       *Vault
	description string
}

func NewDeleteFileTool(v *Vault, cfg config.ToolConfig) *DeleteFileTool {
	return &DeleteFileTool{vault: v, description: describe(cfg,
		"Deletes a single note from the vault. Folders are not deleted. Requires user confirmation.")}
}

func (t *DeleteFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "delete_file",
		Description: t.description,
		Parameters: llm.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"path": pathSchema("Path relative to the vault root."),
			},
			"required": []string{"path"},
		},
	}
}

func (t *DeleteFileTool) RequiresConfirmation() bool { return true }

func (t *DeleteFileTool) Execute(_ context.Context, args map[string]any, _ *tools.ExecContext) tools.Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return tools.Failure("%v", err)
	}

	p, err := t.vault.Resolve(params.Path)
	if err != nil {
		return tools.Failure("%v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tools.Failure("file not found: %s", params.Path)
		}
		return tools.Failure("stat %s: %v", params.Path, err)
	}
	if info.IsDir() {
		return tools.Failure("%s is a directory", params.Path)
	}
	if err := os.Remove(p); err != nil {
		return tools.Failure("delete %s: %v", params.Path, err)
	}

	return tools.Success(map[string]any{"deleted": t.vault.Rel(p)})
}

// sortEntries упорядочивает выдачу: сначала папки, затем по пути.
func sortEntries(entries []fileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Path < entries[j].Path
	})
}
