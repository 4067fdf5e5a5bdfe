package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/debug"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/llm/llmtest"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, extra string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	require.NoError(t, os.MkdirAll(vault, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vault, "inbox.md"), []byte("- buy milk\n"), 0o644))

	raw := `
models:
  default: local
  definitions:
    local:
      provider: ollama
      model_name: qwen2.5
      api_key: none
session:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "sessions.db") + `
vault:
  root: ` + vault + `
` + extra

	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func TestInitialize(t *testing.T) {
	cfg := testConfig(t, `
tools:
  web_fetch:
    enabled: false
  read_file:
    timeout: 2s
`)
	c, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	names := make([]string, 0)
	for _, def := range c.Registry.EnabledTools(context.Background()) {
		names = append(names, def.Name)
	}
	assert.NotContains(t, names, "web_fetch")
	assert.Contains(t, names, "read_file")
	assert.Len(t, names, len(ToolNames)-1)

	assert.IsType(t, &permission.StaticPolicy{}, c.Policy)
	assert.IsType(t, &session.SQLiteStore{}, c.Store)
	assert.IsType(t, &llm.RetryClient{}, c.Client)
}

func TestInitialize_BuiltinPolicy(t *testing.T) {
	cfg := testConfig(t, `
permission:
  policy_file: builtin
`)
	c, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.IsType(t, &permission.RegoPolicy{}, c.Policy)
}

func TestInitialize_Errors(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Vault.Root = filepath.Join(t.TempDir(), "missing")
	_, err := Initialize(context.Background(), cfg)
	assert.ErrorContains(t, err, "failed to open vault")

	cfg = testConfig(t, "")
	cfg.Permission.PolicyFile = filepath.Join(t.TempDir(), "missing.rego")
	_, err = Initialize(context.Background(), cfg)
	assert.ErrorContains(t, err, "load policy")
}

func TestNewSession_RunsAndPersists(t *testing.T) {
	cfg := testConfig(t, `
permission:
  auto_approve: [write_file]
`)
	c, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	client := llmtest.NewScriptedClient(
		llmtest.Turn{ToolCalls: []llm.ToolCall{{
			ID:   "1",
			Name: "write_file",
			Args: map[string]any{"path": "notes/new.md", "content": "hello"},
		}}},
		llmtest.Turn{Text: "Created notes/new.md."},
	)
	c.Client = client

	ctx := context.Background()
	orch, err := c.NewSession(ctx, "s1", nil)
	require.NoError(t, err)
	assert.True(t, c.Gate.IsAllowed("s1", "write_file"))

	out, err := orch.Run(ctx, chain.RunInput{UserMessage: "create a note"}, nil)
	require.NoError(t, err)
	assert.Equal(t, chain.StateDone, out.State)

	data, err := os.ReadFile(filepath.Join(c.Vault.Root(), "notes", "new.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Новая сессия с тем же id видит сохранённую историю
	again, err := c.NewSession(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Len(t, again.History(), 4)
}

func TestNewSession_WritesTraces(t *testing.T) {
	traceDir := filepath.Join(t.TempDir(), "traces")
	cfg := testConfig(t, `
app:
  trace_dir: `+traceDir+`
`)
	c, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NotNil(t, c.Tracer)

	c.Client = llmtest.NewScriptedClient(
		llmtest.Turn{ToolCalls: []llm.ToolCall{{ID: "1", Name: "list_files", Args: map[string]any{}}}},
		llmtest.Turn{Text: "One note: inbox.md."},
	)

	ctx := context.Background()
	orch, err := c.NewSession(ctx, "traced", nil)
	require.NoError(t, err)

	out, err := orch.Run(ctx, chain.RunInput{UserMessage: "what is in the vault?"}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(traceDir, out.RunID+".json"))
	require.NoError(t, err)
	var trace debug.RunTrace
	require.NoError(t, json.Unmarshal(data, &trace))

	assert.Equal(t, "traced", trace.SessionID)
	assert.Equal(t, "what is in the vault?", trace.UserQuery)
	assert.Equal(t, "done", trace.State)
	assert.Equal(t, "One note: inbox.md.", trace.FinalResult)
	assert.Equal(t, []string{"list_files"}, trace.Summary.VisitedTools)
	assert.Zero(t, c.Tracer.Active())
}

func TestNewSession_SystemPromptFile(t *testing.T) {
	promptPath := filepath.Join(t.TempDir(), "system.yaml")
	require.NoError(t, os.WriteFile(promptPath, []byte(`
messages:
  - role: system
    content: "Vault: {{.VaultRoot}}. Tools: {{len .Tools}}."
`), 0o644))

	cfg := testConfig(t, `
orchestrator:
  system_prompt_file: `+promptPath+`
`)
	c, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	want := fmt.Sprintf("Vault: %s. Tools: %d.", c.Vault.Root(), len(ToolNames))
	assert.Equal(t, want, c.SystemPrompt)

	client := llmtest.NewScriptedClient(llmtest.Turn{Text: "ok"})
	c.Client = client

	ctx := context.Background()
	orch, err := c.NewSession(ctx, "prompted", nil)
	require.NoError(t, err)
	_, err = orch.Run(ctx, chain.RunInput{UserMessage: "hi"}, nil)
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, want, reqs[0].System)
}

func TestInitialize_BadSystemPromptFile(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Orchestrator.SystemPromptFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Initialize(context.Background(), cfg)
	assert.ErrorContains(t, err, "load system prompt")
}

func TestNewEngine_ToolTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cfg := testConfig(t, `
tools:
  web_fetch:
    timeout: 50ms
`)
	c, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	engine := c.NewEngine(nil)
	results := engine.ExecuteBatch(context.Background(),
		[]llm.ToolCall{{Name: "web_fetch", Args: map[string]any{"url": srv.URL}}}, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "tool execution timeout after 50ms", results[0].Error)
}

func TestDefaultConfigPathFinder(t *testing.T) {
	f := &DefaultConfigPathFinder{ConfigFlag: "custom.yaml"}
	assert.True(t, filepath.IsAbs(f.FindConfigPath()))
	assert.Equal(t, "custom.yaml", filepath.Base(f.FindConfigPath()))

	_, _, err := InitializeConfig(&DefaultConfigPathFinder{ConfigFlag: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestInitializeConfig_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  default: m
  definitions:
    m:
      provider: openai
      model_name: gpt-4o-mini
`), 0o644))

	cfg, got, err := InitializeConfig(&DefaultConfigPathFinder{ConfigFlag: path})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "m", cfg.Models.Default)
}
