// Package factory создаёт llm.Client по конфигурации модели.
package factory

import (
	"context"
	"fmt"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/llm/gemini"
	"github.com/ilkoid/vaultmind/pkg/llm/openai"
)

// Base URL OpenAI-совместимых провайдеров, если в конфиге не задан base_url.
var defaultBaseURLs = map[string]string{
	"deepseek":   "https://api.deepseek.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434/v1",
	"zai":        "https://api.z.ai/api/paas/v4",
}

// NewProvider создаёт клиента провайдера без ретраев.
func NewProvider(ctx context.Context, modelDef config.ModelDef) (llm.Client, error) {
	switch modelDef.Provider {
	case "gemini":
		return gemini.NewClient(ctx, modelDef)

	case "openai", "zai", "deepseek", "openrouter", "ollama":
		if modelDef.BaseURL == "" {
			modelDef.BaseURL = defaultBaseURLs[modelDef.Provider]
		}
		return openai.NewClient(modelDef), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", modelDef.Provider)
	}
}

// NewClient создаёт клиента провайдера, обёрнутого в RetryClient.
func NewClient(ctx context.Context, modelDef config.ModelDef, retry config.RetryConfig) (llm.Client, error) {
	provider, err := NewProvider(ctx, modelDef)
	if err != nil {
		return nil, err
	}

	retry = retry.GetDefaults()
	client, err := llm.NewRetryClient(provider, llm.RetryPolicy{
		MaxRetries:     retry.MaxRetries,
		InitialBackoff: retry.InitialBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", modelDef.ModelName, err)
	}
	return client, nil
}
