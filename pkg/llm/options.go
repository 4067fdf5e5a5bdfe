// Package llm provides options pattern for LLM generation parameters.
//
// Options can be set at initialization (from config.yaml) and
// overridden per request.
package llm

// GenerateOptions holds parameters for LLM generation.
// Zero values mean "use the model default".
type GenerateOptions struct {
	// Model is the model identifier (e.g., "gemini-2.5-flash", "gpt-4o-mini")
	Model string

	// Temperature controls randomness in responses. nil = model default.
	Temperature *float64

	// TopP is nucleus sampling. nil = model default.
	TopP *float64

	// MaxTokens limits the response length
	MaxTokens int
}

// GenerateOption is a functional option for configuring GenerateOptions.
type GenerateOption func(*GenerateOptions)

// WithModel sets the model for generation.
// Runtime override: takes precedence over config.yaml default.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithTemperature sets the temperature for generation.
// Runtime override: takes precedence over config.yaml default.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = &temp
	}
}

// WithTopP sets nucleus sampling for generation.
func WithTopP(topP float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.TopP = &topP
	}
}

// WithMaxTokens sets the maximum tokens for generation.
// Runtime override: takes precedence over config.yaml default.
func WithMaxTokens(tokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = tokens
	}
}

// NewGenerateOptions applies opts over an empty GenerateOptions.
func NewGenerateOptions(opts ...GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Merge returns defaults overridden by every non-zero field of o.
func (o GenerateOptions) Merge(defaults GenerateOptions) GenerateOptions {
	result := defaults
	if o.Model != "" {
		result.Model = o.Model
	}
	if o.Temperature != nil {
		result.Temperature = o.Temperature
	}
	if o.TopP != nil {
		result.TopP = o.TopP
	}
	if o.MaxTokens > 0 {
		result.MaxTokens = o.MaxTokens
	}
	return result
}
