package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// GenerationError reports a failed completion call. The orchestrator
// converts it into a user-facing fallback answer; it never reaches the
// client as a raw error.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating with %s: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// DefaultSystemTemplate grounds the model in the retrieved context and
// tells it to admit when the context holds no answer.
const DefaultSystemTemplate = `You are an assistant that answers questions using the numbered context passages provided with each question. Base your answer on those passages.

Do not mention the passages or their numbering in your answer; present the information naturally.

If the passages do not contain the information needed to answer, say that you could not find relevant information in the indexed documents. Answer in the same language as the question.`

// ContextTemplate wraps the assembled context and the question into the
// user message.
const ContextTemplate = "Documents:\n%s\n\nQuestion: %s"

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string
}

// ChatEngine generates grounded answers through an LLM.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// Generate produces an answer for the query grounded in the assembled
// context. Decoding is bounded and low-temperature, non-streaming.
func (ce *ChatEngine) Generate(ctx context.Context, contextText, query string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ContextTemplate, contextText, query)),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", &GenerationError{Model: ce.config.Model, Err: err}
	}
	if len(response.Choices) == 0 {
		return "", &GenerationError{Model: ce.config.Model, Err: fmt.Errorf("empty response")}
	}

	return response.Choices[0].Content, nil
}

// GenerateStream produces the same answer token by token. The channel
// closes when generation finishes; a failure surfaces as a
// GenerationError on the error channel.
func (ce *ChatEngine) GenerateStream(ctx context.Context, contextText, query string) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ContextTemplate, contextText, query)),
	}

	go func() {
		defer close(tokens)
		defer close(errs)

		_, err := ce.llm.GenerateContent(ctx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case tokens <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			errs <- &GenerationError{Model: ce.config.Model, Err: err}
		}
	}()

	return tokens, errs
}
