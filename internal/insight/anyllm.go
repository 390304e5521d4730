package insight

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Completer answers a single-turn prompt. It is the seam between the LLM
// classifier/summarizer and a concrete model backend.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnyLLM is a Completer backed by any-llm-go. The zero value is not usable;
// construct with [NewAnyLLM].
type AnyLLM struct {
	backend     anyllmlib.Provider
	model       string
	temperature *float64
}

var _ Completer = (*AnyLLM)(nil)

// NewAnyLLM creates a Completer for the named provider ("openai",
// "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
// "llamacpp") and model. Provider options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL are forwarded.
func NewAnyLLM(providerName, model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	if providerName == "" {
		return nil, fmt.Errorf("insight: llm provider must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("insight: llm model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("insight: create %q backend: %w", providerName, err)
	}
	// Low temperature keeps classification answers stable.
	t := 0.2
	return &AnyLLM{backend: backend, model: model, temperature: &t}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp", providerName)
	}
}

// Complete implements [Completer].
func (a *AnyLLM) Complete(ctx context.Context, system, user string) (string, error) {
	var messages []anyllmlib.Message
	if system != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	messages = append(messages, anyllmlib.Message{Role: "user", Content: user})

	resp, err := a.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:       a.model,
		Messages:    messages,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("insight: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("insight: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
