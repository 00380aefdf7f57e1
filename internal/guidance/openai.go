package guidance

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultBaseURL is a local Ollama server's OpenAI-compatible endpoint.
const DefaultBaseURL = "http://localhost:11434/v1"

// DefaultModel is the model requested when none is configured.
const DefaultModel = "llama3"

// OpenAIClient is a Completer backed by any OpenAI-compatible chat API.
type OpenAIClient struct {
	client oai.Client
	model  string
}

// ClientConfig configures an OpenAIClient.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIClient constructs a chat client.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.APIKey == "" {
		// Ollama ignores the key but the client requires one.
		cfg.APIKey = "ollama"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &OpenAIClient{client: oai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// Model implements Completer.
func (c *OpenAIClient) Model() string { return c.model }

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("guidance: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("guidance: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
