package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LangChainClient talks to any OpenAI-compatible endpoint through
// langchaingo. It serves as the fallback provider.
type LangChainClient struct {
	model contentGenerator
}

// NewOpenAICompatibleClient builds a LangChainClient for baseURL. An empty
// baseURL targets api.openai.com.
func NewOpenAICompatibleClient(baseURL, apiKey, model string) (*LangChainClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: fallback api key is required")
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if strings.TrimSpace(model) != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create openai client: %w", err)
	}
	return &LangChainClient{model: m}, nil
}

func newLangChainClient(model contentGenerator) *LangChainClient {
	return &LangChainClient{model: model}
}

func (c *LangChainClient) Complete(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("llm: langchain requires at least one message")
	}
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(strings.Join(req.System, "\n\n")); system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, content))
		case RoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, content))
		case RoleAssistant:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, content))
		default:
			return Response{}, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}

	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(int(req.MaxTokens)))
	}
	if req.Temperature >= 0 {
		opts = append(opts, llms.WithTemperature(float64(req.Temperature)))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("llm: langchain completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Response{}, errors.New("llm: langchain returned no choices")
	}
	choice := resp.Choices[0]
	return Response{
		Text:       strings.TrimSpace(choice.Content),
		StopReason: choice.StopReason,
	}, nil
}
