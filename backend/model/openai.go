package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ZhipuBaseURL is the OpenAI-compatible endpoint of the ZhipuAI (GLM) API,
// the default planner backend of the original agent.
const ZhipuBaseURL = "https://open.bigmodel.cn/api/paas/v4/"

// OpenAIProvider speaks the OpenAI chat-completions protocol. With a base URL
// override it also serves OpenAI-compatible vendors such as ZhipuAI/GLM.
type OpenAIProvider struct {
	name    string
	client  openai.Client
	options *ProviderOptions
}

func NewOpenAIProvider(apiKey string, opts ...ProviderOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	providerOptions := DefaultProviderOptions("openai")
	for _, opt := range opts {
		opt(providerOptions)
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(apiKey)}
	if providerOptions.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(providerOptions.BaseURL))
	}

	return &OpenAIProvider{
		name:    "openai",
		client:  openai.NewClient(clientOptions...),
		options: providerOptions,
	}, nil
}

// NewZhipuProvider is an OpenAI-compatible provider preconfigured for the
// ZhipuAI GLM endpoint.
func NewZhipuProvider(apiKey string, opts ...ProviderOption) (*OpenAIProvider, error) {
	opts = append([]ProviderOption{WithBaseURL(ZhipuBaseURL)}, opts...)
	provider, err := NewOpenAIProvider(apiKey, opts...)
	if err != nil {
		return nil, err
	}
	provider.name = "zhipu"
	return provider, nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Invoke(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeOption) (*Response, error) {
	if err := validateInvocation(model, messages); err != nil {
		return nil, err
	}

	options := defaultInvokeOptions()
	for _, opt := range opts {
		opt(options)
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    p.transformMessages(systemPrompt, messages),
		MaxTokens:   openai.Int(options.MaxTokens),
		Temperature: openai.Float(options.Temperature),
	}

	return invokeWithResilience(ctx, p.options, func(ctx context.Context) (*Response, error) {
		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, p.wrapError(err)
		}
		if len(completion.Choices) == 0 {
			return nil, NewProviderError(p.name, ProviderErrorKindUnknown, errors.New("response contains no choices"))
		}

		return &Response{
			Content: completion.Choices[0].Message.Content,
			Usage: Usage{
				InputTokens:  completion.Usage.PromptTokens,
				OutputTokens: completion.Usage.CompletionTokens,
			},
		}, nil
	})
}

func (p *OpenAIProvider) transformMessages(systemPrompt string, messages []*Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, openai.SystemMessage(systemPrompt))
	}

	for _, message := range messages {
		switch message.Role {
		case RoleAssistant:
			result = append(result, openai.AssistantMessage(message.Text()))
		case RoleSystem:
			result = append(result, openai.SystemMessage(message.Text()))
		default:
			if !message.HasImage() {
				result = append(result, openai.UserMessage(message.Text()))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(message.Content))
			for _, block := range message.Content {
				switch block := block.(type) {
				case *TextBlock:
					parts = append(parts, openai.TextContentPart(block.Text))
				case *ImageBlock:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: block.DataURL(),
					}))
				}
			}
			result = append(result, openai.UserMessage(parts))
		}
	}

	return result
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   p.name,
			Kind:       kindFromStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: p.name, Kind: ProviderErrorKindTimeout, Err: err}
	}
	return NewProviderError(p.name, ProviderErrorKindUnknown, err)
}

func validateInvocation(model string, messages []*Message) error {
	if model == "" {
		return fmt.Errorf("model is required")
	}
	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	return nil
}
