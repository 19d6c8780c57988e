package model

import (
	"context"
	"errors"
	"fmt"

	deepseek "github.com/cohesion-org/deepseek-go"
	"github.com/cohesion-org/deepseek-go/constants"
)

// DeepSeekProvider is a text-only provider, suitable for worker-side
// reasoning over UI-tree dumps. Image blocks are replaced by a placeholder
// because the chat endpoint does not accept inline images.
type DeepSeekProvider struct {
	client  *deepseek.Client
	options *ProviderOptions
}

func NewDeepSeekProvider(apiKey string, opts ...ProviderOption) (*DeepSeekProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}

	providerOptions := DefaultProviderOptions("deepseek")
	for _, opt := range opts {
		opt(providerOptions)
	}

	var client *deepseek.Client
	if providerOptions.BaseURL != "" {
		client = deepseek.NewClient(apiKey, providerOptions.BaseURL)
	} else {
		client = deepseek.NewClient(apiKey)
	}

	return &DeepSeekProvider{
		client:  client,
		options: providerOptions,
	}, nil
}

func (p *DeepSeekProvider) Name() string {
	return "deepseek"
}

func (p *DeepSeekProvider) Invoke(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeOption) (*Response, error) {
	if err := validateInvocation(model, messages); err != nil {
		return nil, err
	}

	options := defaultInvokeOptions()
	for _, opt := range opts {
		opt(options)
	}

	request := &deepseek.ChatCompletionRequest{
		Model:       model,
		Messages:    p.transformMessages(systemPrompt, messages),
		MaxTokens:   int(options.MaxTokens),
		Temperature: float32(options.Temperature),
	}

	return invokeWithResilience(ctx, p.options, func(ctx context.Context) (*Response, error) {
		resp, err := p.client.CreateChatCompletion(ctx, request)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, &ProviderError{Provider: "deepseek", Kind: ProviderErrorKindTimeout, Err: err}
			}
			return nil, NewProviderError("deepseek", ProviderErrorKindUnknown, err)
		}
		if len(resp.Choices) == 0 {
			return nil, NewProviderError("deepseek", ProviderErrorKindUnknown, errors.New("response contains no choices"))
		}

		return &Response{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
			},
		}, nil
	})
}

func (p *DeepSeekProvider) transformMessages(systemPrompt string, messages []*Message) []deepseek.ChatCompletionMessage {
	result := make([]deepseek.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, deepseek.ChatCompletionMessage{
			Role:    constants.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, message := range messages {
		role := constants.ChatMessageRoleUser
		if message.Role == RoleAssistant {
			role = constants.ChatMessageRoleAssistant
		}

		content := message.Text()
		if message.HasImage() {
			content += "\n[screenshot omitted: provider does not accept images]"
		}

		result = append(result, deepseek.ChatCompletionMessage{
			Role:    role,
			Content: content,
		})
	}

	return result
}
