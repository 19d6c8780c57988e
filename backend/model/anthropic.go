package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicProvider struct {
	client  anthropic.Client
	options *ProviderOptions
}

func NewAnthropicProvider(apiKey string, opts ...ProviderOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	providerOptions := DefaultProviderOptions("anthropic")
	for _, opt := range opts {
		opt(providerOptions)
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(apiKey)}
	if providerOptions.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(providerOptions.BaseURL))
	}

	return &AnthropicProvider{
		client:  anthropic.NewClient(clientOptions...),
		options: providerOptions,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Invoke(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeOption) (*Response, error) {
	if err := validateInvocation(model, messages); err != nil {
		return nil, err
	}

	options := defaultInvokeOptions()
	for _, opt := range opts {
		opt(options)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   options.MaxTokens,
		Messages:    p.transformMessages(messages),
		Temperature: anthropic.Float(options.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	return invokeWithResilience(ctx, p.options, func(ctx context.Context) (*Response, error) {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, p.wrapError(err)
		}

		var content string
		for _, block := range message.Content {
			if block.Type == "text" {
				content += block.Text
			}
		}

		return &Response{
			Content: content,
			Usage: Usage{
				InputTokens:  message.Usage.InputTokens,
				OutputTokens: message.Usage.OutputTokens,
			},
		}, nil
	})
}

func (p *AnthropicProvider) transformMessages(messages []*Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, message := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(message.Content))
		for _, block := range message.Content {
			switch block := block.(type) {
			case *TextBlock:
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case *ImageBlock:
				blocks = append(blocks, anthropic.NewImageBlockBase64(block.MediaType, block.Base64()))
			}
		}

		switch message.Role {
		case RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result
}

func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "anthropic",
			Kind:       kindFromStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: "anthropic", Kind: ProviderErrorKindTimeout, Err: err}
	}
	return NewProviderError("anthropic", ProviderErrorKindUnknown, err)
}
