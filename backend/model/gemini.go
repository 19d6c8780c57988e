package model

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client  *genai.Client
	options *ProviderOptions
}

func NewGeminiProvider(ctx context.Context, apiKey string, opts ...ProviderOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	providerOptions := DefaultProviderOptions("gemini")
	for _, opt := range opts {
		opt(providerOptions)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:  client,
		options: providerOptions,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Invoke(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeOption) (*Response, error) {
	if err := validateInvocation(model, messages); err != nil {
		return nil, err
	}

	options := defaultInvokeOptions()
	for _, opt := range opts {
		opt(options)
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(options.Temperature)),
		MaxOutputTokens: int32(options.MaxTokens),
	}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := p.transformMessages(messages)

	return invokeWithResilience(ctx, p.options, func(ctx context.Context) (*Response, error) {
		resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, &ProviderError{Provider: "gemini", Kind: ProviderErrorKindTimeout, Err: err}
			}
			return nil, NewProviderError("gemini", ProviderErrorKindUnknown, err)
		}

		response := &Response{Content: resp.Text()}
		if resp.UsageMetadata != nil {
			response.Usage = Usage{
				InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		return response, nil
	})
}

func (p *GeminiProvider) transformMessages(messages []*Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, message := range messages {
		role := genai.Role(genai.RoleUser)
		if message.Role == RoleAssistant {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(message.Content))
		for _, block := range message.Content {
			switch block := block.(type) {
			case *TextBlock:
				parts = append(parts, genai.NewPartFromText(block.Text))
			case *ImageBlock:
				parts = append(parts, genai.NewPartFromBytes(block.Data, block.MediaType))
			}
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}
