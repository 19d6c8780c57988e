package model

import (
	"encoding/base64"
	"strings"
)

// Role tags the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a model conversation. Content is an ordered list
// of typed blocks; providers translate blocks into their own wire format.
type Message struct {
	Role    Role
	Content []ContentBlock
}

func NewUserText(text string) *Message {
	return &Message{Role: RoleUser, Content: []ContentBlock{&TextBlock{Text: text}}}
}

func NewUserMessage(blocks ...ContentBlock) *Message {
	return &Message{Role: RoleUser, Content: blocks}
}

func NewAssistantText(text string) *Message {
	return &Message{Role: RoleAssistant, Content: []ContentBlock{&TextBlock{Text: text}}}
}

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if tb, ok := block.(*TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// HasImage reports whether any content block is an inline image.
func (m *Message) HasImage() bool {
	for _, block := range m.Content {
		if _, ok := block.(*ImageBlock); ok {
			return true
		}
	}
	return false
}

type ContentBlockType string

const (
	ContentBlockTypeText  ContentBlockType = "text"
	ContentBlockTypeImage ContentBlockType = "image"
)

type ContentBlock interface {
	Type() ContentBlockType
}

type TextBlock struct {
	Text string
}

func (t *TextBlock) Type() ContentBlockType {
	return ContentBlockTypeText
}

// ImageBlock carries an inline image. Data is the raw encoded image;
// providers base64-encode it as required by their wire format.
type ImageBlock struct {
	MediaType string
	Data      []byte
}

func (i *ImageBlock) Type() ContentBlockType {
	return ContentBlockTypeImage
}

func (i *ImageBlock) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL renders the image as a data URL, the form expected by
// OpenAI-compatible chat endpoints.
func (i *ImageBlock) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

// Response is the outcome of a single model invocation: the model's free-text
// content plus token accounting.
type Response struct {
	Content string
	Usage   Usage
}

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
