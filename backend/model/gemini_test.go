package model

import (
	"testing"

	"google.golang.org/genai"
)

func TestGeminiTransformMessages(t *testing.T) {
	t.Parallel()

	p := &GeminiProvider{}
	messages := []*Message{
		NewUserMessage(
			&TextBlock{Text: "tap the search box"},
			&ImageBlock{Data: []byte{0x89, 0x50, 0x4e, 0x47}, MediaType: "image/png"},
		),
		NewAssistantText("done"),
	}

	contents := p.transformMessages(messages)

	if len(contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Errorf("first role = %q, want %q", contents[0].Role, genai.RoleUser)
	}
	if contents[1].Role != genai.RoleModel {
		t.Errorf("second role = %q, want %q", contents[1].Role, genai.RoleModel)
	}
	if len(contents[0].Parts) != 2 {
		t.Errorf("first message has %d parts, want text and image", len(contents[0].Parts))
	}
	if got := contents[1].Parts[0].Text; got != "done" {
		t.Errorf("assistant text = %q, want %q", got, "done")
	}
}
