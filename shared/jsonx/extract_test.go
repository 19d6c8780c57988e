package jsonx

import "testing"

func TestExtractObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "bare object",
			input: `{"type": "FINISH"}`,
			want:  `{"type": "FINISH"}`,
			ok:    true,
		},
		{
			name:  "object inside prose",
			input: "Sure, here is my decision:\n```json\n{\"type\": \"NEXT_STEP\"}\n```\nlet me know.",
			want:  `{"type": "NEXT_STEP"}`,
			ok:    true,
		},
		{
			name:  "first of two objects",
			input: `{"a": 1} and later {"b": 2}`,
			want:  `{"a": 1}`,
			ok:    true,
		},
		{
			name:  "braces inside strings",
			input: `{"message": "use {curly} braces \"and\" quotes"}`,
			want:  `{"message": "use {curly} braces \"and\" quotes"}`,
			ok:    true,
		},
		{
			name:  "nested objects",
			input: `result: {"outer": {"inner": 1}} done`,
			want:  `{"outer": {"inner": 1}}`,
			ok:    true,
		},
		{
			name:  "unbalanced",
			input: `{"type": "FINISH"`,
			ok:    false,
		},
		{
			name:  "no object",
			input: "I could not decide.",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractObject(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
