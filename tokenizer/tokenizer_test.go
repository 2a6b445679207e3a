package tokenizer

import (
	"errors"
	"testing"
)

func TestEncodingNameForModel(t *testing.T) {
	tests := []struct {
		modelID string
		want    string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"gpt-3.5-turbo-16k", "cl100k_base"},
		{"code-davinci-002", "p50k_base"},
		{"text-davinci-003", "p50k_base"},
		{"text-davinci-001", "r50k_base"},
		{"davinci", "r50k_base"},
		{"ada", "r50k_base"},
		{"claude-3", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := encodingNameForModel(tt.modelID); got != tt.want {
			t.Errorf("encodingNameForModel(%q) = %q, want %q", tt.modelID, got, tt.want)
		}
	}
}

func TestCodecForUnknownModel(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.CodecFor("not-a-model")
	var tokErr *TokenizerError
	if !errors.As(err, &tokErr) {
		t.Fatalf("error = %v, want *TokenizerError", err)
	}
	if tokErr.Code != ErrCodeModelNotAvailable {
		t.Errorf("code = %q, want %q", tokErr.Code, ErrCodeModelNotAvailable)
	}
	if tokErr.Model != "not-a-model" {
		t.Errorf("model = %q, want the requested id", tokErr.Model)
	}
}
