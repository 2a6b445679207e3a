package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Codec counts encoded tokens for a specific model's encoding.
type Codec interface {
	Count(text string) int
}

type tiktokenCodec struct {
	encoding *tiktoken.Tiktoken
}

func (c *tiktokenCodec) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// Registry hands out token codecs keyed by model id. Encodings are loaded
// once and cached; Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	codecs map[string]Codec
}

// NewRegistry creates an empty codec registry
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]Codec),
	}
}

// encodingNameForModel maps a model id to its tiktoken encoding name.
// Returns "" for model families with no known encoding.
func encodingNameForModel(modelID string) string {
	switch {
	case strings.HasPrefix(modelID, "gpt-4o"):
		return "o200k_base"
	case strings.HasPrefix(modelID, "gpt-4"),
		strings.HasPrefix(modelID, "gpt-3.5-turbo"):
		return "cl100k_base"
	case strings.HasPrefix(modelID, "code-"),
		modelID == "text-davinci-002",
		modelID == "text-davinci-003":
		return "p50k_base"
	case strings.HasPrefix(modelID, "text-davinci-001"),
		strings.HasPrefix(modelID, "text-curie-001"),
		strings.HasPrefix(modelID, "text-babbage-001"),
		strings.HasPrefix(modelID, "text-ada-001"),
		modelID == "davinci",
		modelID == "curie",
		modelID == "babbage",
		modelID == "ada":
		return "r50k_base"
	default:
		return ""
	}
}

// CodecFor returns the cached codec for modelID, loading the encoding on
// first use. An unrecognized model id is a configuration error.
func (r *Registry) CodecFor(modelID string) (Codec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if codec, ok := r.codecs[modelID]; ok {
		return codec, nil
	}

	encoding, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		name := encodingNameForModel(modelID)
		if name == "" {
			return nil, ErrModelNotAvailable("codec_for", modelID, err)
		}
		encoding, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, &TokenizerError{
				Op:      "codec_for",
				Model:   modelID,
				Code:    ErrCodeInternal,
				Message: "failed to load " + name + " encoding",
				Err:     err,
			}
		}
	}

	codec := &tiktokenCodec{encoding: encoding}
	r.codecs[modelID] = codec
	return codec, nil
}
