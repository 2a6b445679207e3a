package bedrock

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Abraxas-365/chatstream/llm"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/ptr"
)

// Provider implements llm.Provider for Anthropic models served through
// Amazon Bedrock. Moderation is not offered by Bedrock and surfaces as a
// permanent provider fault.
type Provider struct {
	client *bedrockruntime.Client
}

// NewProvider creates a Bedrock-backed provider client
func NewProvider(client *bedrockruntime.Client) *Provider {
	return &Provider{client: client}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Messages         []anthropicMessage `json:"messages"`
	System           string             `json:"system,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float32            `json:"temperature,omitempty"`
	AnthropicVersion string             `json:"anthropic_version"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	body := anthropicRequest{
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		AnthropicVersion: "bedrock-2023-05-31",
	}

	switch req.Mode {
	case llm.ModeCompletion:
		// Bedrock has no flat completion endpoint; the delimited prompt
		// rides as a single user message.
		body.Messages = []anthropicMessage{{Role: llm.RoleUser, Content: req.Prompt}}
	case llm.ModeChatCompletion:
		for _, msg := range req.Messages {
			if msg.Role == llm.RoleSystem {
				body.System = msg.Content
				continue
			}
			body.Messages = append(body.Messages, anthropicMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	default:
		return nil, llm.NewProviderError("StreamCompletion", 400, llm.ErrCodeInvalidRequest,
			"unknown compatibility mode "+string(req.Mode), false, nil)
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewProviderError("StreamCompletion", 0, llm.ErrCodeInvalidRequest,
			"failed to marshal request", false, err)
	}

	output, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     ptr.String(req.Model),
		Body:        requestBody,
		ContentType: ptr.String("application/json"),
	})
	if err != nil {
		return nil, handleBedrockError("StreamCompletion", err)
	}

	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)

		stream := output.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var ev anthropicStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
				send(ctx, out, llm.StreamChunk{
					Err: llm.NewProviderError("StreamCompletion", 0, llm.ErrCodeAPIError,
						"failed to unmarshal stream chunk", false, err),
					Done: true,
				})
				return
			}

			switch ev.Type {
			case "content_block_delta":
				if !send(ctx, out, llm.StreamChunk{Content: ev.Delta.Text}) {
					return
				}
			case "message_stop":
				send(ctx, out, llm.StreamChunk{Done: true})
				return
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, out, llm.StreamChunk{Err: handleBedrockError("StreamCompletion", err), Done: true})
			return
		}
		send(ctx, out, llm.StreamChunk{Done: true})
	}()

	return out, nil
}

func (p *Provider) Moderate(ctx context.Context, input string) (*llm.ModerationResult, error) {
	return nil, llm.NewProviderError("Moderate", 0, llm.ErrCodeNotSupported,
		"Bedrock does not expose a moderation endpoint", false, nil)
}

func send(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleBedrockError maps Bedrock API failures onto provider faults
func handleBedrockError(op string, err error) error {
	if err == nil {
		return nil
	}

	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return llm.NewProviderError(op, 429, llm.ErrCodeRateLimitExceeded, "throttled by Bedrock", true, err)
	}
	var timeout *types.ModelTimeoutException
	if errors.As(err, &timeout) {
		return llm.NewProviderError(op, 408, llm.ErrCodeTimeout, "model invocation timed out", true, err)
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return llm.NewProviderError(op, 503, llm.ErrCodeServiceUnavailable, "Bedrock unavailable", true, err)
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return llm.NewProviderError(op, 500, llm.ErrCodeAPIError, "Bedrock server error", true, err)
	}
	var notReady *types.ModelNotReadyException
	if errors.As(err, &notReady) {
		return llm.NewProviderError(op, 503, llm.ErrCodeServiceUnavailable, "model not ready", true, err)
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return llm.NewProviderError(op, 400, llm.ErrCodeInvalidRequest, "invalid Bedrock request", false, err)
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return llm.NewProviderError(op, 403, llm.ErrCodeUnauthenticated, "access denied", false, err)
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return llm.NewProviderError(op, 404, llm.ErrCodeInvalidRequest, "model not found", false, err)
	}

	return llm.NewProviderError(op, 0, llm.ErrCodeConnection, "Bedrock request failed", true, err)
}
