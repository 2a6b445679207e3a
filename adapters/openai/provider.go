package openai

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/Abraxas-365/chatstream/llm"
	"github.com/sashabaranov/go-openai"
)

// Provider implements llm.Provider on top of the OpenAI API
type Provider struct {
	client *openai.Client
}

// NewProvider creates an OpenAI-backed provider client
func NewProvider(apiKey string) *Provider {
	return &Provider{
		client: openai.NewClient(apiKey),
	}
}

// NewProviderWithClient wraps an already configured client
func NewProviderWithClient(client *openai.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	switch req.Mode {
	case llm.ModeCompletion:
		return p.streamText(ctx, req)
	case llm.ModeChatCompletion:
		return p.streamChat(ctx, req)
	default:
		return nil, llm.NewProviderError("StreamCompletion", 400, llm.ErrCodeInvalidRequest,
			"unknown compatibility mode "+string(req.Mode), false, nil)
	}
}

func (p *Provider) streamText(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	stream, err := p.client.CreateCompletionStream(ctx, openai.CompletionRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, handleOpenAIError("StreamCompletion", err)
	}

	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, llm.StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(ctx, out, llm.StreamChunk{Err: handleOpenAIError("StreamCompletion", err), Done: true})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if !send(ctx, out, llm.StreamChunk{Content: resp.Choices[0].Text}) {
				return
			}
		}
	}()

	return out, nil
}

func (p *Provider) streamChat(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, handleOpenAIError("StreamCompletion", err)
	}

	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, llm.StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(ctx, out, llm.StreamChunk{Err: handleOpenAIError("StreamCompletion", err), Done: true})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			// Role-only deltas come through with empty content; the
			// consumer decides whether to drop them.
			if !send(ctx, out, llm.StreamChunk{Content: choice.Delta.Content}) {
				return
			}
			if choice.FinishReason == openai.FinishReasonStop {
				send(ctx, out, llm.StreamChunk{Done: true})
				return
			}
		}
	}()

	return out, nil
}

func (p *Provider) Moderate(ctx context.Context, input string) (*llm.ModerationResult, error) {
	resp, err := p.client.Moderations(ctx, openai.ModerationRequest{
		Input: input,
	})
	if err != nil {
		return nil, handleOpenAIError("Moderate", err)
	}

	result := &llm.ModerationResult{
		ID:    resp.ID,
		Model: resp.Model,
	}
	for _, r := range resp.Results {
		result.Results = append(result.Results, moderationVerdict(r))
	}
	return result, nil
}

func moderationVerdict(r openai.Result) llm.ModerationVerdict {
	return llm.ModerationVerdict{
		Flagged: r.Flagged,
		Categories: map[string]bool{
			"hate":                   r.Categories.Hate,
			"hate/threatening":       r.Categories.HateThreatening,
			"harassment":             r.Categories.Harassment,
			"harassment/threatening": r.Categories.HarassmentThreatening,
			"self-harm":              r.Categories.SelfHarm,
			"self-harm/intent":       r.Categories.SelfHarmIntent,
			"self-harm/instructions": r.Categories.SelfHarmInstructions,
			"sexual":                 r.Categories.Sexual,
			"sexual/minors":          r.Categories.SexualMinors,
			"violence":               r.Categories.Violence,
			"violence/graphic":       r.Categories.ViolenceGraphic,
		},
		CategoryScores: map[string]float64{
			"hate":                   float64(r.CategoryScores.Hate),
			"hate/threatening":       float64(r.CategoryScores.HateThreatening),
			"harassment":             float64(r.CategoryScores.Harassment),
			"harassment/threatening": float64(r.CategoryScores.HarassmentThreatening),
			"self-harm":              float64(r.CategoryScores.SelfHarm),
			"self-harm/intent":       float64(r.CategoryScores.SelfHarmIntent),
			"self-harm/instructions": float64(r.CategoryScores.SelfHarmInstructions),
			"sexual":                 float64(r.CategoryScores.Sexual),
			"sexual/minors":          float64(r.CategoryScores.SexualMinors),
			"violence":               float64(r.CategoryScores.Violence),
			"violence/graphic":       float64(r.CategoryScores.ViolenceGraphic),
		},
	}
}

// send forwards a chunk unless the context is already gone
func send(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleOpenAIError maps API failures onto provider faults, classifying
// timeouts, rate limits, connection errors and 5xx responses as transient
func handleOpenAIError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llm.NewProviderError(op, 0, llm.ErrCodeConnection, "request cancelled", false, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		switch {
		case apiErr.HTTPStatusCode == 408:
			return llm.NewProviderError(op, apiErr.HTTPStatusCode, fallback(code, llm.ErrCodeTimeout),
				apiErr.Message, true, err)
		case apiErr.HTTPStatusCode == 429:
			return llm.NewProviderError(op, apiErr.HTTPStatusCode, fallback(code, llm.ErrCodeRateLimitExceeded),
				apiErr.Message, true, err)
		case apiErr.HTTPStatusCode == 503:
			return llm.NewProviderError(op, apiErr.HTTPStatusCode, fallback(code, llm.ErrCodeServiceUnavailable),
				apiErr.Message, true, err)
		case apiErr.HTTPStatusCode >= 500:
			return llm.NewProviderError(op, apiErr.HTTPStatusCode, fallback(code, llm.ErrCodeAPIError),
				apiErr.Message, true, err)
		case apiErr.HTTPStatusCode == 401:
			return llm.NewProviderError(op, apiErr.HTTPStatusCode, fallback(code, llm.ErrCodeUnauthenticated),
				apiErr.Message, false, err)
		default:
			return llm.NewProviderError(op, apiErr.HTTPStatusCode, fallback(code, llm.ErrCodeInvalidRequest),
				apiErr.Message, false, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		transient := reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
		return llm.NewProviderError(op, reqErr.HTTPStatusCode, llm.ErrCodeAPIError,
			"request failed", transient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llm.NewProviderError(op, 0, llm.ErrCodeTimeout, "request timed out", true, err)
	}

	return llm.NewProviderError(op, 0, llm.ErrCodeConnection, "connection error", true, err)
}

func fallback(code, def string) string {
	if code == "" {
		return def
	}
	return code
}
