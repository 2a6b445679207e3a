package prompt

import (
	"github.com/Abraxas-365/chatstream/llm"
	"github.com/Abraxas-365/chatstream/tokenizer"
)

// DefaultInstruction is the system instruction included in every prompt
// unless overridden with WithInstruction.
const DefaultInstruction = "You are a friendly chatbot capable of providing precise answers to human queries"

// budgetRatio is the share of a model's token ceiling available to the
// prompt; the remainder is reserved for the response.
const budgetRatio = 0.75

// Exchange is one prior question/answer pair of the conversation history
type Exchange struct {
	Question string
	Answer   string
}

// CodecProvider resolves the token codec for a model id.
// *tokenizer.Registry satisfies it.
type CodecProvider interface {
	CodecFor(modelID string) (tokenizer.Codec, error)
}

// Builder assembles token-bounded prompts for both compatibility modes
type Builder struct {
	codecs CodecProvider
	opts   *Options
}

// NewBuilder creates a prompt builder backed by the given codec provider
func NewBuilder(codecs CodecProvider, opts ...Option) *Builder {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Builder{
		codecs: codecs,
		opts:   options,
	}
}

// budgetRendering is the synthetic text counted for a chat-mode message.
// It approximates the provider's wire format; budget decisions must keep
// using it even though it is not exact provider billing.
func budgetRendering(m llm.Message) string {
	return "role:" + m.Role + "\ncontent:" + m.Content + "\n"
}

// Build assembles the prompt for content against the model's token ceiling
// and returns it together with the remaining response token budget.
//
// History must be ordered newest-first. Accepted history is a contiguous
// prefix of that order: the walk stops at the first pair that no longer
// fits, so older pairs are never skipped over. The assembled prompt keeps
// chronological order between the system instruction and the current
// question.
func (b *Builder) Build(modelID string, maxTokens int, mode llm.Mode, content string, history []Exchange) (*Prompt, int, error) {
	codec, err := b.codecs.CodecFor(modelID)
	if err != nil {
		return nil, 0, err
	}

	maxPromptTokens := int(budgetRatio * float64(maxTokens))

	switch mode {
	case llm.ModeCompletion:
		return b.buildCompletion(codec, maxTokens, maxPromptTokens, content, history)
	case llm.ModeChatCompletion:
		return b.buildChatCompletion(codec, maxTokens, maxPromptTokens, content, history)
	default:
		return nil, 0, ErrInvalidMode("build", string(mode))
	}
}

func (b *Builder) buildCompletion(codec tokenizer.Codec, maxTokens, maxPromptTokens int, content string, history []Exchange) (*Prompt, int, error) {
	system := "-s> " + b.opts.Instruction + "\n"
	current := "-u> " + content + "\n-a> "

	used := codec.Count(system) + codec.Count(current)
	if maxTokens-used < 1 {
		return nil, 0, ErrTokenLimitExceeded("build")
	}

	// Walk newest-first, keep the pairs that fit.
	var accepted [][2]string
	for _, ex := range history {
		question := "-u> " + ex.Question + "\n"
		answer := "-a> " + ex.Answer + "\n"
		pairTokens := codec.Count(question) + codec.Count(answer)
		if used+pairTokens > maxPromptTokens {
			break
		}
		used += pairTokens
		accepted = append(accepted, [2]string{question, answer})
	}

	// Concatenate in one pass: system, accepted history oldest-first,
	// then the current question.
	blocks := make([]string, 0, 2*len(accepted)+2)
	blocks = append(blocks, system)
	for i := len(accepted) - 1; i >= 0; i-- {
		blocks = append(blocks, accepted[i][0], accepted[i][1])
	}
	blocks = append(blocks, current)

	return &Prompt{mode: llm.ModeCompletion, blocks: blocks}, maxTokens - used, nil
}

func (b *Builder) buildChatCompletion(codec tokenizer.Codec, maxTokens, maxPromptTokens int, content string, history []Exchange) (*Prompt, int, error) {
	system := llm.Message{Role: llm.RoleSystem, Content: b.opts.Instruction}
	current := llm.Message{Role: llm.RoleUser, Content: content}

	used := codec.Count(budgetRendering(system)) + codec.Count(budgetRendering(current))
	if maxTokens-used < 1 {
		return nil, 0, ErrTokenLimitExceeded("build")
	}

	var accepted [][2]llm.Message
	for _, ex := range history {
		question := llm.Message{Role: llm.RoleUser, Content: ex.Question}
		answer := llm.Message{Role: llm.RoleAssistant, Content: ex.Answer}
		pairTokens := codec.Count(budgetRendering(question)) + codec.Count(budgetRendering(answer))
		if used+pairTokens > maxPromptTokens {
			break
		}
		used += pairTokens
		accepted = append(accepted, [2]llm.Message{question, answer})
	}

	messages := make([]llm.Message, 0, 2*len(accepted)+2)
	messages = append(messages, system)
	for i := len(accepted) - 1; i >= 0; i-- {
		messages = append(messages, accepted[i][0], accepted[i][1])
	}
	messages = append(messages, current)

	return &Prompt{mode: llm.ModeChatCompletion, messages: messages}, maxTokens - used, nil
}
