package prompt

import (
	"strings"

	"github.com/Abraxas-365/chatstream/llm"
)

// Prompt is the assembled, token-bounded model input. It is transient and
// never persisted. Exactly one of the two shapes is populated, depending on
// the mode it was built for.
type Prompt struct {
	mode     llm.Mode
	blocks   []string
	messages []llm.Message
}

// Mode returns the compatibility mode the prompt was built for
func (p *Prompt) Mode() llm.Mode {
	return p.mode
}

// Text returns the flat completion-mode prompt, blocks joined in order
func (p *Prompt) Text() string {
	return strings.Join(p.blocks, "")
}

// Messages returns the chat-mode role-tagged message list
func (p *Prompt) Messages() []llm.Message {
	return p.messages
}
