package llm

const (
	// RoleSystem represents a system message
	RoleSystem = "system"
	// RoleUser represents a user message
	RoleUser = "user"
	// RoleAssistant represents an assistant message
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
