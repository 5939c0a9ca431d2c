package agent

import (
	"errors"
	"fmt"

	"github.com/quantumflow/finassist/internal/models"
)

var (
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrInvalidMessage = errors.New("invalid conversation message")
)

// Conversation is an append-only message log owned by a single Ask call.
// Append never modifies the receiver; it returns a new log sharing no backing array.
type Conversation struct {
	messages []models.Message
}

// NewConversation seeds a log with the system context and the user question
func NewConversation(system, question string) (Conversation, error) {
	if question == "" {
		return Conversation{}, ErrEmptyQuestion
	}
	return Conversation{messages: []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: question},
	}}, nil
}

// Append returns a new log with msgs added at the tail.
// Only assistant and tool messages may follow the seed, and each tool message
// must answer a still unanswered call of the latest assistant message.
func (c Conversation) Append(msgs ...models.Message) (Conversation, error) {
	if len(c.messages) == 0 {
		return Conversation{}, fmt.Errorf("%w: conversation is not seeded", ErrInvalidMessage)
	}

	next := make([]models.Message, len(c.messages), len(c.messages)+len(msgs))
	copy(next, c.messages)

	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			if err := checkCallIDs(m.ToolCalls); err != nil {
				return Conversation{}, err
			}
		case models.RoleTool:
			if !answersPendingCall(next, m.ToolCallID) {
				return Conversation{}, fmt.Errorf("%w: tool message %q does not answer a pending call", ErrInvalidMessage, m.ToolCallID)
			}
		default:
			return Conversation{}, fmt.Errorf("%w: role %q cannot be appended", ErrInvalidMessage, m.Role)
		}
		next = append(next, m)
	}

	return Conversation{messages: next}, nil
}

// Messages returns a copy of the log
func (c Conversation) Messages() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages
func (c Conversation) Len() int {
	return len(c.messages)
}

// Question returns the seeded user question
func (c Conversation) Question() string {
	if len(c.messages) < 2 {
		return ""
	}
	return c.messages[1].Content
}

// Pending returns the calls of the latest assistant message that have no tool answer yet
func (c Conversation) Pending() []models.ToolCall {
	last := lastAssistant(c.messages)
	if last < 0 {
		return nil
	}
	answered := make(map[string]bool)
	for _, m := range c.messages[last+1:] {
		answered[m.ToolCallID] = true
	}

	var pending []models.ToolCall
	for _, tc := range c.messages[last].ToolCalls {
		if !answered[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

func checkCallIDs(calls []models.ToolCall) error {
	seen := make(map[string]bool, len(calls))
	for _, tc := range calls {
		if tc.ID == "" {
			return fmt.Errorf("%w: tool call %q has no id", ErrInvalidMessage, tc.Name)
		}
		if seen[tc.ID] {
			return fmt.Errorf("%w: duplicate tool call id %q", ErrInvalidMessage, tc.ID)
		}
		seen[tc.ID] = true
	}
	return nil
}

func answersPendingCall(messages []models.Message, id string) bool {
	if id == "" {
		return false
	}
	last := lastAssistant(messages)
	if last < 0 {
		return false
	}
	for _, m := range messages[last+1:] {
		if m.ToolCallID == id {
			return false
		}
	}
	for _, tc := range messages[last].ToolCalls {
		if tc.ID == id {
			return true
		}
	}
	return false
}

func lastAssistant(messages []models.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return i
		}
	}
	return -1
}
