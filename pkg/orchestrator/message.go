package orchestrator

import (
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// Role is the author of a conversation message.
type Role string

// Message roles. Tool results are serialized as "tool".
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation.
//
//nolint:govet // fieldalignment: mirrors the JSON layout
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request tools.
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and Name are set on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message, optionally requesting tools.
func AssistantMessage(content string, calls ...llm.ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds the result message answering call.
//
//nolint:gocritic // ToolCall passed by value to mirror llm response slices
func ToolMessage(call llm.ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// State is the ordered, append-only conversation of a session.
type State struct {
	Messages []Message `json:"messages"`
}

// NewState returns a state holding msgs.
func NewState(msgs ...Message) State {
	return State{Messages: append([]Message(nil), msgs...)}
}

// Clone returns a deep enough copy that appending to it never aliases s.
func (s State) Clone() State {
	return State{Messages: append(make([]Message, 0, len(s.Messages)+4), s.Messages...)}
}

// Append returns s with msgs added at the end.
func (s State) Append(msgs ...Message) State {
	s.Messages = append(s.Messages, msgs...)
	return s
}

// Last returns the most recent message.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastAssistant returns the most recent assistant message.
func (s State) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// toCompletionMessages converts the conversation to model messages. Consecutive tool
// messages are grouped into one message carrying several results.
func toCompletionMessages(system string, msgs []Message) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, llm.NewSystemMessage(system))
	}

	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case RoleUser:
			out = append(out, llm.NewUserMessage(msg.Content))
		case RoleAssistant:
			out = append(out, llm.NewAssistantMessage(msg.Content, msg.ToolCalls...))
		case RoleSystem:
			out = append(out, llm.NewSystemMessage(msg.Content))
		case RoleTool:
			result := llm.ToolResult{ToolCallID: msg.ToolCallID, Name: msg.Name, Content: msg.Content}
			if n := len(out); n > 0 && out[n-1].Role == llm.RoleTool {
				out[n-1].ToolResults = append(out[n-1].ToolResults, result)
				continue
			}
			out = append(out, llm.NewToolResultMessage(result))
		}
	}
	return out
}
