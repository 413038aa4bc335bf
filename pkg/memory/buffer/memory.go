// Package buffer is the conversation memory of the control loop: a typed
// message sequence plus the compaction policy that keeps it bounded.
package buffer

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindSystem Kind = iota
	KindUser
	KindReply
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindUser:
		return "user"
	case KindReply:
		return "reply"
	case KindToolResult:
		return "tool_result"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Status is the backend-reported finish status of a model reply.
type Status int

const (
	StatusOK Status = iota
	StatusMalformed
)

// ToolCall is one structured tool invocation requested by the model.
type ToolCall struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name"`
	Args    map[string]any `json:"args,omitempty"`
	RawArgs string         `json:"raw_args,omitempty"`
}

// Message is a tagged variant over the four message kinds. Which fields are
// meaningful depends on Kind.
type Message struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`

	// reply only
	Calls      []ToolCall `json:"calls,omitempty"`
	Status     Status     `json:"status,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`

	// tool result only
	CallID   string `json:"call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
}

func System(text string) Message { return Message{Kind: KindSystem, Text: text} }
func User(text string) Message   { return Message{Kind: KindUser, Text: text} }

func ToolResult(callID, tool, text string) Message {
	return Message{Kind: KindToolResult, CallID: callID, ToolName: tool, Text: text}
}

var (
	ErrNoSystemPrompt   = errors.New("conversation must start with the system instruction")
	ErrDuplicateSystem  = errors.New("system instruction appears more than once")
	ErrOrphanToolResult = errors.New("tool result without its requesting reply")
)

// Conversation is the sole memory of one task run.
type Conversation struct {
	messages []Message
}

// New seeds a conversation with the system instruction and the task message.
func New(system, task string) *Conversation {
	return &Conversation{messages: []Message{System(system), User(task)}}
}

func (c *Conversation) Append(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the sequence.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int { return len(c.messages) }

func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

func (c *Conversation) Validate() error { return Validate(c.messages) }

// Validate checks the structural invariants of a message sequence: the system
// instruction is first and unique, and every tool result follows the reply
// that requested it (possibly after sibling results of the same reply).
func Validate(msgs []Message) error {
	if len(msgs) == 0 || msgs[0].Kind != KindSystem {
		return ErrNoSystemPrompt
	}
	var owner *Message
	for i := 1; i < len(msgs); i++ {
		m := msgs[i]
		switch m.Kind {
		case KindSystem:
			return fmt.Errorf("index %d: %w", i, ErrDuplicateSystem)
		case KindReply:
			owner = &msgs[i]
		case KindToolResult:
			if owner == nil {
				return fmt.Errorf("index %d: %w", i, ErrOrphanToolResult)
			}
			if m.CallID != "" && owner.hasAddressableCalls() && !owner.ownsCall(m.CallID) {
				return fmt.Errorf("index %d: call %q: %w", i, m.CallID, ErrOrphanToolResult)
			}
			continue
		default:
			owner = nil
		}
	}
	return nil
}

func (m Message) hasAddressableCalls() bool {
	for _, c := range m.Calls {
		if c.ID != "" {
			return true
		}
	}
	return false
}

func (m Message) ownsCall(id string) bool {
	for _, c := range m.Calls {
		if c.ID == id {
			return true
		}
	}
	return false
}
