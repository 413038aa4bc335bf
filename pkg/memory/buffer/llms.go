package buffer

import (
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// DefaultMalformedMarkers match the finish reasons backends use for a broken
// structured call. Gemini reports MALFORMED_FUNCTION_CALL, which the
// generative-ai-go client only knows by its enum value 10.
var DefaultMalformedMarkers = []string{"MALFORMED", "FinishReason(10)"}

func Reply(text string, calls ...ToolCall) Message {
	return Message{Kind: KindReply, Text: text, Calls: calls}
}

// Call builds a ToolCall and fills RawArgs from args.
func Call(id, name string, args map[string]any) ToolCall {
	raw := ""
	if args != nil {
		b, _ := json.Marshal(args)
		raw = string(b)
	}
	return ToolCall{ID: id, Name: name, Args: args, RawArgs: raw}
}

// ToMessageContents converts the conversation into langchaingo messages.
func ToMessageContents(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case KindSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Text))
		case KindUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Text))
		case KindReply:
			parts := make([]llms.ContentPart, 0, len(m.Calls)+1)
			if m.Text != "" || len(m.Calls) == 0 {
				parts = append(parts, llms.TextContent{Text: m.Text})
			}
			for _, c := range m.Calls {
				parts = append(parts, llms.ToolCall{
					ID:   c.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      c.Name,
						Arguments: c.RawArgs,
					},
				})
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case KindToolResult:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.CallID,
					Name:       m.ToolName,
					Content:    m.Text,
				}},
			})
		}
	}
	return out
}

// ReplyFromChoice turns a backend choice into a reply message. A stop reason
// containing one of markers flags the reply as malformed; no markers means
// DefaultMalformedMarkers.
func ReplyFromChoice(choice *llms.ContentChoice, markers []string) Message {
	if choice == nil {
		return Reply("")
	}
	if len(markers) == 0 {
		markers = DefaultMalformedMarkers
	}
	msg := Message{
		Kind:       KindReply,
		Text:       choice.Content,
		StopReason: choice.StopReason,
	}
	reason := strings.ToUpper(choice.StopReason)
	for _, marker := range markers {
		if marker != "" && strings.Contains(reason, strings.ToUpper(marker)) {
			msg.Status = StatusMalformed
			break
		}
	}

	for _, tc := range choice.ToolCalls {
		call := ToolCall{ID: tc.ID}
		if tc.FunctionCall != nil {
			call.Name = tc.FunctionCall.Name
			call.RawArgs = tc.FunctionCall.Arguments
			call.Args = parseArgs(tc.FunctionCall.Arguments)
		}
		msg.Calls = append(msg.Calls, call)
	}
	if len(msg.Calls) == 0 && choice.FuncCall != nil {
		msg.Calls = append(msg.Calls, ToolCall{
			Name:    choice.FuncCall.Name,
			RawArgs: choice.FuncCall.Arguments,
			Args:    parseArgs(choice.FuncCall.Arguments),
		})
	}
	return msg
}

// parseArgs returns nil for arguments that are not a JSON object.
func parseArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	return args
}
