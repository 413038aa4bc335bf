package handler

import (
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/prompts"
)

// Repair builds the corrective messages for a malformed reply: one tool
// result per addressable call, or a single user message when the reply
// carries no call ids. The malformed reply itself stays in the history.
func Repair(reply buffer.Message) []buffer.Message {
	var out []buffer.Message
	for _, c := range reply.Calls {
		if c.ID == "" {
			continue
		}
		out = append(out, buffer.ToolResult(c.ID, c.Name, prompts.MalformedCallCorrection))
	}
	if len(out) == 0 {
		out = append(out, buffer.User(prompts.MalformedCallCorrection))
	}
	return out
}
