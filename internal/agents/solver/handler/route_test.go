package handler

import (
	"testing"

	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/models"
	"go-quizagent/pkg/prompts"
)

func reply(text string, calls ...buffer.ToolCall) buffer.Message {
	return buffer.Message{Kind: buffer.KindReply, Text: text, Calls: calls}
}

func TestRoute(t *testing.T) {
	strict := EndRule{Tokens: []string{"END"}}
	loose := EndRule{Tokens: []string{"END"}, Keywords: true}
	call := buffer.ToolCall{ID: "1", Name: "run_code", Args: map[string]any{"code": "print(1)"}}

	tests := []struct {
		name string
		last buffer.Message
		rule EndRule
		want models.LoopState
	}{
		{"user message", buffer.User("task"), strict, models.Reason},
		{"tool result", buffer.ToolResult("1", "run_code", "{}"), strict, models.Reason},
		{"malformed", buffer.Message{Kind: buffer.KindReply, Status: buffer.StatusMalformed}, strict, models.Repair},
		{"call", reply("", call), strict, models.Act},
		{"call with end text", reply("END", call), strict, models.Act},
		{"call without name", reply("", buffer.ToolCall{ID: "1", Args: map[string]any{"a": 1}}), strict, models.Repair},
		{"call without args", reply("", buffer.ToolCall{ID: "1", Name: "run_code"}), strict, models.Repair},
		{"end token", reply("  END \n"), strict, models.Done},
		{"end inside prose", reply("we are at the END now"), strict, models.Reason},
		{"keyword mode", reply("Task complete."), loose, models.Done},
		{"empty reply", reply(""), loose, models.Reason},
		{"plain text", reply("thinking about it"), strict, models.Reason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tt.last, tt.rule); got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRepair(t *testing.T) {
	out := Repair(reply("", buffer.ToolCall{ID: "a", Name: "x"}, buffer.ToolCall{ID: "b"}))
	if len(out) != 2 {
		t.Fatalf("got %d messages, want one per call id", len(out))
	}
	for i, id := range []string{"a", "b"} {
		if out[i].Kind != buffer.KindToolResult || out[i].CallID != id || out[i].Text != prompts.MalformedCallCorrection {
			t.Errorf("message %d = %+v", i, out[i])
		}
	}

	out = Repair(buffer.Message{Kind: buffer.KindReply, Status: buffer.StatusMalformed})
	if len(out) != 1 || out[0].Kind != buffer.KindUser {
		t.Errorf("without call ids want a single user message, got %+v", out)
	}
}
