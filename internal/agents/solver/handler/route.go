package handler

import (
	"strings"

	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/models"
)

var endKeywords = []string{"END", "COMPLETE", "FINISHED"}

// EndRule decides when a reply finishes the task.
type EndRule struct {
	// Tokens match the whole trimmed reply text.
	Tokens []string
	// Keywords also accepts replies that merely contain END, COMPLETE or
	// FINISHED.
	Keywords bool
}

func (r EndRule) matches(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, t := range r.Tokens {
		if text == t {
			return true
		}
	}
	if r.Keywords {
		upper := strings.ToUpper(text)
		for _, k := range endKeywords {
			if strings.Contains(upper, k) {
				return true
			}
		}
	}
	return false
}

// Route picks the next loop state from the last message of the conversation.
func Route(last buffer.Message, rule EndRule) models.LoopState {
	if last.Kind != buffer.KindReply {
		return models.Reason
	}
	if last.Status == buffer.StatusMalformed {
		return models.Repair
	}
	if len(last.Calls) > 0 {
		for _, c := range last.Calls {
			if c.Name == "" || len(c.Args) == 0 {
				return models.Repair
			}
		}
		return models.Act
	}
	if rule.matches(last.Text) {
		return models.Done
	}
	return models.Reason
}
