package buffer

import "fmt"

type Mode string

const (
	ModeMessages Mode = "messages"
	ModeTokens   Mode = "tokens"
)

const (
	DefaultWindow    = 15
	DefaultMaxTokens = 60000
	DefaultKeepRatio = 0.6
)

// Compactor keeps a conversation inside its budget. The system instruction
// always survives; older turns are forgotten first.
type Compactor struct {
	Mode      Mode
	Window    int     // messages mode: non-system messages kept
	MaxTokens int     // tokens mode: ceiling for the whole sequence
	KeepRatio float64 // tokens mode: share of non-system messages kept on overflow
	Estimator Estimator
}

func (c Compactor) withDefaults() Compactor {
	if c.Mode == "" {
		c.Mode = ModeMessages
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.KeepRatio <= 0 || c.KeepRatio > 1 {
		c.KeepRatio = DefaultKeepRatio
	}
	if c.Estimator == nil {
		c.Estimator = CharEstimator{}
	}
	return c
}

// Compact returns msgs unchanged when they fit, otherwise the system
// instruction plus a recent suffix that does not start with a tool result.
// msgs is never modified.
func (c Compactor) Compact(msgs []Message) ([]Message, error) {
	if len(msgs) == 0 || msgs[0].Kind != KindSystem {
		return nil, ErrNoSystemPrompt
	}
	c = c.withDefaults()
	system, history := msgs[0], msgs[1:]

	var keep []Message
	switch c.Mode {
	case ModeMessages:
		if len(history) <= c.Window {
			return msgs, nil
		}
		keep = history[len(history)-c.Window:]
	case ModeTokens:
		if EstimateAll(c.Estimator, msgs) <= c.MaxTokens {
			return msgs, nil
		}
		n := int(float64(len(history)) * c.KeepRatio)
		if n < 1 {
			n = 1
		}
		keep = history[len(history)-n:]
		budget := c.MaxTokens - c.Estimator.Estimate(system)
		for len(keep) > 1 && EstimateAll(c.Estimator, keep) > budget {
			keep = keep[1:]
		}
	default:
		return nil, fmt.Errorf("unknown compaction mode %q", c.Mode)
	}

	for len(keep) > 0 && keep[0].Kind == KindToolResult {
		keep = keep[1:]
	}
	if len(keep) == 0 {
		keep = lastTurn(history)
	}

	out := make([]Message, 0, len(keep)+1)
	out = append(out, system)
	out = append(out, keep...)
	return out, nil
}

// lastTurn is the smallest valid suffix when nothing else fits: the task
// message followed by the newest reply and the tool results it requested.
// It may exceed the budget.
func lastTurn(history []Message) []Message {
	start := len(history) - 1
	for start > 0 && history[start].Kind == KindToolResult {
		start--
	}
	if start < 0 {
		return nil
	}
	task := -1
	for i, m := range history {
		if m.Kind == KindUser {
			task = i
			break
		}
	}
	out := make([]Message, 0, len(history)-start+1)
	if task >= 0 && task < start {
		out = append(out, history[task])
	}
	return append(out, history[start:]...)
}
