package handler

import (
	"go-quizagent/pkg/data"
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/tools"
)

// nextURL finds the link to the task after current in a finished
// conversation. Only the quiz server's answers to submissions count; pages
// the model rendered along the way never do. An empty result ends the chain.
func nextURL(msgs []buffer.Message, current string) string {
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !isSubmission(m) {
			continue
		}
		if last < 0 {
			last = i
		}
		objs := data.JSONObjects(m.Text)
		for j := len(objs) - 1; j >= 0; j-- {
			obj := objs[j]
			if u := linkIn(obj, current); u != "" {
				return u
			}
			if inner, ok := obj["data"].(map[string]any); ok {
				if u := linkIn(inner, current); u != "" {
					return u
				}
			}
			if answeredWithoutNext(obj) {
				return ""
			}
		}
	}

	// free text after the latest submission, or anywhere when nothing was
	// submitted
	from := 0
	if last >= 0 {
		from = last
	}
	for i := len(msgs) - 1; i >= from; i-- {
		m := msgs[i]
		switch {
		case m.Kind == buffer.KindReply && len(m.Calls) == 0:
		case isSubmission(m) && !failed(m):
		default:
			continue
		}
		urls := data.URLs(m.Text)
		for j := len(urls) - 1; j >= 0; j-- {
			if urls[j] != current {
				return urls[j]
			}
		}
	}
	return ""
}

func isSubmission(m buffer.Message) bool {
	return m.Kind == buffer.KindToolResult && m.ToolName == tools.SubmitToolName
}

func linkIn(obj map[string]any, current string) string {
	for _, key := range []string{"next_url", "url"} {
		if u, _ := obj[key].(string); u != "" && u != current {
			return u
		}
	}
	return ""
}

// failed reports a submission result whose top-level success is false.
func failed(m buffer.Message) bool {
	for _, obj := range data.JSONObjects(m.Text) {
		if success, ok := obj["success"].(bool); ok && !success {
			return true
		}
	}
	return false
}

// answeredWithoutNext reports a submission the server accepted that carries
// an explicit null or empty next_url.
func answeredWithoutNext(obj map[string]any) bool {
	v, ok := obj["next_url"]
	if !ok {
		return false
	}
	if success, ok := obj["success"].(bool); ok && !success {
		return false
	}
	s, isString := v.(string)
	return v == nil || (isString && s == "")
}
