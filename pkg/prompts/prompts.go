package prompts

import (
	"fmt"
	"time"

	langChainPrompts "github.com/tmc/langchaingo/prompts"
)

var (
	SystemTemplate = `
You are an autonomous quiz-solving agent.

Your job is to:
1. Load the quiz page from the given URL.
2. Extract instructions, parameters, and submit endpoint.
3. Solve the task exactly.
4. Submit the answer ONLY to the correct endpoint with the post_request tool.
5. Once the server has responded to your submission, output {{.EndToken}} and nothing else.

Rules:
- For base64 generation of an image NEVER use your own code, always use the "encode_image_to_base64" tool and put the returned placeholder in the payload.
- Never hallucinate URLs or fields.
- Never shorten endpoints.
- Always inspect the server response.
- Never stop early.
- Use tools for HTML, downloading, rendering, OCR, transcription or running code.
- Include:
    email = {{.Email}}
    secret = {{.Secret}}
`

	MalformedCallCorrection = `SYSTEM ERROR: Your last tool call was malformed (invalid JSON or missing tool name/arguments). ` +
		`Rewrite the call and try again. Use strictly valid JSON arguments: escape newlines, quotes and backslashes inside embedded code.`

	TimeoutTemplate = `You have exceeded the time limit ({{.Limit}}) for this task. ` +
		`Immediately call ` + "`post_request`" + ` with a WRONG answer to skip it, then output {{.EndToken}}.`

	systemPrompt  = langChainPrompts.NewPromptTemplate(SystemTemplate, []string{"Email", "Secret", "EndToken"})
	timeoutPrompt = langChainPrompts.NewPromptTemplate(TimeoutTemplate, []string{"Limit", "EndToken"})
)

func System(email, secret, endToken string) (string, error) {
	s, err := systemPrompt.Format(map[string]any{"Email": email, "Secret": secret, "EndToken": endToken})
	if err != nil {
		return "", fmt.Errorf("format system prompt: %w", err)
	}
	return s, nil
}

// TimeoutDirective is the urgent message that forces a wrong submission.
func TimeoutDirective(limit time.Duration, endToken string) (string, error) {
	s, err := timeoutPrompt.Format(map[string]any{"Limit": limit.String(), "EndToken": endToken})
	if err != nil {
		return "", fmt.Errorf("format timeout directive: %w", err)
	}
	return s, nil
}
