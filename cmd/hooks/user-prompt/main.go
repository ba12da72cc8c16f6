// Package main provides the user-prompt hook entry point.
package main

import (
	"strings"

	"github.com/pilothq/recall/pkg/hooks"
)

// Input is the hook input from the editor.
type Input struct {
	hooks.BaseInput
	Prompt string `json:"prompt"`
}

func main() {
	hooks.RunHook("UserPromptSubmit", handleUserPrompt)
}

func handleUserPrompt(ctx *hooks.HookContext, input *Input) (string, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return "", nil
	}
	_, err := hooks.POST(ctx.Port, "/api/sessions/prompt", map[string]interface{}{
		"contentSessionId": ctx.SessionID,
		"prompt":           input.Prompt,
	})
	return "", err
}
