// Package main provides the post-tool-use hook entry point.
package main

import (
	"github.com/goccy/go-json"

	"github.com/pilothq/recall/pkg/hooks"
)

// Input is the hook input from the editor.
type Input struct {
	hooks.BaseInput
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response"`
	ToolUseID    string          `json:"tool_use_id"`
}

// skipTools never produce memorable observations; skip the HTTP call
// entirely to keep heavy tool loops cheap.
var skipTools = map[string]bool{
	"Task":            true,
	"TaskOutput":      true,
	"TodoWrite":       true,
	"KillShell":       true,
	"AskUserQuestion": true,
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,
	"Skill":           true,
	"SlashCommand":    true,
}

func main() {
	hooks.RunHook("PostToolUse", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, input *Input) (string, error) {
	if skipTools[input.ToolName] {
		return "", nil
	}

	_, err := hooks.POST(ctx.Port, "/api/sessions/observations", map[string]interface{}{
		"contentSessionId": ctx.SessionID,
		"project":          ctx.Project,
		"tool_name":        input.ToolName,
		"tool_input":       input.ToolInput,
		"tool_response":    input.ToolResponse,
		"cwd":              ctx.CWD,
	})
	return "", err
}
