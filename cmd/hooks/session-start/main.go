// Package main provides the session-start hook entry point.
package main

import (
	"fmt"
	"os"

	"github.com/pilothq/recall/pkg/hooks"
)

// Input is the hook input from the editor.
type Input struct {
	hooks.BaseInput
	Source string `json:"source"` // "startup", "resume", "clear", "compact"
}

func main() {
	hooks.RunHook("SessionStart", handleSessionStart)
}

func handleSessionStart(ctx *hooks.HookContext, input *Input) (string, error) {
	if _, err := hooks.POST(ctx.Port, "/api/sessions/init", map[string]interface{}{
		"contentSessionId": ctx.SessionID,
		"project":          ctx.Project,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "[recall] session init failed: %v\n", err)
	}

	if os.Getenv("NO_CONTEXT") != "" {
		return "", nil
	}

	endpoint := hooks.BuildContextInjectURL([]string{ctx.Project}, ctx.SessionID, ctx.CWD, false)
	doc, err := hooks.GETText(ctx.Port, endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[recall] context fetch failed: %v\n", err)
		return "", nil
	}
	return doc, nil
}
