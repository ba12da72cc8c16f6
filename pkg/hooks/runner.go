package hooks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// BaseInput is the common envelope every hook receives on stdin.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
}

// Base satisfies the hookInput constraint.
func (b *BaseInput) Base() *BaseInput { return b }

type hookInput interface {
	Base() *BaseInput
}

// HookContext carries the resolved environment for one hook run.
type HookContext struct {
	SessionID      string
	Project        string
	CWD            string
	TranscriptPath string
	Port           int
}

// Output is the hook response contract: additionalContext is injected
// into the conversation; a false Continue blocks the action.
type Output struct {
	Continue       bool   `json:"continue"`
	SuppressOutput bool   `json:"suppressOutput,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`
	HookSpecific   *Spec  `json:"hookSpecificOutput,omitempty"`
}

// Spec is the event-specific output section.
type Spec struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// RunHook is the shared hook entry point: decode stdin, ensure the
// worker is up, run the handler, and emit the response JSON. Handler
// errors never block the editor; they are logged to stderr and the
// hook continues.
func RunHook[T hookInput](eventName string, handler func(ctx *HookContext, input T) (string, error)) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		emitContinue(eventName, "")
		return
	}

	var input T
	if err := json.Unmarshal(data, &input); err != nil {
		fmt.Fprintf(os.Stderr, "[recall] %s: malformed hook input: %v\n", eventName, err)
		emitContinue(eventName, "")
		return
	}
	base := input.Base()

	port, err := EnsureWorkerRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[recall] %s: %v\n", eventName, err)
		emitContinue(eventName, "")
		return
	}

	ctx := &HookContext{
		SessionID:      base.SessionID,
		Project:        filepath.Base(base.CWD),
		CWD:            base.CWD,
		TranscriptPath: base.TranscriptPath,
		Port:           port,
	}

	context, err := handler(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[recall] %s: %v\n", eventName, err)
	}
	emitContinue(eventName, context)
}

func emitContinue(eventName, additionalContext string) {
	out := Output{Continue: true, SuppressOutput: true}
	if additionalContext != "" {
		out.HookSpecific = &Spec{
			HookEventName:     eventName,
			AdditionalContext: additionalContext,
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		fmt.Println(`{"continue":true}`)
		return
	}
	fmt.Println(string(data))
}
