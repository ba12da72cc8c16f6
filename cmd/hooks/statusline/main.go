// Package main provides the statusline hook: a one-line worker status
// for the editor's status bar.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/goccy/go-json"

	"github.com/pilothq/recall/pkg/hooks"
)

// StatusInput is the statusline JSON input from the editor.
type StatusInput struct {
	SessionID string `json:"session_id"`
	CWD       string `json:"cwd"`
}

func main() {
	// Statusline runs constantly; never spawn the worker from here.
	data, err := io.ReadAll(os.Stdin)
	if err == nil {
		var input StatusInput
		_ = json.Unmarshal(data, &input)
	}

	fmt.Println(statusLine(hooks.WorkerPort()))
}

func statusLine(port int) string {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)
	green.EnableColor()
	yellow.EnableColor()
	gray.EnableColor()

	health, err := hooks.GET(port, "/api/health")
	if err != nil {
		return gray.Sprint("recall offline")
	}

	ready, _ := health["ready"].(bool)
	if !ready {
		return yellow.Sprint("recall starting")
	}

	depth := 0
	if d, ok := health["queue_depth"].(float64); ok {
		depth = int(d)
	}
	if processing, _ := health["processing"].(bool); processing || depth > 0 {
		return yellow.Sprintf("recall %d queued", depth)
	}
	return green.Sprint("recall ready")
}
