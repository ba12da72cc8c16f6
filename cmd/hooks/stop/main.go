// Package main provides the stop hook entry point: it requests the
// end-of-session summary.
package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pilothq/recall/pkg/hooks"
)

// Input is the hook input from the editor.
type Input struct {
	hooks.BaseInput
	StopHookActive bool `json:"stop_hook_active"`
}

// transcriptLine is one entry of the conversation JSONL file.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
}

func main() {
	hooks.RunHook("Stop", handleStop)
}

func handleStop(ctx *hooks.HookContext, input *Input) (string, error) {
	// A stop fired by our own summarize round-trip must not recurse.
	if input.StopHookActive {
		return "", nil
	}

	lastUser, lastAssistant := parseTranscript(ctx.TranscriptPath)

	_, err := hooks.POST(ctx.Port, "/api/sessions/summarize", map[string]interface{}{
		"contentSessionId":       ctx.SessionID,
		"project":                ctx.Project,
		"last_user_message":      lastUser,
		"last_assistant_message": lastAssistant,
	})
	return "", err
}

// parseTranscript extracts the last user and assistant messages from
// the conversation JSONL file. Missing or malformed files yield empty
// strings; the worker falls back to the session's initial prompt.
func parseTranscript(path string) (lastUser, lastAssistant string) {
	if path == "" {
		return "", ""
	}
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		text := extractText(line.Message.Content)
		if text == "" {
			continue
		}
		switch line.Type {
		case "user":
			lastUser = text
		case "assistant":
			lastAssistant = text
		}
	}
	return lastUser, lastAssistant
}

// extractText handles both string content and content-block arrays.
func extractText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var texts []string
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok || block["type"] != "text" {
				continue
			}
			if text, ok := block["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
