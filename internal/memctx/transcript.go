package memctx

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

var systemReminderRe = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// TranscriptPath derives the editor transcript location for a session:
// ~/.claude/projects/<cwd-dashed>/<memorySessionId>.jsonl, where
// cwd-dashed is the working directory with every "/" replaced by "-".
func TranscriptPath(homeDir, cwd, memorySessionID string) string {
	dashed := strings.ReplaceAll(cwd, "/", "-")
	return filepath.Join(homeDir, ".claude", "projects", dashed, memorySessionID+".jsonl")
}

type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LastAssistantMessage scans a JSONL transcript and returns the text of
// the final assistant message, with system-reminder blocks stripped.
// Malformed lines are skipped; a missing file returns "".
func LastAssistantMessage(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line transcriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		if line.Type != "assistant" && line.Message.Role != "assistant" {
			continue
		}
		text := extractText(line.Message.Content)
		if text != "" {
			last = text
		}
	}
	return stripSystemReminders(last)
}

// extractText handles both string content and block-array content.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func stripSystemReminders(text string) string {
	return strings.TrimSpace(systemReminderRe.ReplaceAllString(text, ""))
}
