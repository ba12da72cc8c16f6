package worker

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/pilothq/recall/internal/config"
	"github.com/pilothq/recall/internal/memctx"
	"github.com/pilothq/recall/pkg/models"
)

// maxFactLength bounds a single extracted fact.
const maxFactLength = 500

// Enricher turns raw queued tool events into structured observations
// and summarize requests into session summaries. It is deterministic:
// type, title, and facts derive from the tool name and payload shape.
type Enricher struct {
	cfg *config.Config
}

// NewEnricher creates an enricher.
func NewEnricher(cfg *config.Config) *Enricher {
	return &Enricher{cfg: cfg}
}

// toolInput is the common subset of editor tool inputs.
type toolInput struct {
	FilePath    string `json:"file_path"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Pattern     string `json:"pattern"`
	Query       string `json:"query"`
	URL         string `json:"url"`
}

// EnrichObservation builds an observation from a queued tool event.
// Returns nil for tools that carry no memorable signal.
func (e *Enricher) EnrichObservation(sess *models.SdkSession, payload *models.ObservationPayload) *models.Observation {
	var input toolInput
	if len(payload.ToolInput) > 0 {
		_ = json.Unmarshal(payload.ToolInput, &input)
	}

	obsType, concepts := classifyTool(payload.ToolName, input)
	if obsType == "" {
		return nil
	}

	parsed := &models.ParsedObservation{
		Type:     obsType,
		Title:    buildTitle(payload.ToolName, input),
		Subtitle: input.Description,
		Concepts: concepts,
	}

	switch obsType {
	case models.ObsTypeDiscovery:
		parsed.FilesRead = collectPaths(input)
	default:
		parsed.FilesModified = collectPaths(input)
	}

	if fact := extractFact(payload.ToolResponse); fact != "" {
		parsed.Facts = []string{fact}
	}

	discoveryTokens := int64(memctx.CountTokens(string(payload.ToolResponse)))

	return models.NewObservation(sess.MemorySessionID, sess.Project, parsed,
		payload.PromptNumber, discoveryTokens)
}

// EnrichSummary builds a session summary from a summarize request.
func (e *Enricher) EnrichSummary(sess *models.SdkSession, payload *models.SummarizePayload) *models.SessionSummary {
	request := payload.LastUserMessage
	if request == "" && sess.InitialPrompt.Valid {
		request = sess.InitialPrompt.String
	}
	if request == "" {
		request = "(no prompt recorded)"
	}

	summary := &models.SessionSummary{
		MemorySessionID: sess.MemorySessionID,
		Project:         sess.Project,
		Request:         truncate(request, maxFactLength),
	}
	if payload.LastAssistantMessage != "" {
		summary.Completed.String = truncate(payload.LastAssistantMessage, maxFactLength)
		summary.Completed.Valid = true
	}
	if sess.PromptCounter > 0 {
		summary.PromptNumber.Int64 = int64(sess.PromptCounter)
		summary.PromptNumber.Valid = true
	}
	return summary
}

// classifyTool maps a tool name to an observation type and concepts.
// An empty type means "do not record".
func classifyTool(toolName string, input toolInput) (models.ObservationType, []string) {
	switch toolName {
	case "Read", "Grep", "Glob", "WebFetch", "WebSearch", "NotebookRead":
		return models.ObsTypeDiscovery, []string{"how-it-works"}
	case "Edit", "MultiEdit", "Write", "NotebookEdit":
		return models.ObsTypeChange, []string{"what-changed"}
	case "Bash":
		cmd := strings.TrimSpace(input.Command)
		if cmd == "" {
			return "", nil
		}
		if isReadOnlyCommand(cmd) {
			return models.ObsTypeDiscovery, []string{"how-it-works"}
		}
		return models.ObsTypeChange, []string{"what-changed"}
	case "TodoWrite", "Task":
		return "", nil
	default:
		return models.ObsTypeDiscovery, nil
	}
}

var readOnlyPrefixes = []string{
	"ls", "cat", "head", "tail", "grep", "rg", "find", "git log",
	"git status", "git diff", "git show", "wc", "which", "pwd", "ps",
}

func isReadOnlyCommand(cmd string) bool {
	for _, prefix := range readOnlyPrefixes {
		if cmd == prefix || strings.HasPrefix(cmd, prefix+" ") {
			return true
		}
	}
	return false
}

func buildTitle(toolName string, input toolInput) string {
	switch {
	case input.FilePath != "":
		return fmt.Sprintf("%s %s", toolName, filepath.Base(input.FilePath))
	case input.Command != "":
		return fmt.Sprintf("%s: %s", toolName, truncate(firstLine(input.Command), 80))
	case input.Pattern != "":
		return fmt.Sprintf("%s: %s", toolName, truncate(input.Pattern, 80))
	case input.Query != "":
		return fmt.Sprintf("%s: %s", toolName, truncate(input.Query, 80))
	case input.URL != "":
		return fmt.Sprintf("%s: %s", toolName, truncate(input.URL, 80))
	default:
		return toolName
	}
}

func collectPaths(input toolInput) []string {
	if input.FilePath == "" {
		return nil
	}
	return []string{input.FilePath}
}

// extractFact pulls a short text fact out of a tool response, which
// may be a plain string or a structured object.
func extractFact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return truncate(firstLine(plain), maxFactLength)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"stdout", "output", "result", "content"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return truncate(firstLine(v), maxFactLength)
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary so multibyte text stays valid UTF-8.
	cut := max - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
