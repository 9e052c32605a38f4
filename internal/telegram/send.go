package telegram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/registry"
)

const helpText = `Send a message and it is routed to the best crew.
Start with **@crew** to pick one yourself, e.g. "@blog AI agents".
Parameters go one per line as "name: value".

/crews lists the available crews
/runs lists recent runs
/status <id> shows one run`

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

var boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)

// toTelegramMarkdown rewrites common Markdown into Telegram's legacy
// Markdown dialect, which marks bold with single asterisks.
func toTelegramMarkdown(s string) string {
	return boldRe.ReplaceAllString(s, "*$1*")
}

func formatCrews(defs []*registry.Definition) string {
	if len(defs) == 0 {
		return "No crews available."
	}
	var sb strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&sb, "**%s** (%s): %s\n", d.Name, d.Mode, d.Description)
		if params := d.Params(); len(params) > 0 {
			fmt.Fprintf(&sb, "  params: %s\n", strings.Join(params, ", "))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatRuns(runs []coordinator.Run, limit int) string {
	if len(runs) == 0 {
		return "No runs yet."
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	var sb strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&sb, "`%s` %s %s (%d/%d)\n", r.ID, r.Crew, r.Status, r.TasksDone, r.TasksTotal)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatStatus(r coordinator.Run) string {
	s := fmt.Sprintf("Run `%s` of **%s**: %s, stage %d, %d/%d tasks done", r.ID, r.Crew, r.Status, r.Stage, r.TasksDone, r.TasksTotal)
	if r.Error != "" {
		s += "\nError: " + r.Error
	}
	return s
}

func formatResult(r coordinator.Run) string {
	if r.Status == coordinator.StatusFailed {
		if r.FailedTask != "" {
			return fmt.Sprintf("Crew **%s** failed at task %s: %s", r.Crew, r.FailedTask, r.Error)
		}
		return fmt.Sprintf("Crew **%s** failed: %s", r.Crew, r.Error)
	}
	return r.Output
}
