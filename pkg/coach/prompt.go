package coach

import (
	"fmt"
	"strings"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/retrieval"
)

// Mode selects which persona a prompt is built for.
type Mode string

const (
	ModeDiveCoach Mode = "dive-coach"
	ModeGeneral   Mode = "general"
)

const (
	maxDigestDives = 5
	maxHistory     = 10
)

// PromptInput carries everything the system prompt is assembled from.
type PromptInput struct {
	Mode      Mode
	Level     Level
	Profile   *models.Profile
	DiveLogs  []models.DiveLog
	Knowledge []retrieval.Chunk
	EmbedMode bool
}

// BuildPrompt assembles the system prompt for one chat turn.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	switch in.Mode {
	case ModeGeneral:
		b.WriteString("You are a friendly freediving assistant. Answer general freediving questions clearly and accurately.\n")
	default:
		b.WriteString("You are an experienced freediving coach. Give specific, safety-first coaching on technique, training and dive analysis.\n")
	}
	b.WriteString("Always stress safety: never dive alone, respect surface intervals, and stop at the first sign of squeeze or hypoxia.\n")

	switch in.Level {
	case LevelExpert:
		b.WriteString("The diver is experienced. Use precise technical language and focus on fine-tuning performance.\n")
	case LevelIntermediate:
		b.WriteString("The diver has solid fundamentals. Explain technique with moderate detail and suggest progressive goals.\n")
	default:
		b.WriteString("The diver is a beginner. Use simple language, explain terms, and emphasize fundamentals and buddy safety.\n")
	}

	if p := in.Profile; p != nil {
		b.WriteString("\nDiver profile:\n")
		if p.Nickname != "" {
			fmt.Fprintf(&b, "- Name: %s\n", p.Nickname)
		}
		if p.CertificationLevel != "" {
			fmt.Fprintf(&b, "- Certification: %s\n", p.CertificationLevel)
		}
		if p.PersonalBestDepth > 0 {
			fmt.Fprintf(&b, "- Personal best: %.0fm\n", p.PersonalBestDepth)
		}
		if len(p.Disciplines) > 0 {
			fmt.Fprintf(&b, "- Disciplines: %s\n", strings.Join(p.Disciplines, ", "))
		}
		if p.Goals != "" {
			fmt.Fprintf(&b, "- Goals: %s\n", p.Goals)
		}
	}

	if len(in.DiveLogs) > 0 {
		b.WriteString("\nRecent dives:\n")
		b.WriteString(DiveDigest(in.DiveLogs))
	}

	if len(in.Knowledge) > 0 {
		b.WriteString("\nReference material (use when relevant, do not quote sources verbatim):\n")
		for _, c := range in.Knowledge {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(c.Text))
		}
	}

	if in.EmbedMode {
		b.WriteString("\nKeep the answer under 150 words.\n")
	}
	return b.String()
}

// DiveDigest renders at most five dives as one line each.
func DiveDigest(logs []models.DiveLog) string {
	var b strings.Builder
	for i, d := range logs {
		if i == maxDigestDives {
			break
		}
		b.WriteString("- ")
		if d.Date != "" {
			b.WriteString(d.Date + " ")
		}
		b.WriteString(strings.ToUpper(d.Discipline))
		if d.Location != "" {
			b.WriteString(" at " + d.Location)
		}
		if d.TargetDepth > 0 {
			fmt.Fprintf(&b, ", target %.0fm", d.TargetDepth)
		}
		if d.ReachedDepth > 0 {
			fmt.Fprintf(&b, ", reached %.0fm", d.ReachedDepth)
		}
		if d.TotalDiveTime != "" {
			b.WriteString(", time " + d.TotalDiveTime)
		}
		if d.Squeeze {
			b.WriteString(", squeeze reported")
		}
		if d.Exit != "" {
			b.WriteString(", exit " + d.Exit)
		}
		if d.Notes != "" {
			b.WriteString(", notes: " + d.Notes)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// BuildMessages prepends the system prompt to the recent history and the new user message.
func BuildMessages(system string, history []models.ChatMessage, message string) []models.ChatMessage {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	msgs := make([]models.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, models.ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, models.ChatMessage{Role: "user", Content: message})
}
