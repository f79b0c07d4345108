package negotiation

import (
	"strings"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
)

// History is the append-only transcript of one run.
type History struct {
	turns []contractx.ConversationTurn
}

func (h *History) Append(role contractx.Role, text string) contractx.ConversationTurn {
	turn := contractx.ConversationTurn{Role: role, Text: text, Seq: len(h.turns)}
	h.turns = append(h.turns, turn)
	return turn
}

func (h *History) Len() int { return len(h.turns) }

// Turns returns a copy of the transcript.
func (h *History) Turns() []contractx.ConversationTurn {
	return append([]contractx.ConversationTurn(nil), h.turns...)
}

// Latest returns the text of the most recent turn by role.
func (h *History) Latest(role contractx.Role) string {
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == role {
			return h.turns[i].Text
		}
	}
	return ""
}

// Transcript renders every turn, labelling speakers from the reader's side.
func (h *History) Transcript(reader contractx.Role) string {
	var b strings.Builder
	for i, turn := range h.turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(speakerLabel(reader, turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String()
}

func speakerLabel(reader, speaker contractx.Role) string {
	if reader == contractx.RoleBuyer {
		if speaker == contractx.RoleBuyer {
			return "You (Buyer)"
		}
		return "Platform Agent"
	}
	if speaker == contractx.RoleBuyer {
		return "Customer"
	}
	return "Platform"
}
