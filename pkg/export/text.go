// Package export turns a session snapshot into something people read: plain
// text and markdown locally, HTML through goldmark, and PDF or EPUB through a
// remote rendering service fed with a normalized Document.
//
// Every function here is a pure function of the snapshot, so exports of a
// failed or cancelled session work like any other.
package export

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/symposium/pkg/dialogue"
)

const (
	headerRule  = "============================================================"
	sectionRule = "----------------------------------------"
)

// Role labels the author of a turn in exports.
func Role(s *dialogue.Session, t dialogue.Turn) string {
	if t.IsModerator() {
		return "MODERATOR"
	}
	if p, ok := s.Participant(t.ParticipantID); ok && p.IsHuman() {
		return "HUMAN"
	}
	return "AI"
}

// Speaker returns "displayName (persona)", or the display name alone.
func Speaker(t dialogue.Turn) string {
	name := t.DisplayName
	if name == "" {
		name = fmt.Sprintf("Participant %d", t.ParticipantID)
	}
	if t.Persona != "" {
		return name + " (" + t.Persona + ")"
	}
	return name
}

// ToPlainText renders the transcript in order, one block per turn.
func ToPlainText(s *dialogue.Session) string {
	cfg := s.Config.Normalize()
	var b strings.Builder

	b.WriteString(headerRule + "\n")
	b.WriteString("SYMPOSIUM - Dialogue Export\n")
	fmt.Fprintf(&b, "Session: %s\n", s.ID)
	fmt.Fprintf(&b, "Topic: %s\n", cfg.Topic)
	fmt.Fprintf(&b, "Mode: %s, %s\n", cfg.Mode, cfg.Kind)
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Turns: %d\n", len(s.Transcript))
	b.WriteString(headerRule + "\n\n")

	for _, t := range s.Transcript {
		fmt.Fprintf(&b, "[%s - %s]\n", Role(s, t), Speaker(t))
		b.WriteString(strings.TrimRight(t.Content, "\n"))
		b.WriteString("\n")
		b.WriteString(sectionRule + "\n\n")
	}
	return b.String()
}

// ToMarkdown renders the transcript as a markdown document with one section
// per turn.
func ToMarkdown(s *dialogue.Session) string {
	cfg := s.Config.Normalize()
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", title(cfg))
	fmt.Fprintf(&b, "- **Mode:** %s\n- **Kind:** %s\n- **Status:** %s\n- **Turns:** %d\n\n",
		cfg.Mode, cfg.Kind, s.Status, len(s.Transcript))

	for _, t := range s.Transcript {
		fmt.Fprintf(&b, "## %s\n\n", Speaker(t))
		if t.Failed {
			b.WriteString("_")
			b.WriteString(strings.TrimSpace(t.Content))
			b.WriteString("_\n\n")
			continue
		}
		b.WriteString(strings.TrimSpace(t.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

func title(cfg dialogue.Config) string {
	kind := "Debate"
	if cfg.Kind == dialogue.KindDiscussion {
		kind = "Discussion"
	}
	return kind + ": " + cfg.Topic
}
