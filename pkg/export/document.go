package export

import (
	"strings"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
)

type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatEPUB     Format = "epub"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat accepts the format names and a few common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "txt", "text", "":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	case "epub":
		return FormatEPUB, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", s)
}

// Remote reports whether the format is produced by the rendering service.
func (f Format) Remote() bool {
	return f == FormatPDF || f == FormatEPUB
}

func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	case FormatEPUB:
		return "application/epub+zip"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Document is the renderer-neutral form of a transcript.
type Document struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Format    Format    `json:"format"`
	Language  string    `json:"language,omitempty"`
	Sections  []Section `json:"sections"`
}

// Section is one turn of the transcript.
type Section struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Role   string `json:"role"`
	Round  int    `json:"round"`
	Body   string `json:"body"`
	Failed bool   `json:"failed,omitempty"`
}

// ToRenderableDocument builds the document handed to a Renderer.
func ToRenderableDocument(s *dialogue.Session, format Format) Document {
	cfg := s.Config.Normalize()
	doc := Document{
		SessionID: s.ID,
		Title:     title(cfg),
		Author:    authors(s),
		Format:    format,
		Sections:  make([]Section, 0, len(s.Transcript)),
	}
	for _, t := range s.Transcript {
		doc.Sections = append(doc.Sections, Section{
			Title:  Speaker(t),
			Author: t.DisplayName,
			Role:   Role(s, t),
			Round:  t.RoundIndex,
			Body:   strings.TrimSpace(t.Content),
			Failed: t.Failed,
		})
	}
	return doc
}

func authors(s *dialogue.Session) string {
	names := []string{}
	for _, p := range s.Participants {
		names = append(names, p.DisplayName())
	}
	if len(names) == 0 {
		return "symposium"
	}
	return strings.Join(names, ", ")
}
