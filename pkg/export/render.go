package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
)

var ErrRenderServiceUnavailable = errors.New("render service unavailable")

// Renderer produces the bytes of a document in doc.Format.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// HTTPRenderer posts documents as JSON to <BaseURL>/render/<format> and
// returns the response body. Any transport error or non-2xx answer is
// reported as ErrRenderServiceUnavailable.
type HTTPRenderer struct {
	BaseURL string
	Client  *http.Client
}

var _ Renderer = (*HTTPRenderer)(nil)

func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *HTTPRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	if h.BaseURL == "" {
		return nil, errors.Wrap(ErrRenderServiceUnavailable, "no render service configured")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/render/%s", h.BaseURL, doc.Format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", doc.SessionID)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrRenderServiceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(ErrRenderServiceUnavailable, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrapf(ErrRenderServiceUnavailable, "%s returned %d: %s",
			url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// HTMLRenderer renders documents locally as a standalone HTML page.
type HTMLRenderer struct {
	md goldmark.Markdown
}

var _ Renderer = (*HTMLRenderer)(nil)

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{md: goldmark.New()}
}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: Georgia, serif; max-width: 48em; margin: 2em auto; line-height: 1.5; }
.turn { margin-bottom: 1.5em; }
.turn h2 { font-size: 1.1em; margin-bottom: 0.3em; }
.moderator h2 { color: #7a4b00; }
.human h2 { color: #005a7a; }
.failed { color: #888; font-style: italic; }
</style>
</head>
<body>
<h1>%s</h1>
<p>%s</p>
`

func (h *HTMLRenderer) Render(_ context.Context, doc Document) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, htmlHead, html.EscapeString(doc.Title), html.EscapeString(doc.Title), html.EscapeString(doc.Author))
	for _, s := range doc.Sections {
		class := "turn " + strings.ToLower(s.Role)
		if s.Failed {
			class += " failed"
		}
		fmt.Fprintf(&b, "<div class=%q>\n<h2>%s</h2>\n", class, html.EscapeString(s.Title))
		if err := h.md.Convert([]byte(s.Body), &b); err != nil {
			return nil, errors.Wrapf(err, "could not render round %d", s.Round)
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.Bytes(), nil
}

// Output is an exported transcript.
type Output struct {
	Format      Format
	ContentType string
	FileName    string
	Data        []byte
	// Fallback is set when a remote format could not be rendered and plain
	// text was produced instead.
	Fallback bool
}

func newOutput(s *dialogue.Session, f Format, data []byte) Output {
	return Output{
		Format:      f,
		ContentType: f.ContentType(),
		FileName:    fmt.Sprintf("dialogue_%s.%s", s.ID, f),
		Data:        data,
	}
}

// Export renders s in format. txt, md and html are produced locally; pdf and
// epub go through remote, which may be nil when no service is configured.
func Export(ctx context.Context, s *dialogue.Session, format Format, remote Renderer) (Output, error) {
	switch format {
	case FormatText:
		return newOutput(s, format, []byte(ToPlainText(s))), nil
	case FormatMarkdown:
		return newOutput(s, format, []byte(ToMarkdown(s))), nil
	case FormatHTML:
		data, err := NewHTMLRenderer().Render(ctx, ToRenderableDocument(s, format))
		if err != nil {
			return Output{}, err
		}
		return newOutput(s, format, data), nil
	case FormatPDF, FormatEPUB:
		if remote == nil {
			return Output{}, errors.Wrap(ErrRenderServiceUnavailable, "no render service configured")
		}
		data, err := remote.Render(ctx, ToRenderableDocument(s, format))
		if err != nil {
			if !errors.Is(err, ErrRenderServiceUnavailable) {
				err = errors.Wrap(ErrRenderServiceUnavailable, err.Error())
			}
			return Output{}, err
		}
		return newOutput(s, format, data), nil
	}
	return Output{}, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
}

// ExportWithFallback is Export, falling back to plain text when the render
// service is unavailable.
func ExportWithFallback(ctx context.Context, s *dialogue.Session, format Format, remote Renderer) (Output, error) {
	out, err := Export(ctx, s, format, remote)
	if err == nil || !errors.Is(err, ErrRenderServiceUnavailable) {
		return out, err
	}
	log.Warn().Err(err).Str("session_id", s.ID).Str("format", string(format)).Msg("falling back to plain text export")
	out = newOutput(s, FormatText, []byte(ToPlainText(s)))
	out.Fallback = true
	return out, nil
}
