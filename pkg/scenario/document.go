package scenario

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// LoadDocument reads background material. HTML files are reduced to the
// visible text of their body; other files are read as is.
func LoadDocument(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not read document %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return HTMLText(b)
	default:
		return strings.TrimSpace(string(b)), nil
	}
}

// HTMLText extracts the readable text of an HTML page, one block per line.
func HTMLText(b []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "could not parse html")
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	var lines []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		// nested blocks are collected through their innermost element
		if s.Find("p, li, blockquote, pre").Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
		return text, nil
	}
	return strings.Join(lines, "\n"), nil
}
