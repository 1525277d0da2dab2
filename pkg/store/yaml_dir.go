package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/transcript"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	fileTimeLayout = "20060102_150405"
	maxTitleLength = 40
)

// YAMLDir keeps one YAML file per session in a directory. Files are named
// <created>__<title>__<id>.yaml so that a plain directory listing sorts them
// chronologically.
type YAMLDir struct {
	mu     sync.RWMutex
	dir    string
	closed bool
}

var _ Store = (*YAMLDir)(nil)

func NewYAMLDir(dir string) (*YAMLDir, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("yaml store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create %s", dir)
	}
	return &YAMLDir{dir: dir}, nil
}

// FileName returns the file name a session is saved under.
func FileName(s *dialogue.Session) string {
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return created.UTC().Format(fileTimeLayout) + "__" + safeTitle(s.Config.Normalize().Topic) + "__" + s.ID + ".yaml"
}

func safeTitle(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, title)
	ret := strcase.ToSnake(strings.Join(strings.Fields(cleaned), " "))
	if r := []rune(ret); len(r) > maxTitleLength {
		ret = string(r[:maxTitleLength])
	}
	ret = strings.Trim(ret, "_")
	if ret == "" {
		return "dialogue"
	}
	return ret
}

func (y *YAMLDir) Save(_ context.Context, s *dialogue.Session) error {
	if err := checkSession(s); err != nil {
		return err
	}
	data, err := transcript.ToYAML(s)
	if err != nil {
		return err
	}

	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return ErrClosed
	}

	target := filepath.Join(y.dir, FileName(s))
	tmp, err := os.CreateTemp(y.dir, ".save-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	// an earlier save of the same session may carry another title or timestamp
	existing, err := y.pathsLocked(s.ID)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p != target {
			_ = os.Remove(p)
		}
	}
	log.Debug().Str("session_id", s.ID).Str("path", target).Msg("saved session")
	return nil
}

func (y *YAMLDir) Load(_ context.Context, id string) (*dialogue.Session, error) {
	y.mu.RLock()
	defer y.mu.RUnlock()
	if y.closed {
		return nil, ErrClosed
	}
	paths, err := y.pathsLocked(id)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return transcript.LoadSessionYAML(paths[len(paths)-1])
}

// List reads every file of the directory. Files that do not parse are skipped.
func (y *YAMLDir) List(_ context.Context, q Query) ([]Summary, error) {
	y.mu.RLock()
	if y.closed {
		y.mu.RUnlock()
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(y.dir)
	if err != nil {
		y.mu.RUnlock()
		return nil, err
	}
	var summaries []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(y.dir, e.Name())
		s, err := transcript.LoadSessionYAML(p)
		if err != nil || s.ID == "" {
			log.Warn().Err(err).Str("path", p).Msg("skipping unreadable session file")
			continue
		}
		summaries = append(summaries, Summarize(s))
	}
	y.mu.RUnlock()
	return q.Apply(summaries)
}

func (y *YAMLDir) Delete(_ context.Context, id string) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return ErrClosed
	}
	paths, err := y.pathsLocked(id)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	return nil
}

func (y *YAMLDir) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.closed = true
	return nil
}

// pathsLocked returns the files holding id, oldest name first.
func (y *YAMLDir) pathsLocked(id string) ([]string, error) {
	if strings.ContainsAny(id, `/\*?[`) || id == "" {
		return nil, errors.Wrapf(ErrNotFound, "invalid session id %q", id)
	}
	return filepath.Glob(filepath.Join(y.dir, "*__"+id+".yaml"))
}
