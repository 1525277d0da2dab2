// Package store persists session snapshots.
//
// Three backends are provided: an in-memory map for tests and the HTTP
// server, a directory of YAML files that mirrors the saved_dialogues folder
// people browse by hand, and a SQLite database keeping one JSON payload per
// session row.
package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/settings"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("session not found in store")
	ErrClosed   = errors.New("store is closed")
)

type Store interface {
	// Save inserts or replaces the snapshot with the same ID.
	Save(ctx context.Context, s *dialogue.Session) error
	Load(ctx context.Context, id string) (*dialogue.Session, error)
	// List returns the summaries matching q, most recently updated first.
	List(ctx context.Context, q Query) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Query filters List results. Match is a glob pattern tested against the
// title and the id.
type Query struct {
	Match  string
	Status dialogue.Status
	Limit  int
}

// Summary is the listing entry of a stored session.
type Summary struct {
	ID        string          `json:"id" yaml:"id"`
	Title     string          `json:"title" yaml:"title"`
	Mode      dialogue.Mode   `json:"mode" yaml:"mode"`
	Kind      dialogue.Kind   `json:"kind" yaml:"kind"`
	Status    dialogue.Status `json:"status" yaml:"status"`
	Turns     int             `json:"turns" yaml:"turns"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"updated_at"`
}

func Summarize(s *dialogue.Session) Summary {
	cfg := s.Config.Normalize()
	return Summary{
		ID:        s.ID,
		Title:     cfg.Topic,
		Mode:      cfg.Mode,
		Kind:      cfg.Kind,
		Status:    s.Status,
		Turns:     len(s.Transcript),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Apply filters, orders and limits summaries.
func (q Query) Apply(summaries []Summary) ([]Summary, error) {
	ret := make([]Summary, 0, len(summaries))
	for _, s := range summaries {
		if q.Status != "" && s.Status != q.Status {
			continue
		}
		if q.Match != "" {
			ok, err := q.matches(s)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		ret = append(ret, s)
	}

	sort.SliceStable(ret, func(i, j int) bool {
		a, b := ret[i], ret[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if q.Limit > 0 && len(ret) > q.Limit {
		ret = ret[:q.Limit]
	}
	return ret, nil
}

func (q Query) matches(s Summary) (bool, error) {
	pattern := strings.ToLower(q.Match)
	for _, candidate := range []string{strings.ToLower(s.Title), strings.ToLower(s.ID)} {
		ok, err := glob.Match(pattern, candidate)
		if err != nil {
			return false, errors.Wrapf(err, "invalid match pattern %q", q.Match)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Open returns the store configured in s.
func Open(s settings.StoreSettings) (Store, error) {
	switch s.Kind {
	case settings.StoreMemory, "":
		return NewMemory(), nil
	case settings.StoreYAML:
		return NewYAMLDir(s.Path)
	case settings.StoreSQLite:
		dsn, err := SQLiteDSNForFile(s.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLite(dsn)
	default:
		return nil, errors.Errorf("unknown store kind %q", s.Kind)
	}
}

func checkSession(s *dialogue.Session) error {
	if s == nil {
		return errors.New("session is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("session has no id")
	}
	return nil
}
