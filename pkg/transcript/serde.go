package transcript

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// NormalizeSession applies serde defaults without changing turn order.
func NormalizeSession(s *dialogue.Session) {
	if s == nil {
		return
	}
	s.Config = s.Config.Normalize()
	if s.Status == "" {
		s.Status = dialogue.StatusIdle
	}
	for i := range s.Transcript {
		t := &s.Transcript[i]
		if t.IsModerator() && strings.TrimSpace(t.DisplayName) == "" {
			t.DisplayName = dialogue.ModeratorName
		}
	}
}

// ToYAML marshals a session snapshot.
func ToYAML(s *dialogue.Session) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	snapshot := *s
	NormalizeSession(&snapshot)
	return yaml.Marshal(snapshot)
}

// FromYAML unmarshals a session snapshot and checks that its transcript is well ordered.
func FromYAML(b []byte) (*dialogue.Session, error) {
	var s dialogue.Session
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return checked(&s)
}

// ToJSON marshals a session snapshot.
func ToJSON(s *dialogue.Session) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	snapshot := *s
	NormalizeSession(&snapshot)
	return json.Marshal(snapshot)
}

// FromJSON unmarshals a session snapshot.
func FromJSON(b []byte) (*dialogue.Session, error) {
	var s dialogue.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return checked(&s)
}

func checked(s *dialogue.Session) (*dialogue.Session, error) {
	NormalizeSession(s)
	if _, err := FromTurns(s.Transcript); err != nil {
		return nil, errors.Wrapf(err, "session %s has a malformed transcript", s.ID)
	}
	return s, nil
}

// SaveSessionYAML writes a session snapshot to a YAML file.
func SaveSessionYAML(path string, s *dialogue.Session) error {
	data, err := ToYAML(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSessionYAML reads a session snapshot from a YAML file.
func LoadSessionYAML(path string) (*dialogue.Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(b)
}
