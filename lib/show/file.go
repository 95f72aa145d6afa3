package show

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

func Decode(r io.Reader) (*Show, error) {
	var s Show
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode show: %w", err)
	}
	return &s, nil
}

func Encode(w io.Writer, s *Show) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func LoadFile(path string) (*Show, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func (s *Show) Clone() (*Show, error) {
	buf, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out Show
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Import reads an exported show and gives it a fresh identity so it can sit
// next to the show it was exported from.
func Import(r io.Reader) (*Show, error) {
	s, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		return nil, fmt.Errorf("import: show has no name")
	}
	now := time.Now().UTC()
	s.ID = NewID()
	s.Name += " (imported)"
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return s, nil
}
