package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

// JobPosting is an open position offered during job selection.
type JobPosting struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Snapshot is the read-only set of postings loaded at startup.
type Snapshot struct {
	postings []JobPosting
	byID     map[string]int
}

// NewSnapshot builds a snapshot, rejecting blank or duplicate ids.
func NewSnapshot(postings []JobPosting) (*Snapshot, error) {
	s := &Snapshot{
		postings: make([]JobPosting, 0, len(postings)),
		byID:     make(map[string]int, len(postings)),
	}
	for i, p := range postings {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: posting %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate posting id %q", ErrInvalidCatalog, p.ID)
		}
		s.byID[p.ID] = len(s.postings)
		s.postings = append(s.postings, p)
	}
	return s, nil
}

// All returns the postings in catalog order.
func (s *Snapshot) All() []JobPosting {
	if s == nil {
		return nil
	}
	out := make([]JobPosting, len(s.postings))
	copy(out, s.postings)
	return out
}

// Find looks a posting up by its exact id.
func (s *Snapshot) Find(id string) (JobPosting, bool) {
	if s == nil {
		return JobPosting{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return JobPosting{}, false
	}
	return s.postings[i], true
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.postings)
}

// Load reads a catalog file. Files ending in .yaml or .yml are parsed as
// YAML; anything else as JSON, which may carry comments.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// postingID accepts both numeric and string ids and keeps the textual form
// the file used, so 1 and "1" both become "1".
type postingID string

func (id *postingID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = postingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("posting id must be a string or number: %w", err)
	}
	*id = postingID(n.String())
	return nil
}

func (id *postingID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("posting id must be a scalar at line %d", node.Line)
	}
	*id = postingID(node.Value)
	return nil
}

// filePosting covers both the admin tool's Portuguese keys and English keys.
type filePosting struct {
	ID          postingID `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Titulo      string    `json:"titulo" yaml:"titulo"`
	Description string    `json:"description" yaml:"description"`
	Descricao   string    `json:"descricao" yaml:"descricao"`
}

type fileCatalog struct {
	Postings []filePosting `json:"postings" yaml:"postings"`
	Vagas    []filePosting `json:"vagas" yaml:"vagas"`
}

func ParseJSON(data []byte) (*Snapshot, error) {
	var fc fileCatalog
	if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return fc.snapshot()
}

func ParseYAML(data []byte) (*Snapshot, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return fc.snapshot()
}

func (fc fileCatalog) snapshot() (*Snapshot, error) {
	entries := append(append([]filePosting(nil), fc.Vagas...), fc.Postings...)
	postings := make([]JobPosting, 0, len(entries))
	for _, e := range entries {
		postings = append(postings, JobPosting{
			ID:          string(e.ID),
			Title:       firstNonEmpty(e.Title, e.Titulo),
			Description: firstNonEmpty(e.Description, e.Descricao),
		})
	}
	return NewSnapshot(postings)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
