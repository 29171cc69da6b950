package fixture

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/mockroute/internal/router"
)

//go:embed defaults.yaml
var defaultFixtures []byte

// Set is an ordered collection of fixtures. Order is precedence: the first
// fixture whose pattern matches a request answers it.
type Set struct {
	Fixtures []Fixture `yaml:"fixtures"`
	// Source names where the set was loaded from, for diagnostics.
	Source string `yaml:"-"`
}

// Default returns the embedded fixture set for the login, feed and explore flows.
func Default() (*Set, error) {
	s, err := Parse(defaultFixtures, "")
	if err != nil {
		return nil, fmt.Errorf("embedded fixtures: %w", err)
	}
	s.Source = "embedded"
	return s, nil
}

// Load reads a fixture file. body_file paths resolve relative to the file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	s, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

// Parse decodes and validates a fixture document.
func Parse(data []byte, baseDir string) (*Set, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Set
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	seen := make(map[string]bool, len(s.Fixtures))
	for i := range s.Fixtures {
		f := &s.Fixtures[i]
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("fixture #%d: %w", i+1, err)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("fixture #%d: duplicate name %q", i+1, f.Name)
		}
		seen[f.Name] = true

		if f.BodyFile != "" {
			p := f.BodyFile
			if !filepath.IsAbs(p) && baseDir != "" {
				p = filepath.Join(baseDir, p)
			}
			body, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("fixture %q: read body_file: %w", f.Name, err)
			}
			f.fileBody = body
		}
	}
	return &s, nil
}

// Names lists fixture names in precedence order.
func (s *Set) Names() []string {
	names := make([]string, len(s.Fixtures))
	for i, f := range s.Fixtures {
		names[i] = f.Name
	}
	return names
}

// Get returns the named fixture.
func (s *Set) Get(name string) (*Fixture, bool) {
	for i := range s.Fixtures {
		if s.Fixtures[i].Name == name {
			return &s.Fixtures[i], true
		}
	}
	return nil, false
}

// Without returns a copy of the set minus the named fixtures. Unknown names are
// an error so a typo cannot silently keep a fixture installed.
func (s *Set) Without(names ...string) (*Set, error) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := s.Get(n); !ok {
			return nil, fmt.Errorf("unknown fixture %q", n)
		}
		drop[n] = true
	}
	out := &Set{Source: s.Source}
	for _, f := range s.Fixtures {
		if !drop[f.Name] {
			out.Fixtures = append(out.Fixtures, f)
		}
	}
	return out, nil
}

// Install registers every fixture on r in set order.
func (s *Set) Install(r *router.Router) error {
	for i := range s.Fixtures {
		rule, err := s.Fixtures[i].Rule()
		if err != nil {
			return err
		}
		if err := r.Handle(rule); err != nil {
			return fmt.Errorf("install fixture %q: %w", s.Fixtures[i].Name, err)
		}
	}
	return nil
}
