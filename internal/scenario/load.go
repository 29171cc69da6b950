// internal/scenario/load.go
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/mockroute/internal/config"
)

type fileDoc struct {
	Scenarios []scenarioDoc `yaml:"scenarios"`
}

type scenarioDoc struct {
	Name  string    `yaml:"name"`
	Steps []stepDoc `yaml:"steps"`
}

type fillDoc struct {
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
	Secret   bool   `yaml:"secret"`
}

// stepDoc is the YAML form of a step: exactly one action key plus optional
// message, done and timeout.
type stepDoc struct {
	Navigate    string   `yaml:"navigate"`
	Fill        *fillDoc `yaml:"fill"`
	Click       string   `yaml:"click"`
	WaitForURL  string   `yaml:"waitForURL"`
	WaitForText string   `yaml:"waitForText"`
	Screenshot  string   `yaml:"screenshot"`
	Message     string   `yaml:"message"`
	Done        string   `yaml:"done"`
	Timeout     string   `yaml:"timeout"`
}

// Vars returns the variables available to scenario files.
func Vars(target config.TargetConfig) map[string]string {
	return map[string]string{
		"base_url": target.BaseURL,
		"email":    target.Email,
		"password": target.Password,
	}
}

// Load reads scenarios from a YAML file.
func Load(path string, vars map[string]string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenarios, err := Parse(data, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// Parse decodes scenarios and expands ${name} references from vars in every
// string field. $$ stands for a literal dollar sign; a dollar sign not
// followed by a brace is left alone.
func Parse(data []byte, vars map[string]string) ([]Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc fileDoc
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}
	if len(doc.Scenarios) == 0 {
		return nil, errors.New("no scenarios defined")
	}

	ex := &expander{vars: vars}
	seen := make(map[string]bool, len(doc.Scenarios))
	out := make([]Scenario, 0, len(doc.Scenarios))
	for _, sd := range doc.Scenarios {
		if seen[sd.Name] {
			return nil, fmt.Errorf("duplicate scenario name %q", sd.Name)
		}
		seen[sd.Name] = true

		sc := Scenario{Name: ex.expand(sd.Name)}
		for i, d := range sd.Steps {
			step, err := d.toStep(ex)
			if err != nil {
				return nil, fmt.Errorf("scenario %q step %d: %w", sd.Name, i+1, err)
			}
			sc.Steps = append(sc.Steps, step)
		}
		if missing := ex.missingNames(); len(missing) > 0 {
			return nil, fmt.Errorf("undefined scenario variables: %s", strings.Join(missing, ", "))
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}

	return out, nil
}

func (d stepDoc) toStep(ex *expander) (Step, error) {
	var steps []Step
	if d.Navigate != "" {
		steps = append(steps, Navigate(ex.expand(d.Navigate)))
	}
	if d.Fill != nil {
		s := Fill(ex.expand(d.Fill.Selector), ex.expand(d.Fill.Value))
		s.Secret = d.Fill.Secret
		steps = append(steps, s)
	}
	if d.Click != "" {
		steps = append(steps, Click(ex.expand(d.Click)))
	}
	if d.WaitForURL != "" {
		steps = append(steps, WaitForURL(ex.expand(d.WaitForURL)))
	}
	if d.WaitForText != "" {
		steps = append(steps, WaitForText(ex.expand(d.WaitForText)))
	}
	if d.Screenshot != "" {
		steps = append(steps, Screenshot(ex.expand(d.Screenshot)))
	}

	switch len(steps) {
	case 0:
		return Step{}, errors.New("step has no action")
	case 1:
	default:
		return Step{}, errors.New("step must have exactly one action")
	}

	s := steps[0].WithMessage(ex.expand(d.Message)).WithDone(ex.expand(d.Done))
	if d.Timeout != "" {
		t, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return Step{}, fmt.Errorf("invalid timeout %q: %w", d.Timeout, err)
		}
		s = s.WithTimeout(t)
	}
	return s, nil
}

type expander struct {
	vars    map[string]string
	missing map[string]bool
}

// expand replaces ${name} with its value and $$ with a single dollar sign.
// Any other dollar sign, such as the one in "$5", is kept as written.
func (e *expander) expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '$':
			b.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte('$')
				continue
			}
			b.WriteString(e.lookup(s[i+2 : i+2+end]))
			i += end + 2
		default:
			b.WriteByte('$')
		}
	}
	return b.String()
}

func (e *expander) lookup(name string) string {
	if v, ok := e.vars[name]; ok {
		return v
	}
	if e.missing == nil {
		e.missing = make(map[string]bool)
	}
	e.missing[name] = true
	return ""
}

func (e *expander) missingNames() []string {
	names := make([]string, 0, len(e.missing))
	for n := range e.missing {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
