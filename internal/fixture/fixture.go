// Package fixture loads canned API responses from YAML and turns them into
// router rules.
package fixture

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/sjson"

	"github.com/xkilldash9x/mockroute/internal/router"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fixture is one canned response bound to a URL pattern.
type Fixture struct {
	Name        string            `yaml:"name"`
	Pattern     string            `yaml:"pattern"`
	Method      string            `yaml:"method,omitempty"`
	When        *Condition        `yaml:"when,omitempty"`
	Status      int               `yaml:"status,omitempty"`
	ContentType string            `yaml:"content_type,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	// Body is any YAML structure; it is served as JSON.
	Body interface{} `yaml:"body,omitempty"`
	// BodyFile is read at load time, relative to the fixture file.
	BodyFile string `yaml:"body_file,omitempty"`
	// RawBody is served verbatim.
	RawBody string `yaml:"raw_body,omitempty"`
	// Set overrides JSON paths of the rendered body.
	Set map[string]interface{} `yaml:"set,omitempty"`
	// Passthrough lets matching requests reach the network.
	Passthrough bool `yaml:"passthrough,omitempty"`

	fileBody []byte
}

// Validate checks a single fixture definition.
func (f *Fixture) Validate() error {
	if f.Name == "" {
		return errors.New("fixture name is required")
	}
	if f.Pattern == "" {
		return fmt.Errorf("fixture %q: pattern is required", f.Name)
	}
	if _, err := router.CompileGlob(f.Pattern); err != nil {
		return fmt.Errorf("fixture %q: %w", f.Name, err)
	}
	if f.Status != 0 && (f.Status < 100 || f.Status > 599) {
		return fmt.Errorf("fixture %q: status %d is not a valid HTTP status", f.Name, f.Status)
	}

	sources := 0
	if f.Body != nil {
		sources++
	}
	if f.BodyFile != "" {
		sources++
	}
	if f.RawBody != "" {
		sources++
	}
	if sources > 1 {
		return fmt.Errorf("fixture %q: only one of body, body_file and raw_body may be set", f.Name)
	}
	if f.Passthrough && (sources > 0 || len(f.Set) > 0) {
		return fmt.Errorf("fixture %q: a passthrough fixture cannot declare a body", f.Name)
	}
	if len(f.Set) > 0 && f.RawBody != "" {
		return fmt.Errorf("fixture %q: set overrides need a JSON body, not raw_body", f.Name)
	}
	if f.When != nil {
		if err := f.When.Validate(); err != nil {
			return fmt.Errorf("fixture %q: %w", f.Name, err)
		}
	}
	return nil
}

// Render produces the response body bytes.
func (f *Fixture) Render() ([]byte, error) {
	var body []byte
	switch {
	case f.RawBody != "":
		return []byte(f.RawBody), nil
	case f.BodyFile != "":
		body = append([]byte(nil), f.fileBody...)
	case f.Body != nil:
		encoded, err := json.Marshal(f.Body)
		if err != nil {
			return nil, fmt.Errorf("fixture %q: encode body: %w", f.Name, err)
		}
		body = encoded
	}

	if len(f.Set) == 0 {
		return body, nil
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	for _, path := range sortedKeys(f.Set) {
		updated, err := sjson.SetBytes(body, path, f.Set[path])
		if err != nil {
			return nil, fmt.Errorf("fixture %q: set %q: %w", f.Name, path, err)
		}
		body = updated
	}
	return body, nil
}

// Response renders the router response for the fixture.
func (f *Fixture) Response() (router.Response, error) {
	body, err := f.Render()
	if err != nil {
		return router.Response{}, err
	}
	status := f.Status
	if status == 0 {
		status = http.StatusOK
	}
	return router.Response{
		Status:      status,
		ContentType: f.ContentType,
		Headers:     f.Headers,
		Body:        body,
	}, nil
}

// Rule converts the fixture into a router rule. The body is rendered once so
// every request gets identical bytes.
func (f *Fixture) Rule() (router.Rule, error) {
	rule := router.Rule{
		Name:    f.Name,
		Pattern: f.Pattern,
		Method:  strings.ToUpper(f.Method),
	}
	if f.When != nil {
		cond := *f.When
		rule.Predicate = cond.Matches
	}
	if f.Passthrough {
		rule.Responder = router.Passthrough()
		return rule, nil
	}

	resp, err := f.Response()
	if err != nil {
		return router.Rule{}, err
	}
	rule.Responder = func(router.Request) (router.Response, error) {
		out := resp
		out.Body = append([]byte(nil), resp.Body...)
		return out, nil
	}
	return rule, nil
}
