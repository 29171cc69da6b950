package fixture

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/match"

	"github.com/xkilldash9x/mockroute/internal/router"
)

// Condition narrows a fixture to requests with particular query parameters,
// headers or JSON body fields. Values are wildcard patterns where '*' matches
// any run of characters and '?' a single character. All entries must hold.
type Condition struct {
	Query   map[string]string `yaml:"query,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// JSON maps gjson paths in the request body to value patterns. An empty
	// pattern only requires the path to exist.
	JSON         map[string]string `yaml:"json,omitempty"`
	BodyContains string            `yaml:"body_contains,omitempty"`
}

// Validate rejects conditions that can never be evaluated.
func (c *Condition) Validate() error {
	for _, m := range []map[string]string{c.Query, c.Headers, c.JSON} {
		for k := range m {
			if strings.TrimSpace(k) == "" {
				return errors.New("condition keys must not be empty")
			}
		}
	}
	return nil
}

// Matches reports whether req satisfies every entry of the condition.
func (c Condition) Matches(req router.Request) bool {
	if len(c.Query) > 0 {
		u, err := url.Parse(req.URL)
		if err != nil {
			return false
		}
		q := u.Query()
		for _, key := range sortedKeys(c.Query) {
			if !anyMatch(q[key], c.Query[key]) {
				return false
			}
		}
	}

	for _, name := range sortedKeys(c.Headers) {
		v := req.Header(name)
		if v == "" || !match.Match(v, c.Headers[name]) {
			return false
		}
	}

	if len(c.JSON) > 0 {
		if !gjson.ValidBytes(req.Body) {
			return false
		}
		for _, path := range sortedKeys(c.JSON) {
			res := gjson.GetBytes(req.Body, path)
			if !res.Exists() {
				return false
			}
			if pattern := c.JSON[path]; pattern != "" && !match.Match(res.String(), pattern) {
				return false
			}
		}
	}

	if c.BodyContains != "" && !strings.Contains(string(req.Body), c.BodyContains) {
		return false
	}
	return true
}

func anyMatch(values []string, pattern string) bool {
	for _, v := range values {
		if match.Match(v, pattern) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
