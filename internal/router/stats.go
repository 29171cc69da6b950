package router

import "sync"

// RuleStats counts what happened to requests a rule matched. Index is the
// rule's position in the table, so rules sharing a name stay apart.
type RuleStats struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Hits        int    `json:"hits"`
	Passthrough int    `json:"passthrough,omitempty"`
	Failures    int    `json:"failures,omitempty"`
}

// UnmatchedRequest records an in-scope request no rule answered.
type UnmatchedRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Stats is a point-in-time copy of the router's counters. Rules keep
// registration order.
type Stats struct {
	Rules     []RuleStats        `json:"rules"`
	Unmatched []UnmatchedRequest `json:"unmatched"`
}

// Hits returns the hit count for a rule name, summed over every rule that
// carries it.
func (s Stats) Hits(name string) int {
	n := 0
	for _, rs := range s.Rules {
		if rs.Name == name {
			n += rs.Hits
		}
	}
	return n
}

// Unused lists rules that never fulfilled a request.
func (s Stats) Unused() []string {
	var out []string
	for _, rs := range s.Rules {
		if rs.Hits == 0 && rs.Passthrough == 0 {
			out = append(out, rs.Name)
		}
	}
	return out
}

// statsCollector holds one entry per rule, indexed like the rule table.
type statsCollector struct {
	mu        sync.Mutex
	rules     []RuleStats
	unmatched []UnmatchedRequest
}

// track appends the entry for the rule just added at index len(rules).
func (c *statsCollector) track(name string) {
	c.mu.Lock()
	c.rules = append(c.rules, RuleStats{Index: len(c.rules), Name: name})
	c.mu.Unlock()
}

func (c *statsCollector) hit(index int) {
	c.mu.Lock()
	c.rules[index].Hits++
	c.mu.Unlock()
}

func (c *statsCollector) passthrough(index int) {
	c.mu.Lock()
	c.rules[index].Passthrough++
	c.mu.Unlock()
}

func (c *statsCollector) failure(index int) {
	c.mu.Lock()
	c.rules[index].Failures++
	c.mu.Unlock()
}

func (c *statsCollector) miss(req Request) {
	c.mu.Lock()
	c.unmatched = append(c.unmatched, UnmatchedRequest{Method: req.Method, URL: req.URL})
	c.mu.Unlock()
}

func (c *statsCollector) missCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unmatched)
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Rules:     append(make([]RuleStats, 0, len(c.rules)), c.rules...),
		Unmatched: append([]UnmatchedRequest(nil), c.unmatched...),
	}
}
