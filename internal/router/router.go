// Package router answers intercepted browser requests from an ordered table of
// URL patterns. A Router is built per browser context and handed to whichever
// interception layer is in use; it never touches the network itself.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrPassthrough may be returned by a Responder to let the request continue
	// to the real network.
	ErrPassthrough = errors.New("router: passthrough")
	// ErrSealed is returned when registering on a router that is already installed.
	ErrSealed = errors.New("router: rule table is sealed")
)

// Request describes an intercepted outbound request.
type Request struct {
	Method       string
	URL          string
	Headers      map[string]string
	Body         []byte
	ResourceType string
}

// Header returns a request header, ignoring case.
func (r Request) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Response is a synthesized reply to an intercepted request.
type Response struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// Responder produces the response for a matched request. It must be quick and
// free of side effects other than logging.
type Responder func(Request) (Response, error)

// Rule binds a pattern to a responder. Method and Predicate narrow the match.
type Rule struct {
	Name      string
	Pattern   string
	Method    string
	Predicate func(Request) bool
	Responder Responder
}

// RuleInfo is the read-only view of a registered rule.
type RuleInfo struct {
	Index   int
	Name    string
	Pattern string
	Method  string
}

type compiledRule struct {
	Rule
	glob *Glob
}

// Action tells the interception layer what to do with a request.
type Action int

const (
	// ActionContinue sends the request to the network unchanged.
	ActionContinue Action = iota
	// ActionFulfill answers the request with Decision.Response.
	ActionFulfill
	// ActionAbort fails the request.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionFulfill:
		return "fulfill"
	case ActionAbort:
		return "abort"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the router's verdict for one request.
type Decision struct {
	Action   Action
	Response Response
	Rule     string
	Pattern  string
	// Unmatched is set when no rule answered an in-scope request.
	Unmatched bool
	Err       error
}

// Policy selects what happens to in-scope requests no rule answers.
type Policy string

const (
	PolicyAbort       Policy = "abort"
	PolicyPassthrough Policy = "passthrough"
)

// Router holds the ordered rule table. Resolve is safe for concurrent use.
type Router struct {
	logger *zap.Logger
	policy Policy
	scope  []*Glob

	mu     sync.RWMutex
	rules  []compiledRule
	sealed bool
	stats  statsCollector
}

// Option configures a Router.
type Option func(*Router) error

// WithLogger sets the logger used for match diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithUnmatchedPolicy sets the policy for unmatched in-scope requests.
func WithUnmatchedPolicy(p Policy) Option {
	return func(r *Router) error {
		switch p {
		case PolicyAbort, PolicyPassthrough:
			r.policy = p
			return nil
		default:
			return fmt.Errorf("unknown unmatched policy %q", p)
		}
	}
}

// WithScope limits interception to URLs matching one of the patterns. Requests
// outside the scope always continue and are not counted as unmatched. An empty
// scope covers every request.
func WithScope(patterns ...string) Option {
	return func(r *Router) error {
		for _, p := range patterns {
			g, err := CompileGlob(p)
			if err != nil {
				return fmt.Errorf("invalid scope pattern: %w", err)
			}
			r.scope = append(r.scope, g)
		}
		return nil
	}
}

// New creates an empty Router.
func New(opts ...Option) (*Router, error) {
	r := &Router{
		logger: zap.NewNop(),
		policy: PolicyAbort,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.Named("router")
	return r, nil
}

// Register adds a rule named after its pattern.
func (r *Router) Register(pattern string, responder Responder) error {
	return r.Handle(Rule{Name: pattern, Pattern: pattern, Responder: responder})
}

// Handle adds a fully specified rule. Rules are tried in registration order.
func (r *Router) Handle(rule Rule) error {
	if rule.Responder == nil {
		return fmt.Errorf("rule %q has no responder", rule.Name)
	}
	g, err := CompileGlob(rule.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	if rule.Name == "" {
		rule.Name = rule.Pattern
	}
	rule.Method = strings.ToUpper(rule.Method)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	r.rules = append(r.rules, compiledRule{Rule: rule, glob: g})
	r.stats.track(rule.Name)
	return nil
}

// Seal freezes the rule table. Interception layers call it when installing the router.
func (r *Router) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the rule table is frozen.
func (r *Router) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Rules lists the registered rules in precedence order.
func (r *Router) Rules() []RuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuleInfo, len(r.rules))
	for i, cr := range r.rules {
		out[i] = RuleInfo{Index: i, Name: cr.Name, Pattern: cr.Pattern, Method: cr.Method}
	}
	return out
}

// InScope reports whether url is subject to interception.
func (r *Router) InScope(url string) bool {
	if len(r.scope) == 0 {
		return true
	}
	for _, g := range r.scope {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Match returns the first rule that would answer the request, without invoking
// its responder or recording statistics.
func (r *Router) Match(req Request) (RuleInfo, bool) {
	idx, cr := r.find(req)
	if cr == nil {
		return RuleInfo{}, false
	}
	return RuleInfo{Index: idx, Name: cr.Name, Pattern: cr.Pattern, Method: cr.Method}, true
}

func (r *Router) find(req Request) (int, *compiledRule) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.rules {
		cr := &r.rules[i]
		if cr.Method != "" && cr.Method != method {
			continue
		}
		if !cr.glob.Match(req.URL) {
			continue
		}
		if cr.Predicate != nil && !cr.Predicate(req) {
			continue
		}
		return i, cr
	}
	return -1, nil
}

// Resolve decides the fate of one intercepted request.
func (r *Router) Resolve(req Request) Decision {
	if !r.InScope(req.URL) {
		r.logger.Debug("Request outside intercept scope", zap.String("method", req.Method), zap.String("url", req.URL))
		return Decision{Action: ActionContinue}
	}

	idx, cr := r.find(req)
	if cr == nil {
		return r.unmatched(req)
	}

	resp, err := cr.Responder(req)
	switch {
	case errors.Is(err, ErrPassthrough):
		r.stats.passthrough(idx)
		r.logger.Info("Route passed through",
			zap.String("rule", cr.Name),
			zap.String("method", req.Method),
			zap.String("url", req.URL))
		return Decision{Action: ActionContinue, Rule: cr.Name, Pattern: cr.Pattern}
	case err != nil:
		r.stats.failure(idx)
		r.logger.Error("Route responder failed",
			zap.String("rule", cr.Name),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return Decision{Action: ActionAbort, Rule: cr.Name, Pattern: cr.Pattern, Err: fmt.Errorf("rule %q: %w", cr.Name, err)}
	}

	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	r.stats.hit(idx)
	r.logger.Info("Route matched",
		zap.String("rule", cr.Name),
		zap.String("pattern", cr.Pattern),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.Status))
	return Decision{Action: ActionFulfill, Response: resp, Rule: cr.Name, Pattern: cr.Pattern}
}

func (r *Router) unmatched(req Request) Decision {
	r.stats.miss(req)
	r.logger.Error("Unmatched request: no fixture answers this URL",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("policy", string(r.policy)))

	if r.policy == PolicyPassthrough {
		return Decision{Action: ActionContinue, Unmatched: true}
	}
	return Decision{Action: ActionAbort, Unmatched: true}
}

// Stats returns a snapshot of the match statistics.
func (r *Router) Stats() Stats { return r.stats.snapshot() }

// UnmatchedCount returns how many in-scope requests found no rule so far.
func (r *Router) UnmatchedCount() int { return r.stats.missCount() }
