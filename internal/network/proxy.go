// internal/network/proxy.go
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/router"
)

// maxBodyBytes caps how much of a request body is buffered for fixture predicates.
const maxBodyBytes = 4 << 20

const shutdownGracePeriod = 15 * time.Second

// HeaderUnmatched marks proxy responses for requests the router refused.
const HeaderUnmatched = "X-Mockroute-Unmatched"

// FixtureProxy is a forward HTTP proxy that answers requests from a router.
// Plain HTTP requests are resolved against the rule table. HTTPS CONNECT
// requests are tunneled untouched, since fixtures are served without a CA.
type FixtureProxy struct {
	proxy  *goproxy.ProxyHttpServer
	router *router.Router
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewFixtureProxy builds a proxy around rt. The router is sealed, since the
// proxy may be serving concurrently from this point on.
func NewFixtureProxy(rt *router.Router, upstream *UpstreamConfig, logger *zap.Logger) (*FixtureProxy, error) {
	if rt == nil {
		return nil, errors.New("fixture proxy requires a router")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("fixture_proxy")

	if upstream == nil {
		upstream = NewDefaultUpstreamConfig()
	}
	cfgCopy := *upstream
	if cfgCopy.Logger == nil {
		cfgCopy.Logger = log
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = NewUpstreamTransport(&cfgCopy)

	rt.Seal()
	fp := &FixtureProxy{proxy: proxy, router: rt, logger: log}
	fp.setupHandlers()
	return fp, nil
}

func (fp *FixtureProxy) setupHandlers() {
	fp.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		fp.logger.Debug("Tunneling HTTPS connection without interception", zap.String("host", host))
		return goproxy.OkConnect, host
	}))
	fp.proxy.OnRequest().DoFunc(fp.handleRequest)
	fp.proxy.OnResponse().DoFunc(fp.handleResponse)
}

// ServeHTTP lets the proxy be mounted on any http.Server.
func (fp *FixtureProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fp.proxy.ServeHTTP(w, r)
}

func (fp *FixtureProxy) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	req, err := routerRequest(r)
	if err != nil {
		fp.logger.Error("Failed to read proxied request body", zap.String("url", getRequestURL(ctx)), zap.Error(err))
		return r, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusBadGateway, "Proxy error: could not read request body")
	}

	decision := fp.router.Resolve(req)
	switch decision.Action {
	case router.ActionFulfill:
		return r, fulfilledResponse(r, decision.Response)
	case router.ActionAbort:
		resp := goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusBadGateway, abortMessage(decision, req.URL))
		if decision.Unmatched {
			resp.Header.Set(HeaderUnmatched, "1")
		}
		return r, resp
	default:
		return r, nil
	}
}

func (fp *FixtureProxy) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	reqURL := getRequestURL(ctx)
	if r != nil {
		fp.logger.Debug("Upstream response", zap.Int("status", r.StatusCode), zap.String("url", reqURL))
		return r
	}

	errorMsg := "unknown error"
	if ctx.Error != nil {
		errorMsg = ctx.Error.Error()
	}
	fp.logger.Warn("Proxy received nil response from upstream", zap.String("url", reqURL), zap.String("error", errorMsg))
	if ctx.Req == nil {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewBufferString("Proxy error: upstream connection failed: " + errorMsg)),
		}
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "Proxy error: upstream connection failed: "+errorMsg)
}

// replayBody hands the buffered prefix back ahead of the unread remainder.
// Closing it closes the original body.
type replayBody struct {
	io.Reader
	io.Closer
}

// routerRequest copies what the router needs out of r. Predicates see at most
// maxBodyBytes of the body; passthrough requests still carry all of it upstream.
func routerRequest(r *http.Request) (router.Request, error) {
	req := router.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: make(map[string]string, len(r.Header)),
	}
	for name := range r.Header {
		req.Headers[name] = r.Header.Get(name)
	}
	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	orig := r.Body
	prefix, err := io.ReadAll(io.LimitReader(orig, maxBodyBytes))
	if err != nil {
		_ = orig.Close()
		return req, err
	}
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), orig), Closer: orig}
	req.Body = prefix
	return req, nil
}

func fulfilledResponse(r *http.Request, resp router.Response) *http.Response {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = resp.Headers["Content-Type"]
	}
	out := goproxy.NewResponse(r, contentType, resp.Status, string(resp.Body))
	if contentType == "" {
		out.Header.Del("Content-Type")
	}
	for name, value := range resp.Headers {
		out.Header.Set(name, value)
	}
	if resp.ContentType != "" {
		out.Header.Set("Content-Type", resp.ContentType)
	}
	return out
}

func abortMessage(d router.Decision, url string) string {
	if d.Err != nil {
		return fmt.Sprintf("mockroute: fixture failed for %s: %v", url, d.Err)
	}
	return "mockroute: no fixture matches " + url
}

// Listen binds the proxy to addr. Port 0 picks a free port.
func (fp *FixtureProxy) Listen(addr string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.listener != nil {
		return errors.New("proxy already listening")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	fp.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (fp *FixtureProxy) Addr() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.listener == nil {
		return ""
	}
	return fp.listener.Addr().String()
}

// URL returns the proxy address in the form Chromium's --proxy-server expects.
func (fp *FixtureProxy) URL() string {
	if addr := fp.Addr(); addr != "" {
		return "http://" + addr
	}
	return ""
}

// Serve handles connections on the bound listener until ctx is cancelled.
func (fp *FixtureProxy) Serve(ctx context.Context) error {
	fp.mu.Lock()
	if fp.listener == nil {
		fp.mu.Unlock()
		return errors.New("proxy is not listening")
	}
	if fp.server != nil {
		fp.mu.Unlock()
		return errors.New("proxy server already started")
	}
	ln := fp.listener
	server := &http.Server{
		Handler:      fp,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     zap.NewStdLog(fp.logger.Named("http_server")),
	}
	fp.server = server
	fp.mu.Unlock()

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		fp.logger.Info("Shutdown signal received, stopping fixture proxy...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	fp.logger.Info("Starting fixture proxy", zap.String("address", ln.Addr().String()))
	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = <-shutdownErr
	}

	fp.mu.Lock()
	fp.server = nil
	fp.listener = nil
	fp.mu.Unlock()

	if err != nil {
		fp.logger.Error("Proxy server stopped with an error", zap.Error(err))
		return fmt.Errorf("proxy server failed: %w", err)
	}
	fp.logger.Info("Fixture proxy stopped gracefully.")
	return nil
}

// Start listens on addr and serves until ctx is cancelled.
func (fp *FixtureProxy) Start(ctx context.Context, addr string) error {
	if err := fp.Listen(addr); err != nil {
		return err
	}
	return fp.Serve(ctx)
}

func getRequestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}
