// File: internal/network/transport.go
package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Defaults for the upstream leg of passthrough traffic.
const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 10
)

// UpstreamConfig controls how the proxy reaches the real backend for requests
// the router lets through.
type UpstreamConfig struct {
	IgnoreTLSErrors       bool
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	ForceHTTP2            bool
	Logger                *zap.Logger
}

// NewDefaultUpstreamConfig returns settings suited to a local dev server.
func NewDefaultUpstreamConfig() *UpstreamConfig {
	return &UpstreamConfig{
		DialTimeout:           DefaultDialTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
	}
}

// NewUpstreamTransport builds the http.Transport used for passthrough requests.
func NewUpstreamTransport(cfg *UpstreamConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultUpstreamConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: DefaultKeepAliveInterval}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.IgnoreTLSErrors, //nolint:gosec // dev servers commonly use self signed certs
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}

	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}
