// Package http builds outbound HTTP clients with bounded timeouts.
package http

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout        = 30 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultIdleConns      = 100
	defaultIdlePerHost    = 10
	defaultIdleTimeout    = 90 * time.Second
	defaultTLSHandshake   = 10 * time.Second
	defaultExpectContinue = time.Second
)

// ClientConfig holds the knobs callers tune; zero values use defaults.
type ClientConfig struct {
	// Timeout bounds the whole request including the body read.
	Timeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout time.Duration
	MaxIdleConnsPerHost   int
}

// NewClient returns an *http.Client with its own transport.
func NewClient(cfg ClientConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaultIdlePerHost
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          defaultIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ExpectContinueTimeout: defaultExpectContinue,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}
