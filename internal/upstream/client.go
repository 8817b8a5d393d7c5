package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/simgate/internal/platform/httpserver"
)

// Request is one outbound submission. Body is sent byte for byte.
type Request struct {
	IdempotencyKey string
	Body           []byte
}

type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client posts payloads to the external validator. Each Send is bounded by
// the configured per-attempt timeout.
type Client struct {
	httpClient   *http.Client
	url          string
	secret       []byte
	timeout      time.Duration
	maxBodyBytes int64
}

// NewClient builds the client. ctx is only used for OIDC discovery and must
// outlive token refreshes, so callers pass a long-lived context.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient, err := newHTTPClient(ctx, cfg.OAuth)
	if err != nil {
		return nil, err
	}

	c := &Client{
		httpClient:   httpClient,
		url:          strings.TrimSpace(cfg.URL),
		timeout:      cfg.Timeout,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if secret := strings.TrimSpace(cfg.SigningSecret); secret != "" {
		c.secret = []byte(secret)
	} else {
		logger.Warn("validator signing secret not configured; outbound payloads will be unsigned")
	}
	return c, nil
}

func (c *Client) Signing() bool { return len(c.secret) > 0 }

// Send performs one attempt. Transport failures are returned as errors; any
// HTTP response, including 4xx and 5xx, is returned as a Response.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.httpClient == nil {
		return Response{}, errors.New("validator client not initialized")
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, key)
	}
	if c.Signing() {
		sig, err := ComputeSignature(c.secret, req.Body)
		if err != nil {
			return Response{}, err
		}
		httpReq.Header.Set(HeaderSignature, sig)
	}
	if requestID, ok := httpserver.RequestIDFromContext(ctx); ok && requestID != "" {
		httpReq.Header.Set(HeaderRequestID, requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("post validator: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("read validator response: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return Response{}, fmt.Errorf("validator response exceeds %d bytes", c.maxBodyBytes)
	}
	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func newHTTPClient(ctx context.Context, cfg OAuthConfig) (*http.Client, error) {
	base := &http.Client{Transport: newTransport()}
	if !cfg.Enabled() {
		return base, nil
	}

	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		discoveryCtx := oidc.ClientContext(ctx, base)
		provider, err := oidc.NewProvider(discoveryCtx, strings.TrimSpace(cfg.Issuer))
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		tokenURL = provider.Endpoint().TokenURL
	}

	cc := clientcredentials.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.Scopes,
	}
	return cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base)), nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0,
	}
}
