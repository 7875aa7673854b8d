package internal

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

const (
	ticketHeader    = "OTCSTicket"
	requestIDHeader = "X-Request-Id"
	authPath        = "/v1/auth"
)

// HTTPTransport talks to the content server REST API. It authenticates
// lazily with username and password, keeps the session ticket, retries
// throttled and failed requests, and stops calling while the circuit
// breaker is open.
type HTTPTransport struct {
	client    *http.Client
	baseURL   string
	server    otcs.ServerConfig
	transport otcs.TransportConfig
	breaker   *CircuitBreaker

	mu     sync.Mutex
	ticket string
}

// NewHTTPTransport creates a transport for config. A nil client gets one
// built from the server timeout and TLS settings.
func NewHTTPTransport(config *otcs.Config, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: config.Server.Timeout}
		if config.Server.InsecureTLS {
			client.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for self-signed lab servers
			}
		}
	}
	return &HTTPTransport{
		client:    client,
		baseURL:   strings.TrimRight(config.Server.BaseURL, "/"),
		server:    config.Server,
		transport: config.Transport,
		breaker: NewCircuitBreaker(
			config.Transport.BreakerThreshold,
			config.Transport.BreakerWindow,
			config.Transport.BreakerOpenDuration,
		),
		ticket: config.Server.Ticket,
	}
}

// Do sends req and returns the response body.
func (t *HTTPTransport) Do(ctx context.Context, req *otcs.Request) (json.RawMessage, error) {
	start := time.Now()
	if t.breaker.IsOpen() {
		EmitRequestLatency(ctx, req.Method, "circuit_open", 0)
		return nil, otcs.NewOTCSError(otcs.ErrorTypeTransport, otcs.ErrCodeCircuitOpen, "content server circuit breaker is open").
			WithDetail("path", req.Path)
	}

	requestID := uuid.NewString()
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(t.transport.RetryInitialInterval),
				backoff.WithMaxInterval(t.transport.RetryMaxInterval),
			),
			uint64(max(t.transport.MaxRetries, 0)),
		),
		ctx,
	)

	body, err := backoff.RetryNotifyWithData(
		func() (json.RawMessage, error) {
			return t.attempt(ctx, req, requestID)
		},
		policy,
		func(err error, wait time.Duration) {
			EmitRetry(ctx, req.Method)
			zap.S().Warnw("retrying content server request", "requestID", requestID,
				"method", req.Method, "path", req.Path, "wait", wait, "error", err)
		},
	)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if isServerFailure(err) {
			t.breaker.RecordFailure()
		}
		EmitRequestLatency(ctx, req.Method, "error", elapsed)
		return nil, err
	}
	t.breaker.RecordSuccess()
	EmitRequestLatency(ctx, req.Method, "ok", elapsed)
	return body, nil
}

// attempt performs one authenticated round trip. Errors that must not be
// retried are wrapped with backoff.Permanent.
func (t *HTTPTransport) attempt(ctx context.Context, req *otcs.Request, requestID string) (json.RawMessage, error) {
	ticket, err := t.currentTicket(ctx)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	status, body, err := t.roundTrip(ctx, req, ticket, requestID)
	if err == nil && status == http.StatusUnauthorized && t.server.Ticket == "" {
		// ticket expired: authenticate again once
		t.invalidateTicket(ticket)
		if ticket, err = t.currentTicket(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		status, body, err = t.roundTrip(ctx, req, ticket, requestID)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		netErr := otcs.NewOTCSError(otcs.ErrorTypeTransport, otcs.ErrCodeRequestFailed, "request to content server failed").
			WithCause(err).WithDetail("path", req.Path)
		if !isIdempotent(req.Method) {
			// the server may have applied the write before the connection broke
			return nil, backoff.Permanent(netErr)
		}
		return nil, netErr
	}

	if status >= 200 && status < 300 {
		return json.RawMessage(body), nil
	}

	reqErr := otcs.NewRequestError(req.Method, req.Path, status, serverMessage(body)).WithDetail("requestId", requestID)
	if shouldRetry(req.Method, status) {
		return nil, reqErr
	}
	return nil, backoff.Permanent(reqErr)
}

// shouldRetry reports whether a failed status may be retried for method.
// Writes are only retried when the server rejected them without processing.
func shouldRetry(method string, status int) bool {
	if isIdempotent(method) {
		return isRetryableStatus(status)
	}
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (t *HTTPTransport) roundTrip(ctx context.Context, req *otcs.Request, ticket, requestID string) (int, []byte, error) {
	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set(requestIDHeader, requestID)
	if ticket != "" {
		httpReq.Header.Set(ticketHeader, ticket)
	}

	zap.S().Debugw("content server request", "requestID", requestID, "method", req.Method, "path", req.Path)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if refreshed := resp.Header.Get(ticketHeader); refreshed != "" && t.server.Ticket == "" {
		t.setTicket(refreshed)
	}
	return resp.StatusCode, body, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, req *otcs.Request) (*http.Request, error) {
	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if t.transport.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.transport.UserAgent)
	}
	return httpReq, nil
}

// currentTicket returns the session ticket, authenticating when there is none.
func (t *HTTPTransport) currentTicket(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticket != "" {
		return t.ticket, nil
	}
	ticket, err := t.authenticate(ctx)
	if err != nil {
		return "", err
	}
	t.ticket = ticket
	return ticket, nil
}

func (t *HTTPTransport) invalidateTicket(stale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticket == stale {
		t.ticket = ""
	}
}

func (t *HTTPTransport) setTicket(ticket string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticket = ticket
}

func (t *HTTPTransport) authenticate(ctx context.Context) (string, error) {
	if t.server.Username == "" {
		return "", otcs.NewOTCSError(otcs.ErrorTypeUnauthorized, otcs.ErrCodeAuthFailed, "no ticket and no username configured")
	}

	form := url.Values{
		"username": {t.server.Username},
		"password": {t.server.Password},
	}
	if t.server.Domain != "" {
		form.Set("domain", t.server.Domain)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+authPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", otcs.NewOTCSError(otcs.ErrorTypeTransport, otcs.ErrCodeRequestFailed, "authentication request failed").WithCause(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", otcs.NewOTCSError(otcs.ErrorTypeUnauthorized, otcs.ErrCodeAuthFailed, "authentication rejected").
			WithDetail("status", resp.StatusCode).
			WithDetail("serverMessage", serverMessage(body))
	}

	var auth struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(body, &auth); err != nil || auth.Ticket == "" {
		return "", otcs.NewOTCSError(otcs.ErrorTypeUnauthorized, otcs.ErrCodeAuthFailed, "authentication response carries no ticket").WithCause(err)
	}
	zap.S().Debugw("authenticated with content server", "username", t.server.Username)
	return auth.Ticket, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isServerFailure reports errors that count against the circuit breaker:
// network failures and retryable statuses, not client errors.
func isServerFailure(err error) bool {
	var otcsErr *otcs.OTCSError
	if !errors.As(err, &otcsErr) {
		return false
	}
	if otcsErr.Type != otcs.ErrorTypeTransport {
		return false
	}
	status, ok := otcsErr.Details["status"].(int)
	return !ok || isRetryableStatus(status)
}

// serverMessage extracts the "error" field the server puts in failure bodies.
func serverMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxServerMessage {
		msg = msg[:maxServerMessage] + "..."
	}
	return msg
}

const maxServerMessage = 256
