// Package api implements the HTTP client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HeaderFunc supplies the auth headers for an outgoing request. An empty map
// means the request is sent unauthenticated and the server will reject it.
type HeaderFunc func() map[string]string

// Client talks to the chat backend
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	headers      HeaderFunc
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
}

// NewClient creates a new backend client. headers may be nil for a client
// that only performs unauthenticated calls.
func NewClient(baseURL string, headers HeaderFunc, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	if headers == nil {
		headers = func() map[string]string { return nil }
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		// No client timeout on the stream: a reply may legitimately take
		// longer than any fixed deadline. Cancellation comes from ctx.
		streamClient: &http.Client{},
		headers:      headers,
		logger:       logger,
		tracer:       tracer,
		meter:        meter,
	}
}

// Login exchanges credentials for a token. Invalid credentials yield an
// *AuthError.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	ctx, span := c.tracer.Start(ctx, "auth_login")
	defer span.End()

	var out AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &ProtocolError{Detail: "login response carried no access token"}
	}
	return &out, nil
}

// Register creates a new account. The backend issues a token directly, but
// callers are expected to chain into Login rather than trust it.
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResponse, error) {
	ctx, span := c.tracer.Start(ctx, "auth_register")
	defer span.End()

	var out AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", RegisterRequest{Username: username, Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the user the current token belongs to, or an *AuthError when
// the token is missing, expired or revoked.
func (c *Client) Me(ctx context.Context) (*User, error) {
	ctx, span := c.tracer.Start(ctx, "auth_me")
	defer span.End()

	var out User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the user's sessions, most recent first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	ctx, span := c.tracer.Start(ctx, "sessions_list")
	defer span.End()

	var out []Session
	if err := c.doJSON(ctx, http.MethodGet, "/chat/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession creates a new conversation session.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "session_create")
	defer span.End()

	var out Session
	if err := c.doJSON(ctx, http.MethodPost, "/chat/sessions", SessionCreateRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches one session together with its message history.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	ctx, span := c.tracer.Start(ctx, "session_detail")
	defer span.End()

	var out SessionDetail
	if err := c.doJSON(ctx, http.MethodGet, "/chat/sessions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameSession updates a session's title.
func (c *Client) RenameSession(ctx context.Context, id, title string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "session_rename")
	defer span.End()

	var out Session
	if err := c.doJSON(ctx, http.MethodPut, "/chat/sessions/"+id, SessionCreateRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session and its history on the server.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, "session_delete")
	defer span.End()

	return c.doJSON(ctx, http.MethodDelete, "/chat/sessions/"+id, nil, nil)
}

// Send posts a message and waits for the complete, non-streamed reply.
func (c *Client) Send(ctx context.Context, message, sessionID string) (*Message, error) {
	ctx, span := c.tracer.Start(ctx, "chat_send")
	defer span.End()

	var out Message
	if err := c.doJSON(ctx, http.MethodPost, "/chat/send", ChatRequest{Message: message, SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamChat opens the chunked response stream for one outbound message.
// The caller owns the returned body and must close it. sessionID may be
// empty, in which case the server creates a session and announces its id as
// the first stream event.
func (c *Client) StreamChat(ctx context.Context, message, sessionID string) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "chat_stream_open")
	defer span.End()

	jsonData, err := json.Marshal(ChatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	c.recordDuration(ctx, time.Since(start))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, c.statusError(resp.StatusCode, body)
	}

	return resp.Body, nil
}

// doJSON issues one request and decodes the JSON response into out (when out
// is non-nil). Non-2xx statuses become typed errors.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.recordDuration(ctx, time.Since(start))
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &TransportError{Status: resp.StatusCode, Body: excerpt(respBody), Err: fmt.Errorf("failed to unmarshal response: %w", err)}
		}
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
}

func (c *Client) statusError(status int, body []byte) error {
	detail := excerpt(body)
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail != "" {
		detail = er.Detail
	}

	if status == http.StatusUnauthorized {
		c.logger.Warn("request rejected as unauthenticated", "detail", detail)
		return &AuthError{Status: status, Detail: detail}
	}

	c.logger.Warn("request failed", "status", status, "detail", detail)
	return &TransportError{Status: status, Body: detail}
}

func (c *Client) recordDuration(ctx context.Context, d time.Duration) {
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(d.Milliseconds()))
	}
}

func excerpt(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
