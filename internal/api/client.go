// Package api is the HTTP client for the receipts backend.
//
// A Client holds the transport and is shared by every browser session.
// Calls are made through a Gateway, which binds the client to one
// session's bearer token and rotates it whenever the backend issues a new
// one.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"splithappens/internal/apperr"
	"splithappens/internal/log"
)

const (
	basePath        = "/api/receipts/"
	maxResponseSize = 10 << 20
)

// Credentials stores the bearer token of one browser session.
type Credentials interface {
	Token() string
	SetToken(token string)
}

// Observer is told about every backend call once it has finished. Status
// is 0 when no response was received.
type Observer func(endpoint string, status int, elapsed time.Duration)

type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
	Observe    Observer
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
	observe    Observer
}

// New creates a client for the backend at baseURL, e.g.
// "https://receipts.example.com".
func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentAPI)
	}
	observe := opts.Observe
	if observe == nil {
		observe = func(string, int, time.Duration) {}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + basePath,
		httpClient: hc,
		logger:     logger,
		observe:    observe,
	}
}

// For binds the client to one session's credentials.
func (c *Client) For(creds Credentials) *Gateway {
	return &Gateway{client: c, creds: creds}
}

type errorBody struct {
	Detail string `json:"detail"`
}

type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
}

func jsonRequest(op, method, path string, payload any) (request, error) {
	req := request{op: op, method: method, path: path}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return req, fmt.Errorf("encode %s request: %w", op, err)
		}
		req.body = bytes.NewReader(b)
		req.contentType = "application/json"
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out. Failures are returned as
// *apperr.Error.
func (c *Client) do(ctx context.Context, token string, req request, out any) error {
	started := time.Now()
	status := 0
	defer func() { c.observe(req.op, status, time.Since(started)) }()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, req.body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "Backend unreachable", log.FieldEndpoint, req.op, log.FieldError, err)
		return apperr.Network(req.op, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return apperr.Network(req.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		c.logger.InfoContext(ctx, "Backend rejected request",
			log.FieldEndpoint, req.op,
			log.FieldStatusCode, resp.StatusCode,
			"detail", eb.Detail)
		return apperr.Server(req.op, resp.StatusCode, eb.Detail)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &apperr.Error{
			Kind:    apperr.KindServer,
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: "Unexpected response from server.",
			Err:     err,
		}
	}
	return nil
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Status == http.StatusUnauthorized
}
