package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds one HTTP exchange. It is above the server's
// default compile timeout so the server reports timeouts itself.
const DefaultHTTPTimeout = 90 * time.Second

// maxErrorBody caps how much of a failure body is read.
const maxErrorBody = 1 << 20

// ErrUnexpectedResponse reports a response the client could not interpret.
var ErrUnexpectedResponse = errors.New("unexpected server response")

// RemoteError is a structured failure returned by the server.
type RemoteError struct {
	StatusCode int
	RequestID  string
	Message    string // short, user-facing
	Details    string // raw compiler diagnostics, may be long
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Health is the server's compiler availability report.
type Health struct {
	Status  string            `json:"status"`
	Engines map[string]string `json:"engines"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client calls the doc2pdf HTTP API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles LaTeX markup and returns the PDF.
func (c *Client) Compile(ctx context.Context, latex string, opts map[string]string) ([]byte, error) {
	return c.postForPDF(ctx, "/compile", map[string]any{"latex": latex, "options": opts})
}

// Render converts an HTML page and returns the PDF.
func (c *Client) Render(ctx context.Context, html string, opts map[string]string) ([]byte, error) {
	return c.postForPDF(ctx, "/render", map[string]any{"html": html, "options": opts})
}

// Convert converts a previously saved document and returns the PDF.
func (c *Client) Convert(ctx context.Context, id string, opts map[string]string) ([]byte, error) {
	return c.postForPDF(ctx, "/convert", map[string]any{"id": id, "options": opts})
}

// Save uploads a binary document and returns its identifier.
func (c *Client) Save(ctx context.Context, filename string, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/save", mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var saved struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return "", fmt.Errorf("%w: decoding save response: %v", ErrUnexpectedResponse, err)
	}
	if !saved.Success || saved.ID == "" {
		return "", fmt.Errorf("%w: save response without id", ErrUnexpectedResponse)
	}
	return saved.ID, nil
}

// Health fetches the server's compiler availability.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: decoding health: %v", ErrUnexpectedResponse, err)
	}
	return &h, nil
}

func (c *Client) postForPDF(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/pdf") {
		return nil, fmt.Errorf("%w: content type %q", ErrUnexpectedResponse, ct)
	}
	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading PDF: %w", err)
	}
	return pdf, nil
}

// do sends a request and turns non-2xx responses into *RemoteError.
// The caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return nil, decodeRemoteError(resp)
}

func decodeRemoteError(resp *http.Response) error {
	re := &RemoteError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-ID"),
		Message:    http.StatusText(resp.StatusCode),
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return re
	}
	var f struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(data, &f) == nil && f.Error != "" {
		re.Message = f.Error
		re.Details = f.Details
	}
	return re
}
