package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/revu/internal/logging"
	"github.com/joescharf/revu/internal/metrics"
)

// maxErrorBody caps how much of a failed response body ends up in an error message.
const maxErrorBody = 512

// Body is a request payload. Implementations encode themselves and report
// the content type to send.
type Body interface {
	Encode() (io.Reader, string, error)
}

// Multipart is a multipart/form-data body with plain fields and at most one file part.
type Multipart struct {
	Fields    map[string]string
	FileField string
	FileName  string
	File      io.Reader
}

// Encode writes the form into memory and returns it with its boundary content type.
func (m *Multipart) Encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range m.Fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if m.File != nil {
		field := m.FileField
		if field == "" {
			field = "file"
		}
		part, err := w.CreateFormFile(field, m.FileName)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, m.File); err != nil {
			return nil, "", fmt.Errorf("copy file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Response is a successful (2xx) backend response.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON returns the body as raw JSON, or a decode error when it is not valid JSON.
func (r *Response) JSON() (json.RawMessage, error) {
	if !json.Valid(r.Body) {
		return nil, &Error{Kind: KindDecode, Message: "response body is not valid JSON"}
	}
	return json.RawMessage(r.Body), nil
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &Error{Kind: KindDecode, Message: "decode response body", Err: err}
	}
	return nil
}

// Client sends requests to a single backend whose base URL is fixed at construction.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client for baseURL, which must be an absolute http(s) URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) URL: %q", baseURL)
	}

	c := &Client{
		base:      u,
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "revu",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured base address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do sends one request. path may carry a query string. body may be nil.
// Any failure is returned as *Error; there are no retries.
func (c *Client) Do(ctx context.Context, method, path string, body Body) (*Response, error) {
	start := time.Now()
	resp, err := c.do(ctx, method, path, body)

	outcome := "ok"
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			outcome = string(te.Kind)
		}
		c.logger.Debug("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
	} else {
		c.logger.Debug("backend request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)))
	}
	c.metrics.ObserveRequest(method, outcome, time.Since(start))

	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body Body) (*Response, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "build request url", Err: err}
	}

	var reader io.Reader
	var contentType string
	if body != nil {
		reader, contentType, err = body.Encode()
		if err != nil {
			return nil, &Error{Kind: KindNetwork, Message: "encode request body", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "build request", Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Kind: KindCanceled, Message: ctxErr.Error(), Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("%s %s", method, path), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       KindHTTP,
			Message:    errorDetail(data, resp.Status),
			HTTPStatus: resp.StatusCode,
		}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// resolve joins path onto the base URL, keeping any query string in path.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// errorDetail extracts a readable message from an error body. FastAPI-style
// backends put it in "detail"; others in "error" or "message".
func errorDetail(body []byte, fallback string) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := parsed[key].(string); ok && s != "" {
				return s
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}
