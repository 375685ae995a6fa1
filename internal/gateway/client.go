// Package gateway is a thin client for an Evolution-API compatible WhatsApp
// gateway. Delivery guarantees are the gateway's concern.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

const defaultUserAgent = "glamour-chat-center/1.0"

// Config controls how the gateway client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client sends WhatsApp messages through the gateway.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gateway: API key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// MediaPayload describes an outbound media message. Media is a public URL or
// base64 content.
type MediaPayload struct {
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Media     string `json:"media"`
	FileName  string `json:"fileName,omitempty"`
}

func (m MediaPayload) validate() error {
	switch m.MediaType {
	case "image", "video", "audio", "document":
	default:
		return fmt.Errorf("gateway: unsupported media type %q", m.MediaType)
	}
	if strings.TrimSpace(m.Media) == "" {
		return errors.New("gateway: media is required")
	}
	return nil
}

// SendResult is the gateway's acknowledgement of a send.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

// SendText sends a text message to phone through a gateway instance.
func (c *Client) SendText(ctx context.Context, instance, phone, text string) (*SendResult, error) {
	if err := validateTarget(instance, phone); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("gateway: text is required")
	}
	body, err := json.Marshal(map[string]string{"number": phone, "text": text})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode text: %w", err)
	}
	return c.send(ctx, "/message/sendText/"+url.PathEscape(instance), body)
}

// SendMedia sends an image, video, audio or document message.
func (c *Client) SendMedia(ctx context.Context, instance, phone string, media MediaPayload) (*SendResult, error) {
	if err := validateTarget(instance, phone); err != nil {
		return nil, err
	}
	if err := media.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(struct {
		Number string `json:"number"`
		MediaPayload
	}{Number: phone, MediaPayload: media})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode media: %w", err)
	}
	return c.send(ctx, "/message/sendMedia/"+url.PathEscape(instance), body)
}

func validateTarget(instance, phone string) error {
	if strings.TrimSpace(instance) == "" {
		return errors.New("gateway: instance is required")
	}
	if strings.TrimSpace(phone) == "" {
		return errors.New("gateway: phone is required")
	}
	return nil
}

func (c *Client) send(ctx context.Context, path string, body []byte) (*SendResult, error) {
	data, err := c.invoke(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var resp sendResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return &SendResult{MessageID: resp.Key.ID, Status: resp.Status}, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("gateway: build request: %w", err)
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("gateway: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("gateway: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("gateway: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("gateway retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int    `json:"-"`
	Err        string `json:"error,omitempty"`
	Message    any    `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if msg := e.message(); msg != "" {
		return fmt.Sprintf("gateway: %s (status=%d)", msg, e.StatusCode)
	}
	if e.Err != "" {
		return fmt.Sprintf("gateway: %s (status=%d)", e.Err, e.StatusCode)
	}
	return fmt.Sprintf("gateway: http status %d", e.StatusCode)
}

// Evolution returns "message" either as a string or as a list of strings.
func (e *APIError) message() string {
	switch v := e.Message.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// Retryable reports whether the caller may try the send again later.
func (e *APIError) Retryable() bool {
	return shouldRetry(e.StatusCode, nil)
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	if len(bytes.TrimSpace(data)) > 0 {
		var wrapped struct {
			Response *APIError `json:"response"`
		}
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Response != nil && wrapped.Response.message() != "" {
			apiErr.Message = wrapped.Response.Message
		} else {
			_ = json.Unmarshal(data, apiErr)
			apiErr.StatusCode = status
		}
	}
	return apiErr
}
