// Package email provides a client for the Resend transactional email API
package email

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

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.resend.com"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 2 // requests per second
)

// ErrUnavailable is returned without calling the API while the circuit
// breaker is open.
var ErrUnavailable = errors.New("email service unavailable")

// Message is one outbound email.
type Message struct {
	From    string   `json:"from" validate:"required"`
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Subject string   `json:"subject" validate:"required"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// SendResult is the API's acknowledgement of an accepted message.
type SendResult struct {
	ID string `json:"id"`
}

// Sender sends transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Client implements Sender against the Resend REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(settings gobreaker.Settings) ClientOption {
	return func(c *Client) {
		c.breaker = newBreaker(settings, c)
	}
}

// NewClient creates a new Resend client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  zerolog.Nop(),
	}
	c.breaker = newBreaker(gobreaker.Settings{
		Name:    "resend",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}, c)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func newBreaker(settings gobreaker.Settings, c *Client) *gobreaker.CircuitBreaker {
	// Rejections by the API (4xx) say nothing about its health.
	settings.IsSuccessful = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode < http.StatusInternalServerError
		}
		return err == nil
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Email circuit breaker state changed")
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Resend API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Send delivers msg and returns the id the API assigned to it.
func (c *Client) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if c.apiKey == "" {
		return nil, errors.New("email: API key is not configured")
	}

	var result SendResult
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, "/emails", msg, &result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// post performs a rate-limited JSON POST request
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", path).Msg("Resend API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw), Endpoint: path}
		var body struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Message != "" {
			apiErr.Name, apiErr.Message = body.Name, body.Message
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

var _ Sender = (*Client)(nil)
