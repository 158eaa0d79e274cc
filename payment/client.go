package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/jonwraymond/depguard/resilience"
)

// DefaultUserAgent identifies depguard to the provider.
const DefaultUserAgent = "depguard/1.0"

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the provider's API root, e.g. https://api.payment-service.internal.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// UserAgent is sent with every request.
	// Default: DefaultUserAgent
	UserAgent string

	// MaxConns bounds connections to the provider host.
	// Default: 100
	MaxConns int

	// Timeout bounds a charge whose context carries no deadline.
	// Default: 30 seconds
	Timeout time.Duration

	// HealthTimeout bounds a Ping whose context carries no deadline.
	// Default: 5 seconds
	HealthTimeout time.Duration

	// Now returns the current time, used to interpret Retry-After dates.
	// Default: time.Now
	Now func() time.Time
}

// Client talks to the payment provider. It is safe for concurrent use.
type Client struct {
	config    ClientConfig
	host      *fasthttp.HostClient
	chargeURI string
	healthURI string
}

// NewClient creates a client for config.BaseURL.
func NewClient(config ClientConfig) (*Client, error) {
	u, err := url.Parse(config.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, config.BaseURL)
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 5 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	isTLS := u.Scheme == "https"
	base := strings.TrimSuffix(u.String(), "/")
	return &Client{
		config: config,
		host: &fasthttp.HostClient{
			Addr:                fasthttp.AddMissingPort(u.Host, isTLS),
			IsTLS:               isTLS,
			Name:                config.UserAgent,
			MaxConns:            config.MaxConns,
			MaxIdleConnDuration: 30 * time.Second,
		},
		chargeURI: base + "/v1/charges",
		healthURI: base + "/health",
	}, nil
}

// Charge submits req to the provider. The returned error is tagged for
// the executor:
//
//   - 400, 422: caller fault wrapping ErrRejected with the provider's message
//   - 401, 403: caller fault wrapping ErrUnauthorized
//   - 409: caller fault wrapping ErrDuplicateCharge
//   - 429: rate-limited dependency failure honoring Retry-After
//   - other statuses, network errors, malformed bodies: retryable
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, resilience.CallerFault(err, "")
	}

	httpReq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(httpReq)
	httpReq.SetRequestURI(c.chargeURI)
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.SetContentType("application/json")
	httpReq.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.config.APIKey)
	httpReq.Header.SetUserAgent(c.config.UserAgent)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	httpReq.SetBody(body)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := c.do(ctx, httpReq, resp, c.config.Timeout); err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated:
		var result ChargeResult
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, resilience.Retryable(fmt.Errorf("%w: %v", ErrBadResponse, err))
		}
		if result.TransactionID == "" {
			return nil, resilience.Retryable(fmt.Errorf("%w: missing transaction_id", ErrBadResponse))
		}
		return &result, nil
	default:
		return nil, c.statusError(resp)
	}
}

// Ping checks the provider's health endpoint. It is meant for health
// probes and does not go through the executor.
func (c *Client) Ping(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(c.healthURI)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(c.config.UserAgent)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := c.do(ctx, req, resp, c.config.HealthTimeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return &StatusError{StatusCode: code, Message: errorMessage(resp.Body()), kind: ErrProviderError}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.host.CloseIdleConnections()
}

// do sends req with the context's deadline, or now+fallback without one.
// Cancellation without a deadline is only noticed before sending.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, fallback time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(fallback)
	}

	err := c.host.DoDeadline(req, resp, deadline)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, fasthttp.ErrTimeout) && ok:
		// The deadline came from ctx; its timer may not have fired yet.
		return context.DeadlineExceeded
	case errors.Is(err, fasthttp.ErrTimeout):
		return resilience.Retryable(fmt.Errorf("%w: request timed out: %v", ErrUnreachable, err))
	default:
		return resilience.Retryable(fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
}

func (c *Client) statusError(resp *fasthttp.Response) error {
	code := resp.StatusCode()
	msg := errorMessage(resp.Body())

	switch {
	case code == fasthttp.StatusBadRequest || code == fasthttp.StatusUnprocessableEntity:
		if msg == "" {
			msg = "invalid payment data"
		}
		return resilience.CallerFault(&StatusError{StatusCode: code, Message: msg, kind: ErrRejected}, "")
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return resilience.CallerFault(&StatusError{StatusCode: code, Message: msg, kind: ErrUnauthorized}, "")
	case code == fasthttp.StatusConflict:
		return resilience.CallerFault(&StatusError{StatusCode: code, Message: msg, kind: ErrDuplicateCharge}, "")
	case code == fasthttp.StatusTooManyRequests:
		return resilience.RateLimited(&StatusError{StatusCode: code, Message: msg, kind: ErrRateLimited}, c.retryAfter(resp))
	default:
		return resilience.Retryable(&StatusError{StatusCode: code, Message: msg, kind: ErrProviderError})
	}
}

// retryAfter parses Retry-After as delay-seconds or an HTTP date.
func (c *Client) retryAfter(resp *fasthttp.Response) time.Duration {
	v := strings.TrimSpace(string(resp.Header.Peek(fasthttp.HeaderRetryAfter)))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(c.config.Now()); d > 0 {
			return d
		}
	}
	return 0
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return payload.Message
}
