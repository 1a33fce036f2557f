package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/circuitbreaker"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	nrpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/newrelic"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/requestcontext"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/retry"
)

// DefaultTimeout for HTTP requests
const DefaultTimeout = 30 * time.Second

// Config configures a Client
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Token is sent as a bearer token when set
	Token string
	// Retry overrides the retry policy for idempotent calls
	Retry *retry.Config
	// Breaker enables a circuit breaker around every call when set
	Breaker *circuitbreaker.Config
}

// Client is a JSON HTTP client that maps error responses to apperror kinds
type Client struct {
	baseURL    string
	httpClient *nethttp.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker

	mu    sync.RWMutex
	token string
}

// NewClient creates a new HTTP client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	retryCfg := retry.DefaultConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &nethttp.Client{Timeout: cfg.Timeout},
		token:      cfg.Token,
		retrier:    retry.New(retryCfg, nil),
	}
	if cfg.Breaker != nil {
		breakerCfg := *cfg.Breaker
		// only transport-level failures count against the breaker
		breakerCfg.IsFailure = retry.IsTransient
		c.breaker = circuitbreaker.New(breakerCfg)
	}
	return c
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token. Requests already sent keep the old one.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// GetJSON performs an idempotent GET and decodes the response into result
func (c *Client) GetJSON(ctx context.Context, endpoint string, result interface{}) error {
	return c.retrier.Execute(ctx, func(ctx context.Context) error {
		return c.Do(ctx, nethttp.MethodGet, endpoint, nil, result)
	})
}

// PutJSON performs an idempotent PUT
func (c *Client) PutJSON(ctx context.Context, endpoint string, body, result interface{}) error {
	return c.retrier.Execute(ctx, func(ctx context.Context) error {
		return c.Do(ctx, nethttp.MethodPut, endpoint, body, result)
	})
}

// PostJSON performs a single POST attempt. POSTs are never retried since the
// server may have applied the first attempt.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, result interface{}) error {
	return c.Do(ctx, nethttp.MethodPost, endpoint, body, result)
}

// Do executes one request, through the circuit breaker when configured
func (c *Client) Do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	if c.breaker == nil {
		return c.do(ctx, method, endpoint, body, result)
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, method, endpoint, body, result)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return apperror.Wrap(apperror.KindUnavailable, method+" "+endpoint, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	op := method + " " + endpoint
	url := c.baseURL + endpoint

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return apperror.Wrap(apperror.KindValidation, op, fmt.Errorf("failed to marshal request body: %w", err))
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if requestID := requestcontext.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	var resp *nethttp.Response
	err = nrpkg.WithExternalSegment(ctx, "dispatch", method, url, func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		logger.Debug("HTTP request failed",
			logger.String("method", method),
			logger.String("url", url),
			logger.Err(err))
		return classifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(op, resp)
	}

	if result == nil || resp.StatusCode == nethttp.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return apperror.Wrap(apperror.KindNetworkError, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// errorBody mirrors utils.ErrorResponse
type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Kind  string `json:"kind"`
}

func decodeError(op string, resp *nethttp.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	kind := apperror.Kind(body.Kind)
	if kind == "" {
		kind = KindForStatus(resp.StatusCode)
	}
	msg := body.Error
	if msg == "" {
		msg = nethttp.StatusText(resp.StatusCode)
	}
	return apperror.New(kind, op, "%s (status %d)", msg, resp.StatusCode)
}

func classifyTransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return apperror.Wrap(apperror.KindTimeout, op, ctxErr)
		}
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Wrap(apperror.KindTimeout, op, err)
	}
	return apperror.Wrap(apperror.KindNetworkError, op, err)
}

// KindForStatus maps an HTTP status without a typed body to an error kind
func KindForStatus(status int) apperror.Kind {
	switch {
	case status == nethttp.StatusBadRequest || status == nethttp.StatusUnprocessableEntity:
		return apperror.KindValidation
	case status == nethttp.StatusUnauthorized || status == nethttp.StatusForbidden:
		return apperror.KindPermissionDenied
	case status == nethttp.StatusNotFound:
		return apperror.KindNotFound
	case status == nethttp.StatusConflict:
		return apperror.KindAlreadyTaken
	case status == nethttp.StatusGatewayTimeout || status == nethttp.StatusRequestTimeout:
		return apperror.KindTimeout
	case status == nethttp.StatusTooManyRequests || status == nethttp.StatusServiceUnavailable:
		return apperror.KindUnavailable
	case status == nethttp.StatusBadGateway:
		return apperror.KindNetworkError
	default:
		return apperror.KindInternal
	}
}
