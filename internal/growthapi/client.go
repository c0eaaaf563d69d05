package growthapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "growthsync"
)

// connection pooling limits for a client that polls the same host repeatedly
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultKeepAlive           = 30 * time.Second
)

type clientConfig struct {
	token     string
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper
	logger    *slog.Logger
	debug     bool
}

// ClientOption configures a [Client].
type ClientOption func(*clientConfig) error

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) error {
		c.token = token
		return nil
	}
}

// WithTimeout sets the per-request timeout. Defaults to 10s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) error {
		if ua == "" {
			return errors.New("user agent cannot be empty")
		}
		c.userAgent = ua
		return nil
	}
}

// WithTransport replaces the pooled default transport, e.g. with the
// transport of an httptest server.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) error {
		if rt == nil {
			return errors.New("transport cannot be nil")
		}
		c.transport = rt
		return nil
	}
}

// WithClientLogger sets the logger for request tracing.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithDebug dumps full requests and responses at debug level.
func WithDebug(debug bool) ClientOption {
	return func(c *clientConfig) error {
		c.debug = debug
		return nil
	}
}

// Client talks to the growth API. It is safe for concurrent use.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a [Client] for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("base URL must be http(s): %q", baseURL)
	}

	cfg := &clientConfig{
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.transport == nil {
		cfg.transport = newTransport()
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(cfg.timeout).
		SetTransport(cfg.transport).
		SetHeader("User-Agent", cfg.userAgent).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{cfg.logger}).
		SetDebug(cfg.debug)
	if cfg.token != "" {
		r.SetAuthToken(cfg.token)
	}

	c := &Client{http: r, logger: cfg.logger}
	r.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug("api response",
			"method", resp.Request.Method,
			"url", resp.Request.URL,
			"status", resp.StatusCode(),
			"latency", resp.Time().String(),
		)
		return nil
	})
	return c, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAlive,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       defaultMaxConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// GetMeasurement fetches one growth data record.
func (c *Client) GetMeasurement(ctx context.Context, dataID string) (Measurement, error) {
	var env struct {
		Data Measurement `json:"data"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("dataId", dataID).
		SetResult(&env).
		Get("/growth-data/{dataId}")
	if err := check(resp, err); err != nil {
		return Measurement{}, fmt.Errorf("get measurement %s: %w", dataID, err)
	}
	return env.Data, nil
}

// ListMeasurements fetches every growth data record of a baby.
func (c *Client) ListMeasurements(ctx context.Context, babyID string) ([]Measurement, error) {
	var env struct {
		Data  []Measurement `json:"data"`
		Count int           `json:"count"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("babyId", babyID).
		SetResult(&env).
		Get("/growth-data")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list measurements of baby %s: %w", babyID, err)
	}
	return env.Data, nil
}

// GetBaby fetches a baby profile.
func (c *Client) GetBaby(ctx context.Context, babyID string) (Baby, error) {
	var env struct {
		Baby Baby `json:"baby"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("babyId", babyID).
		SetResult(&env).
		Get("/babies/{babyId}")
	if err := check(resp, err); err != nil {
		return Baby{}, fmt.Errorf("get baby %s: %w", babyID, err)
	}
	return env.Baby, nil
}

// UpdateMeasurement writes patch to a growth data record.
func (c *Client) UpdateMeasurement(ctx context.Context, dataID string, patch MeasurementPatch) (MeasurementUpdate, error) {
	var out MeasurementUpdate
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("dataId", dataID).
		SetBody(patch).
		SetResult(&out).
		Put("/growth-data/{dataId}")
	if err := check(resp, err); err != nil {
		return MeasurementUpdate{}, fmt.Errorf("update measurement %s: %w", dataID, err)
	}
	return out, nil
}

// UpdateBaby writes patch to a baby profile.
func (c *Client) UpdateBaby(ctx context.Context, babyID string, patch BabyPatch) (BabyUpdate, error) {
	var out BabyUpdate
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("babyId", babyID).
		SetBody(patch).
		SetResult(&out).
		Patch("/babies/{babyId}")
	if err := check(resp, err); err != nil {
		return BabyUpdate{}, fmt.Errorf("update baby %s: %w", babyID, err)
	}
	if out.Mode == "" {
		out.Mode = ModeNone
	}
	return out, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return newAPIError(resp)
	}
	return nil
}

// restyLogger routes resty's own diagnostics into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}
