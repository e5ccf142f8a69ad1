package owm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	maxBodyBytes  = 4 << 20
	maxRetryDelay = 30 * time.Second
	opFetch       = "fetch"
)

// envelopeSchema is the minimum shape a forecast response must have before
// entries are handed to the extractor. Entries themselves are checked one by
// one so a single bad step does not discard the whole forecast.
const envelopeSchema = `{
  "type": "object",
  "required": ["list"],
  "properties": {
    "list": {"type": "array"},
    "city": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "country": {"type": "string"},
        "timezone": {"type": "integer"}
      }
    }
  }
}`

// Options configures a Client.
type Options struct {
	APIKey        string
	BaseURL       string
	Lang          string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	RateLimit     float64 // requests per second
}

// Client implements domain.ForecastSource using the OpenWeatherMap forecast API.
type Client struct {
	apiKey     string
	baseURL    string
	lang       string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	attempts   int
	retryDelay time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a forecast client.
func NewClient(opts Options, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("owm: api key is not configured")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		lang:       opts.Lang,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openweathermap",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool { return !upstreamFault(err) },
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		attempts:   opts.RetryAttempts,
		retryDelay: opts.RetryDelay,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

var envelope = mustCompileEnvelope()

func mustCompileEnvelope() *jsonschema.Schema {
	schema, err := compileEnvelope()
	if err != nil {
		panic(fmt.Sprintf("owm: compile envelope schema: %v", err))
	}
	return schema
}

func compileEnvelope() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("forecast-envelope.json", strings.NewReader(envelopeSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("forecast-envelope.json")
}

// FetchForecast requests the forecast for query, retrying timeouts,
// connection failures, rate limiting and server errors with exponential
// backoff. Every failure is a *domain.Error.
func (c *Client) FetchForecast(ctx context.Context, query string) (domain.ForecastResponse, error) {
	params := url.Values{
		"q":     {query},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	if c.lang != "" {
		params.Set("lang", c.lang)
	}
	fullURL := c.baseURL + "/forecast?" + params.Encode()

	var lastErr *domain.Error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(c.retryDelay, attempt)
			c.logger.Warn("retrying forecast request",
				zap.String("query", query),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if !sharedretry.SleepWithContext(ctx, delay) {
				return domain.ForecastResponse{}, contextError(ctx.Err())
			}
		}

		resp, err := c.attempt(ctx, fullURL)
		if err == nil {
			c.metrics.UpstreamRequests.WithLabelValues("success").Inc()
			return resp, nil
		}
		lastErr = err
		c.metrics.UpstreamRequests.WithLabelValues(outcome(err)).Inc()
		if !retryable(err) {
			break
		}
	}
	return domain.ForecastResponse{}, lastErr
}

func (c *Client) attempt(ctx context.Context, fullURL string) (domain.ForecastResponse, *domain.Error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ForecastResponse{}, contextError(err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, derr := c.doRequest(ctx, fullURL)
		if derr != nil {
			return nil, derr
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ForecastResponse{}, &domain.Error{
				Kind:  domain.KindAPI,
				Op:    opFetch,
				Index: -1,
				Msg:   "circuit breaker open",
				Err:   err,
			}
		}
		var de *domain.Error
		if errors.As(err, &de) {
			return domain.ForecastResponse{}, de
		}
		return domain.ForecastResponse{}, domain.Wrap(domain.KindUnknown, opFetch, err)
	}

	body, ok := result.([]byte)
	if !ok {
		return domain.ForecastResponse{}, domain.Errorf(domain.KindUnknown, opFetch, "unexpected result type %T", result)
	}
	return decode(body)
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, *domain.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnknown, opFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// DecodeForecast validates a forecast response body against the envelope
// schema and decodes it. Failures are KindMalformedResponse.
func DecodeForecast(body []byte) (domain.ForecastResponse, error) {
	resp, err := decode(body)
	if err != nil {
		return resp, err
	}
	return resp, nil
}

func decode(body []byte) (domain.ForecastResponse, *domain.Error) {
	malformed := func(msg string, err error) *domain.Error {
		return &domain.Error{Kind: domain.KindMalformedResponse, Op: opFetch, Index: -1, Msg: msg, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.ForecastResponse{}, malformed("response is not valid JSON", err)
	}
	if err := envelope.Validate(doc); err != nil {
		return domain.ForecastResponse{}, malformed("unexpected response shape", err)
	}

	obj := doc.(map[string]any)
	out := domain.ForecastResponse{Entries: obj["list"].([]any)}
	if city, ok := obj["city"].(map[string]any); ok {
		info := &domain.CityInfo{}
		info.Name, _ = city["name"].(string)
		info.Country, _ = city["country"].(string)
		if tz, ok := city["timezone"].(json.Number); ok {
			if n, err := tz.Int64(); err == nil {
				info.Timezone = int(n)
			}
		}
		out.City = info
	}
	return out, nil
}

// apiMessage is the error body OpenWeatherMap returns with non-2xx statuses.
type apiMessage struct {
	Message string `json:"message"`
}

func statusError(status int, body []byte) *domain.Error {
	var kind domain.Kind
	switch {
	case status == http.StatusUnauthorized:
		kind = domain.KindAuth
	case status == http.StatusNotFound:
		kind = domain.KindNotFound
	case status == http.StatusTooManyRequests:
		kind = domain.KindRateLimit
	default:
		kind = domain.KindAPI
	}
	msg := http.StatusText(status)
	var m apiMessage
	if json.Unmarshal(body, &m) == nil && m.Message != "" {
		msg = m.Message
	}
	return &domain.Error{Kind: kind, Op: opFetch, Status: status, Index: -1, Msg: msg}
}

func transportError(err error) *domain.Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &domain.Error{Kind: domain.KindTimeout, Op: opFetch, Index: -1, Msg: "request timed out", Err: err}
	}
	return &domain.Error{Kind: domain.KindConnection, Op: opFetch, Index: -1, Msg: "cannot reach forecast service", Err: err}
}

func contextError(err error) *domain.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.Error{Kind: domain.KindTimeout, Op: opFetch, Index: -1, Msg: "request timed out", Err: err}
	}
	return &domain.Error{Kind: domain.KindConnection, Op: opFetch, Index: -1, Msg: "request canceled", Err: err}
}

// upstreamFault reports whether err says the service itself is unhealthy.
// Answers about the request (bad key, unknown city, rate limiting) do not
// count against the circuit breaker.
func upstreamFault(err error) bool {
	if err == nil {
		return false
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		return true
	}
	switch de.Kind {
	case domain.KindTimeout, domain.KindConnection:
		return true
	case domain.KindAPI:
		return de.Status == 0 || de.Status >= 500
	default:
		return false
	}
}

func retryable(err *domain.Error) bool {
	if err.Kind.Retryable() {
		return true
	}
	return err.Kind == domain.KindAPI && err.Status >= 500
}

func outcome(err *domain.Error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "circuit_open"
	}
	return err.Kind.String()
}

// backoff doubles base per retry and adds up to 50% jitter.
// backoff doubles base for every retry after the first, capped at
// maxRetryDelay, and adds up to half again as jitter.
func backoff(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < retry; i++ {
		d = sharedretry.NextBackoff(d, maxRetryDelay)
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}
