package diseasesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Endpoint labels used in logs and metrics.
const (
	endpointAll        = "all"
	endpointCountries  = "countries"
	endpointCountry    = "country"
	endpointHistorical = "historical"
)

// maxBodyBytes bounds upstream payloads; /countries is ~150 KB.
const maxBodyBytes = 8 << 20

// ErrResponseTooLarge is returned when an upstream body exceeds maxBodyBytes.
var ErrResponseTooLarge = errors.New("response too large")

// StatusError is returned for non-200 upstream responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("disease.sh %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client fetches statistics from the disease.sh API. It implements
// tracker.StatsSource and tracker.HistorySource.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a disease.sh client rooted at baseURL
// (e.g. https://disease.sh/v3/covid-19).
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// Worldwide fetches the global totals from /all.
func (c *Client) Worldwide(ctx context.Context) (domain.MetricSet, error) {
	body, err := c.get(ctx, endpointAll, c.baseURL+"/all")
	if err != nil {
		return domain.MetricSet{}, err
	}
	return domain.DecodeWorldwide(body)
}

// Countries fetches every country record from /countries in API order.
func (c *Client) Countries(ctx context.Context) ([]domain.RawRecord, error) {
	body, err := c.get(ctx, endpointCountries, c.baseURL+"/countries")
	if err != nil {
		return nil, err
	}
	return domain.DecodeCountries(body)
}

// Country fetches a single country record by ISO2 code.
func (c *Client) Country(ctx context.Context, code string) (domain.RawRecord, error) {
	u := fmt.Sprintf("%s/countries/%s", c.baseURL, url.PathEscape(code))
	body, err := c.get(ctx, endpointCountry, u)
	if err != nil {
		return domain.RawRecord{}, err
	}
	return domain.DecodeCountry(body)
}

// Historical fetches the worldwide cumulative timeline for the last N days.
func (c *Client) Historical(ctx context.Context, lastDays int) (domain.Timeline, error) {
	params := url.Values{"lastdays": {strconv.Itoa(lastDays)}}
	body, err := c.get(ctx, endpointHistorical, c.baseURL+"/historical/all?"+params.Encode())
	if err != nil {
		return domain.Timeline{}, err
	}
	return domain.DecodeTimeline(body)
}

func (c *Client) get(ctx context.Context, endpoint, fullURL string) ([]byte, error) {
	start := time.Now()
	body, err := c.doRequest(ctx, endpoint, fullURL)
	c.metrics.FetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.Warn("statistics request failed", "endpoint", endpoint, "error", err)
	}
	c.metrics.FetchRequests.WithLabelValues(endpoint, outcome).Inc()
	return body, err
}

func (c *Client) doRequest(ctx context.Context, endpoint, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrResponseTooLarge, endpoint, maxBodyBytes)
	}
	return body, nil
}
