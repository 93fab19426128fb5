// Package tsdb talks to the time-series store: windowed "last value" queries
// returned as raw annotated CSV, schema-free extraction of numeric fields
// from that CSV, and single-point writes.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
)

// QueryError is a non-2xx answer to a query.
type QueryError struct {
	Status int
	Body   string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("influx query failed: status %d: %s", e.Status, e.Body)
}

// WriteError is a non-2xx answer to a write.
type WriteError struct {
	Status int
	Body   string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("influx write failed: status %d: %s", e.Status, e.Body)
}

// Client is safe for concurrent use; the serial workers and the bridge loop
// share one.
type Client struct {
	influx influxdb2.Client
	org    string
}

// NewClient connects lazily; no request is made until the first query or write.
func NewClient(url, token, org string, timeout time.Duration) *Client {
	opts := influxdb2.DefaultOptions()
	if timeout > 0 {
		opts.SetHTTPRequestTimeout(timeoutSeconds(timeout))
	}
	return &Client{
		influx: influxdb2.NewClientWithOptions(url, token, opts),
		org:    org,
	}
}

// timeoutSeconds rounds up to whole seconds; the client reads 0 as "no timeout".
func timeoutSeconds(d time.Duration) uint {
	return uint(math.Ceil(d.Seconds()))
}

// Close releases idle connections.
func (c *Client) Close() {
	c.influx.Close()
}

// QueryRaw runs a Flux query and returns the CSV body as-is.
func (c *Client) QueryRaw(ctx context.Context, flux string) (string, error) {
	body, err := c.influx.QueryAPI(c.org).QueryRaw(ctx, flux, api.DefaultDialect())
	if err != nil {
		if status, msg, ok := serviceStatus(err); ok {
			return "", &QueryError{Status: status, Body: msg}
		}
		return "", fmt.Errorf("influx query: %w", err)
	}
	return body, nil
}

// QueryLastValues runs BuildLastValuesQuery and returns the raw CSV.
func (c *Client) QueryLastValues(ctx context.Context, q Query) (string, error) {
	return c.QueryRaw(ctx, BuildLastValuesQuery(q))
}

// ListMeasurements returns up to ten measurement names present in bucket
// over the last 24h.
func (c *Client) ListMeasurements(ctx context.Context, bucket string) ([]string, error) {
	body, err := c.QueryRaw(ctx, BuildMeasurementsQuery(bucket))
	if err != nil {
		return nil, err
	}
	return ExtractColumn(body, valueColumn), nil
}

// WritePoint writes one point with its own request.
func (c *Client) WritePoint(ctx context.Context, bucket, measurement string, fields map[string]any, ts time.Time) error {
	p := influxdb2.NewPoint(measurement, nil, fields, ts)
	if err := c.influx.WriteAPIBlocking(c.org, bucket).WritePoint(ctx, p); err != nil {
		if status, msg, ok := serviceStatus(err); ok {
			return &WriteError{Status: status, Body: msg}
		}
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// serviceStatus extracts the HTTP status of a store error. Transport
// failures carry status 0 and are not service errors.
func serviceStatus(err error) (int, string, bool) {
	var he *ihttp.Error
	if errors.As(err, &he) && he.StatusCode != 0 {
		return he.StatusCode, he.Message, true
	}
	return 0, "", false
}
