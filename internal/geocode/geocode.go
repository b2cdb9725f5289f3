// Package geocode resolves coordinates to street addresses through a
// Nominatim-compatible reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoAddress is returned when the answer has no usable street.
var ErrNoAddress = errors.New("no street in geocoder response")

// limiter caps lookups at one per second across the whole process, as
// required by the public Nominatim usage policy.
var limiter = rate.NewLimiter(rate.Every(time.Second), 1)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Place is the structured part of a reverse lookup answer.
type Place struct {
	Road        string `json:"road"`
	HouseNumber string `json:"house_number"`
}

// Address formats the place as "road, house", or just the road when the
// house number is unknown.
func (p Place) Address() string {
	if p.HouseNumber == "" {
		return p.Road
	}
	return p.Road + ", " + p.HouseNumber
}

type reverseResponse struct {
	Address Place  `json:"address"`
	Error   string `json:"error"`
}

// Client performs reverse lookups.
type Client struct {
	client    HTTPClient
	base      string
	userAgent string
	limiter   *rate.Limiter
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter replaces the process-wide limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a Client for the service at baseURL.
func New(client HTTPClient, baseURL, userAgent string, opts ...Option) *Client {
	c := &Client{
		client:    client,
		base:      strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		limiter:   limiter,
		timeout:   10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reverse looks up the place at lat, lon.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Place{}, fmt.Errorf("wait for rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("accept-language", "ru")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Place{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return Place{}, fmt.Errorf("geocoder: %s", out.Error)
	}
	if out.Address.Road == "" {
		return Place{}, ErrNoAddress
	}
	return out.Address, nil
}

// Coordinates formats a position as the fallback address text.
func Coordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + ", " + strconv.FormatFloat(lon, 'f', 6, 64)
}
