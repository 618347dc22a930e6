package trail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/r15huu/HikeMates/internal/apperr"
	"github.com/r15huu/HikeMates/internal/config"
)

const (
	upstreamNominatim = "nominatim"
	upstreamOverpass  = "overpass"

	geocodeLimit = 5
)

type ClientConfig struct {
	NominatimURL string
	OverpassURL  string
	UserAgent    string
	Referer      string

	GeocodeTimeout time.Duration
	SearchTimeout  time.Duration
	// Retries is the number of extra attempts after a 429, a 5xx or a
	// connection failure. The n-th retry waits Backoff * 2^(n-1).
	Retries int
	Backoff time.Duration

	HTTPClient *http.Client
}

func DefaultClientConfig(cfg config.Config) ClientConfig {
	return ClientConfig{
		NominatimURL:   cfg.NominatimURL,
		OverpassURL:    cfg.OverpassURL,
		UserAgent:      cfg.OSMUserAgent,
		Referer:        cfg.FrontendURL,
		GeocodeTimeout: 25 * time.Second,
		SearchTimeout:  30 * time.Second,
		Retries:        2,
		Backoff:        600 * time.Millisecond,
	}
}

// Client talks to the OpenStreetMap geocoding and Overpass APIs.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 8 * time.Second}).DialContext,
				TLSHandshakeTimeout: 8 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		}
	}
	return &Client{cfg: cfg, http: hc}
}

// upstreamMessages holds the user-facing text per failure class.
type upstreamMessages struct {
	blocked     string
	rateLimited string
	timeout     string
	unavailable string
}

var geocodeMessages = upstreamMessages{
	blocked: "Geocoding blocked (403) by Nominatim. Set a real OSM_USER_AGENT with contact info " +
		"and try again. Example: 'HikeMates/1.0 (dev; contact: your@email.com)'.",
	rateLimited: "Geocoding rate-limited. Try again in a few seconds.",
	timeout:     "Geocoding timed out. Try again.",
	unavailable: "Geocoding service unavailable right now.",
}

var searchMessages = upstreamMessages{
	blocked:     "Trail search service unavailable right now.",
	rateLimited: "Trail data rate-limited. Try again in a few seconds.",
	timeout:     "Trail search timed out. Try again.",
	unavailable: "Trail search service unavailable right now.",
}

func (c *Client) Geocode(ctx context.Context, q string) ([]Place, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(geocodeLimit))
	target := c.cfg.NominatimURL + "?" + params.Encode()

	body, err := c.do(ctx, c.cfg.GeocodeTimeout, geocodeMessages, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Referer", c.cfg.Referer)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	places := make([]Place, 0)
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, geocodeMessages.unavailable)
	}
	return places, nil
}

// Search fetches paths, footways and hiking relations around the point.
// Elements come back unsorted and without distances.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]overpassElement, error) {
	form := url.Values{}
	form.Set("data", overpassQuery(q))
	payload := form.Encode()

	body, err := c.do(ctx, c.cfg.SearchTimeout, searchMessages, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OverpassURL, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, searchMessages.unavailable)
	}
	return resp.Elements, nil
}

func overpassQuery(q SearchQuery) string {
	around := fmt.Sprintf("around:%d,%s,%s", q.Radius,
		strconv.FormatFloat(q.Lat, 'f', -1, 64), strconv.FormatFloat(q.Lon, 'f', -1, 64))
	return fmt.Sprintf(`[out:json][timeout:25];
(
  way(%[1]s)["highway"="path"];
  way(%[1]s)["highway"="footway"];
  relation(%[1]s)["route"="hiking"];
);
out center tags;`, around)
}

// do runs the request with retries and maps every failure to an apperr kind.
func (c *Client) do(ctx context.Context, timeout time.Duration, msgs upstreamMessages,
	newRequest func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.cfg.Backoff<<(attempt-1)); err != nil {
				return nil, classify(err, msgs)
			}
		}

		body, status, err := c.attempt(ctx, timeout, newRequest)
		if err != nil {
			if isTimeout(err) || ctx.Err() != nil {
				return nil, classify(err, msgs)
			}
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			lastErr = statusError(status, msgs)
			continue
		}
		if status != http.StatusOK {
			return nil, statusError(status, msgs)
		}
		return body, nil
	}
	return nil, classify(lastErr, msgs)
}

func (c *Client) attempt(ctx context.Context, timeout time.Duration,
	newRequest func(context.Context) (*http.Request, error)) ([]byte, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := newRequest(ctx)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func statusError(status int, msgs upstreamMessages) error {
	cause := fmt.Errorf("upstream status %d", status)
	switch status {
	case http.StatusForbidden:
		return apperr.Wrap(cause, apperr.KindUnavailable, msgs.blocked)
	case http.StatusTooManyRequests:
		return apperr.Wrap(cause, apperr.KindRateLimited, msgs.rateLimited)
	default:
		return apperr.Wrap(cause, apperr.KindUnavailable, msgs.unavailable)
	}
}

func classify(err error, msgs upstreamMessages) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if isTimeout(err) {
		return apperr.Wrap(err, apperr.KindTimeout, msgs.timeout)
	}
	return apperr.Wrap(err, apperr.KindUnavailable, msgs.unavailable)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
