package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"amzym.dev/livetrack/internal/metrics"
	"amzym.dev/livetrack/internal/track"
)

type ErrorKind int

const (
	HttpError ErrorKind = iota
	InvalidPayload
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case HttpError:
		return "http_error"
	case InvalidPayload:
		return "invalid_payload"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is any failure to obtain a usable reading from the GPS provider.
// A 2xx response with a missing or non-numeric coordinate is a fetch
// failure, not a valid "no movement" result.
type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ClientConfig struct {
	URL     string
	Timeout time.Duration
}

// Client is the proxy to the third-party GPS provider. The provider's raw
// field names (lat/lon) never leave this package.
type Client struct {
	hc  *http.Client
	url string
	log log.Logger
}

func NewClient(config *ClientConfig) *Client {
	c := &Client{}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "gps-upstream").Value()
	c.url = config.URL
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	c.hc = &http.Client{Timeout: timeout}
	return c
}

// provider payload, field names are the provider's own
type reading struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Timestamp int64    `json:"timestamp"`
}

// FetchCurrent issues one GET to the provider and normalizes the reading
// into the canonical event shape. The request is bounded by the client
// timeout and the passed context, whichever ends first.
func (c *Client) FetchCurrent(ctx context.Context) (track.LocationEvent, error) {
	t0 := time.Now()
	ev, err := c.fetch(ctx)
	metrics.ObserveUpstreamFetch(t0)
	if err != nil {
		uerr := &Error{}
		if errors.As(err, &uerr) {
			metrics.UpstreamFailures.WithLabelValues(uerr.Kind.String()).Inc()
		}
		return track.LocationEvent{}, err
	}
	return ev, nil
}

func (c *Client) fetch(ctx context.Context) (track.LocationEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return track.LocationEvent{}, &Error{Kind: HttpError, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "livetrack-location/1.0")
	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return track.LocationEvent{}, &Error{Kind: Timeout, Err: err}
		}
		return track.LocationEvent{}, &Error{Kind: HttpError, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return track.LocationEvent{}, &Error{Kind: HttpError, Status: resp.StatusCode,
			Err: fmt.Errorf("provider returned %s", resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return track.LocationEvent{}, &Error{Kind: Timeout, Err: err}
		}
		return track.LocationEvent{}, &Error{Kind: HttpError, Err: err}
	}
	raw := reading{}
	err = json.Unmarshal(body, &raw)
	if err != nil {
		return track.LocationEvent{}, &Error{Kind: InvalidPayload, Err: err}
	}
	if raw.Lat == nil || raw.Lon == nil {
		return track.LocationEvent{}, &Error{Kind: InvalidPayload, Err: errors.New("lat/lon missing from provider payload")}
	}
	ev := track.LocationEvent{Latitude: *raw.Lat, Longitude: *raw.Lon, Timestamp: raw.Timestamp}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UTC().UnixMilli()
	}
	err = track.Validate(ev)
	if err != nil {
		return track.LocationEvent{}, &Error{Kind: InvalidPayload, Err: err}
	}
	return ev, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
