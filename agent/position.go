// Package agent is the client side of the tracker: it acquires a position,
// resolves a place name, submits it to the server and renders the directory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("position request timed out")
)

// Fix is one position reading. Accuracy is the radius in metres.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	At        time.Time
}

// PositionSource yields the device's current position. Errors wrap one of
// ErrPermissionDenied, ErrPositionUnavailable or ErrTimeout.
type PositionSource interface {
	Position(ctx context.Context) (Fix, error)
}

// StaticSource always reports the same coordinates.
type StaticSource struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

func (s StaticSource) Position(context.Context) (Fix, error) {
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return Fix{}, fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrPositionUnavailable, s.Latitude, s.Longitude)
	}
	return Fix{Latitude: s.Latitude, Longitude: s.Longitude, Accuracy: s.Accuracy, At: time.Now()}, nil
}

const (
	IPAPIURL = "http://ip-api.com/json/"
	// ipAccuracy is a city-level radius.
	ipAccuracy = 5000
)

// IPSource estimates the position from the public IP address.
type IPSource struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func NewIPSource() *IPSource {
	return &IPSource{URL: IPAPIURL, Client: http.DefaultClient, Timeout: 10 * time.Second}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (s *IPSource) Position(ctx context.Context) (Fix, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fix{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Fix{}, fmt.Errorf("%w: lookup returned %s", ErrPermissionDenied, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return Fix{}, fmt.Errorf("%w: lookup returned %s", ErrPositionUnavailable, resp.Status)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fix{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Fix{}, fmt.Errorf("%w: decode: %v", ErrPositionUnavailable, err)
	}
	if body.Status != "success" {
		return Fix{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, body.Message)
	}
	return Fix{Latitude: body.Lat, Longitude: body.Lon, Accuracy: ipAccuracy, At: time.Now()}, nil
}

// PositionErrorKind names the failure class for display.
func PositionErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission denied"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPositionUnavailable):
		return "position unavailable"
	default:
		return "error"
	}
}
