// Package geo resolves coordinates to a coarse place name through Nominatim.
package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-tracker/logging"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

const (
	// NominatimURL is the public OpenStreetMap instance.
	NominatimURL = "https://nominatim.openstreetmap.org"

	// UnknownPlace is reported when the lookup fails.
	UnknownPlace = "Unknown"
)

// Place is a coarse human-readable location.
type Place struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Service reverse-geocodes coordinates. It is safe for concurrent use.
type Service struct {
	baseURL   string
	userAgent string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[Place]
}

// New fills unset Config fields with defaults.
func New(cfg Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = NominatimURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "go-tracker"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	breaker := gobreaker.NewCircuitBreaker[Place](gobreaker.Settings{
		Name:        "nominatim",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Service{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    client,
		breaker:   breaker,
	}
}

// Reverse never fails: any lookup error yields a Place with City "Unknown".
func (s *Service) Reverse(ctx context.Context, lat, lon float64) Place {
	place, err := s.breaker.Execute(func() (Place, error) {
		return s.lookup(ctx, lat, lon)
	})
	if err != nil {
		logging.Debug().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("reverse geocode failed")
		return Place{City: UnknownPlace}
	}
	return place
}

func (s *Service) lookup(ctx context.Context, lat, lon float64) (Place, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/reverse?"+q.Encode(), http.NoBody)
	if err != nil {
		return Place{}, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Place{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var body struct {
		Error   string `json:"error"`
		Address struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			County  string `json:"county"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Place{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if body.Error != "" {
		return Place{}, fmt.Errorf("nominatim: %s", body.Error)
	}

	a := body.Address
	city := firstNonEmpty(a.City, a.Town, a.Village, a.County, UnknownPlace)
	return Place{City: city, State: a.State, Country: a.Country}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
