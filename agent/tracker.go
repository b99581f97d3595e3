package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-tracker/geo"
	"go-tracker/logging"
	"go-tracker/models"

	"golang.org/x/time/rate"
)

// ErrThrottled is reported when a manual update comes sooner than MinGap after the last one.
var ErrThrottled = errors.New("update skipped: too soon after the previous one")

// Geocoder turns coordinates into a place. *geo.Service satisfies it.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) geo.Place
}

// LocationSubmitter is the part of *Client the tracker needs.
type LocationSubmitter interface {
	UpdateLocation(ctx context.Context, in models.LocationInput) (*models.User, error)
}

type TrackerConfig struct {
	// Interval between scheduled updates. Zero disables the schedule;
	// only the initial and manual updates run.
	Interval time.Duration
	// MinAccuracy skips fixes whose radius in metres is larger. Zero accepts all.
	MinAccuracy float64
	// MinGap is the minimum spacing between a manual update and the update
	// before it. Scheduled updates are never throttled.
	MinGap time.Duration
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{Interval: 5 * time.Minute, MinGap: 10 * time.Second}
}

// Report describes the outcome of one update attempt.
type Report struct {
	At      time.Time
	Fix     *Fix
	Place   geo.Place
	User    *models.User
	Warning string
	Err     error
}

// TrackerStatus is a snapshot for display.
type TrackerStatus struct {
	Active     bool
	LastReport *Report
	Updates    int
}

// Tracker acquires positions and submits them on a schedule.
type Tracker struct {
	source  PositionSource
	geo     Geocoder
	api     LocationSubmitter
	cfg     TrackerConfig
	limiter *rate.Limiter
	manual  chan struct{}
	notify  func(Report)

	mu     sync.RWMutex
	status TrackerStatus
}

// NewTracker wires a tracker. geo may be nil, in which case no place is sent.
// notify, when set, is called after every attempt from the tracker goroutine.
func NewTracker(source PositionSource, geo Geocoder, api LocationSubmitter, cfg TrackerConfig, notify func(Report)) *Tracker {
	limit := rate.Inf
	if cfg.MinGap > 0 {
		limit = rate.Every(cfg.MinGap)
	}
	return &Tracker{
		source:  source,
		geo:     geo,
		api:     api,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		manual:  make(chan struct{}, 1),
		notify:  notify,
	}
}

// Run submits one update immediately, then one per Interval and one per
// UpdateNow call, until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if t.cfg.Interval > 0 {
		ticker := time.NewTicker(t.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	t.attempt(ctx, false)
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.status.Active = false
			t.mu.Unlock()
			return ctx.Err()
		case <-tick:
			t.attempt(ctx, false)
		case <-t.manual:
			t.attempt(ctx, true)
		}
	}
}

// UpdateNow asks the running tracker for an immediate update. Requests made
// while one is already pending are merged.
func (t *Tracker) UpdateNow() {
	select {
	case t.manual <- struct{}{}:
	default:
	}
}

func (t *Tracker) Status() TrackerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Tracker) attempt(ctx context.Context, manual bool) {
	r := t.update(ctx, manual)

	t.mu.Lock()
	switch {
	case r.Err == nil && r.Warning == "":
		t.status.Active = true
		t.status.Updates++
	case r.Err != nil && !errors.Is(r.Err, ErrThrottled):
		// Position or submit failure leaves tracking inactive until the next attempt succeeds.
		t.status.Active = false
	}
	t.status.LastReport = &r
	t.mu.Unlock()

	log := logging.Info()
	switch {
	case r.Err != nil:
		log = logging.Warn().Err(r.Err)
	case r.Warning != "":
		log = logging.Warn().Str("warning", r.Warning)
	}
	log.Str("component", "tracker").Bool("manual", manual).Msg("location update attempt")

	if t.notify != nil {
		t.notify(r)
	}
}

// update runs one acquire, resolve and submit cycle. Every attempt takes a
// limiter token when one is available, but only a manual attempt is refused
// without one.
func (t *Tracker) update(ctx context.Context, manual bool) Report {
	r := Report{At: time.Now()}
	if allowed := t.limiter.Allow(); manual && !allowed {
		r.Err = ErrThrottled
		return r
	}

	fix, err := t.source.Position(ctx)
	if err != nil {
		r.Err = fmt.Errorf("%s: %w", PositionErrorKind(err), err)
		return r
	}
	r.Fix = &fix

	if t.cfg.MinAccuracy > 0 && fix.Accuracy > t.cfg.MinAccuracy {
		r.Warning = fmt.Sprintf("fix accuracy %.0fm is worse than the %.0fm threshold; update skipped", fix.Accuracy, t.cfg.MinAccuracy)
		return r
	}

	lat, lon := fix.Latitude, fix.Longitude
	in := models.LocationInput{Latitude: &lat, Longitude: &lon}
	if t.geo != nil {
		r.Place = t.geo.Reverse(ctx, lat, lon)
		in.City, in.State, in.Country = r.Place.City, r.Place.State, r.Place.Country
	}

	user, err := t.api.UpdateLocation(ctx, in)
	if err != nil {
		r.Err = fmt.Errorf("submit location: %w", err)
		return r
	}
	r.User = user
	return r
}
