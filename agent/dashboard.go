package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"go-tracker/logging"
	"go-tracker/models"
)

// Directory is the part of *Client the dashboard reads from.
type Directory interface {
	Me(ctx context.Context) (*models.User, error)
	Users(ctx context.Context) ([]models.User, error)
}

// Dashboard renders the signed-in user, tracking status, located users and
// the full directory as text.
type Dashboard struct {
	dir      Directory
	out      io.Writer
	interval time.Duration
	status   func() TrackerStatus
	refresh  chan struct{}

	mu    sync.Mutex
	me    *models.User
	users []models.User
}

// NewDashboard writes to out. status may be nil when no tracker runs.
// interval defaults to 30s.
func NewDashboard(dir Directory, out io.Writer, interval time.Duration, status func() TrackerStatus) *Dashboard {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Dashboard{
		dir:      dir,
		out:      out,
		interval: interval,
		status:   status,
		refresh:  make(chan struct{}, 1),
	}
}

// Refresh asks a running dashboard to re-fetch now.
func (d *Dashboard) Refresh() {
	select {
	case d.refresh <- struct{}{}:
	default:
	}
}

// Run fetches and renders on start, on every tick, on every broadcast and on
// Refresh. updates may be nil. A closed updates channel stops the broadcast
// trigger but not the dashboard.
func (d *Dashboard) Run(ctx context.Context, updates <-chan models.LocationUpdate) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.reload(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.reload(ctx)
		case <-d.refresh:
			d.reload(ctx)
		case ev, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			logging.Debug().Str("user_id", ev.UserID).Msg("location broadcast received")
			d.reload(ctx)
		}
	}
}

func (d *Dashboard) reload(ctx context.Context) {
	if err := d.Load(ctx); err != nil {
		fmt.Fprintf(d.out, "! refresh failed: %v (showing previous data)\n", err)
	}
	d.Render(d.out)
}

// Load fetches the profile and directory. On error the previous state is kept.
func (d *Dashboard) Load(ctx context.Context) error {
	me, err := d.dir.Me(ctx)
	if err != nil {
		return err
	}
	users, err := d.dir.Users(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.me, d.users = me, users
	d.mu.Unlock()
	return nil
}

// Render writes the current state to w.
func (d *Dashboard) Render(w io.Writer) {
	d.mu.Lock()
	me, users := d.me, d.users
	d.mu.Unlock()

	var b strings.Builder
	if me != nil {
		fmt.Fprintf(&b, "== %s <%s> ==\n", me.Name, me.Email)
	} else {
		b.WriteString("== not loaded ==\n")
	}

	if d.status != nil {
		writeTrackingStatus(&b, d.status())
	}

	if me != nil {
		if me.HasLocation() {
			fmt.Fprintf(&b, "Location: %s (%s)", placeLabel(me.Location), coords(me.Location))
			if me.Location.LastUpdated != nil {
				fmt.Fprintf(&b, " updated %s", me.Location.LastUpdated.Local().Format(time.DateTime))
			}
			b.WriteString("\n")
		} else {
			b.WriteString("Location: not shared yet\n")
		}
	}

	var located []models.User
	for _, u := range users {
		if u.HasLocation() {
			located = append(located, u)
		}
	}
	fmt.Fprintf(&b, "\nMap (%d markers)\n", len(located))
	for _, u := range located {
		fmt.Fprintf(&b, "  * %s @ %s %s\n", u.Name, coords(u.Location), placeLabel(u.Location))
	}

	fmt.Fprintf(&b, "\nUsers (%d)\n", len(users))
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tEMAIL\tSTATUS\tLOCATION\tLAST SEEN")
	for _, u := range users {
		status := "offline"
		if u.IsOnline {
			status = "online"
		}
		lastSeen := "-"
		if u.LastSeen != nil {
			lastSeen = u.LastSeen.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Name, u.Email, status, placeLabel(u.Location), lastSeen)
	}
	_ = tw.Flush()

	_, _ = io.WriteString(w, b.String())
}

func writeTrackingStatus(b *strings.Builder, st TrackerStatus) {
	state := "inactive"
	if st.Active {
		state = "active"
	}
	fmt.Fprintf(b, "Tracking: %s (%d updates)\n", state, st.Updates)
	r := st.LastReport
	if r == nil {
		return
	}
	switch {
	case r.Err != nil:
		fmt.Fprintf(b, "  last attempt %s failed: %v\n", r.At.Local().Format(time.TimeOnly), r.Err)
	case r.Warning != "":
		fmt.Fprintf(b, "  warning: %s\n", r.Warning)
	}
}

func placeLabel(loc models.Location) string {
	if loc.Latitude == nil {
		return "-"
	}
	var parts []string
	for _, p := range []*string{loc.City, loc.State, loc.Country} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, ", ")
}

func coords(loc models.Location) string {
	if loc.Latitude == nil || loc.Longitude == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f, %.5f", *loc.Latitude, *loc.Longitude)
}
