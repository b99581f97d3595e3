// Command tracker-agent signs in to a go-tracker server, shares this machine's
// location and shows everyone else's.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-tracker/agent"
	"go-tracker/geo"
	"go-tracker/logging"

	"github.com/spf13/cobra"
)

type options struct {
	server    string
	tokenPath string
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "tracker-agent",
		Short:        "Share your location with a go-tracker server",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Init(logging.Config{Level: opts.logLevel, Format: "console"})
		},
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("TRACKER_SERVER", "http://localhost:5000"), "server base URL including any API prefix")
	root.PersistentFlags().StringVar(&opts.tokenPath, "token-file", agent.DefaultTokenPath(), "where the session token is kept")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newLoginCmd(opts), newLogoutCmd(opts), newTrackCmd(opts), newWatchCmd(opts), newUsersCmd(opts))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// authedClient returns a client carrying the saved session token.
func authedClient(opts *options) (*agent.Client, error) {
	token, err := agent.TokenFile{Path: opts.tokenPath}.Load()
	if err != nil {
		return nil, err
	}
	c := agent.NewClient(opts.server, nil)
	c.SetToken(token)
	return c, nil
}

func newLoginCmd(opts *options) *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange a Google ID token for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if idToken == "" {
				idToken = os.Getenv("GOOGLE_ID_TOKEN")
			}
			if idToken == "" {
				return errors.New("--id-token or GOOGLE_ID_TOKEN is required")
			}
			c := agent.NewClient(opts.server, nil)
			token, user, err := c.GoogleLogin(cmd.Context(), idToken)
			if err != nil {
				return err
			}
			if err := (agent.TokenFile{Path: opts.tokenPath}).Save(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Mark yourself offline and forget the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := authedClient(opts)
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				logging.Warn().Err(err).Msg("server logout failed; removing local session anyway")
			}
			if err := (agent.TokenFile{Path: opts.tokenPath}).Remove(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

type trackFlags struct {
	lat, lon, accuracy float64
	useIP              bool
	interval           time.Duration
	minAccuracy        float64
	minGap             time.Duration
	geocode            bool
	nominatimURL       string
}

func (f *trackFlags) register(cmd *cobra.Command) {
	def := agent.DefaultTrackerConfig()
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "fixed latitude")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "fixed longitude")
	cmd.Flags().Float64Var(&f.accuracy, "accuracy", 10, "accuracy of the fixed position in metres")
	cmd.Flags().BoolVar(&f.useIP, "ip", false, "estimate the position from the public IP instead of --lat/--lon")
	cmd.Flags().DurationVar(&f.interval, "interval", def.Interval, "time between updates (0 for once)")
	cmd.Flags().Float64Var(&f.minAccuracy, "min-accuracy", 0, "skip fixes less accurate than this many metres")
	cmd.Flags().DurationVar(&f.minGap, "min-gap", def.MinGap, "minimum time between two submitted updates")
	cmd.Flags().BoolVar(&f.geocode, "geocode", true, "resolve a place name before submitting")
	cmd.Flags().StringVar(&f.nominatimURL, "nominatim-url", geo.NominatimURL, "reverse geocoder base URL")
}

func (f *trackFlags) tracker(c *agent.Client, notify func(agent.Report)) (*agent.Tracker, error) {
	var src agent.PositionSource
	switch {
	case f.useIP:
		src = agent.NewIPSource()
	case f.lat != 0 || f.lon != 0:
		src = agent.StaticSource{Latitude: f.lat, Longitude: f.lon, Accuracy: f.accuracy}
	default:
		return nil, errors.New("choose a position source: --lat/--lon or --ip")
	}
	var gc agent.Geocoder
	if f.geocode {
		gc = geo.New(geo.Config{BaseURL: f.nominatimURL})
	}
	cfg := agent.TrackerConfig{Interval: f.interval, MinAccuracy: f.minAccuracy, MinGap: f.minGap}
	return agent.NewTracker(src, gc, c, cfg, notify), nil
}

func printReport(cmd *cobra.Command) func(agent.Report) {
	return func(r agent.Report) {
		out := cmd.OutOrStdout()
		ts := r.At.Format(time.TimeOnly)
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "%s update failed: %v\n", ts, r.Err)
		case r.Warning != "":
			fmt.Fprintf(out, "%s warning: %s\n", ts, r.Warning)
		default:
			fmt.Fprintf(out, "%s shared %.5f, %.5f (%s)\n", ts, r.Fix.Latitude, r.Fix.Longitude, r.Place.City)
		}
	}
}

func newTrackCmd(opts *options) *cobra.Command {
	var tf trackFlags
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Submit your position now and on an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := authedClient(opts)
			if err != nil {
				return err
			}
			tr, err := tf.tracker(c, printReport(cmd))
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			// SIGUSR1 forces an immediate update.
			go onSignal(ctx, syscall.SIGUSR1, tr.UpdateNow)

			if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	tf.register(cmd)
	return cmd
}

// watchControls acts on the one-letter commands typed while the dashboard runs.
type watchControls struct {
	out     io.Writer
	dash    *agent.Dashboard
	tracker *agent.Tracker
	quit    context.CancelFunc
}

const watchHelp = "keys: u+Enter update my location, Enter refresh, q+Enter quit"

// read consumes commands from in until it is exhausted or q is entered.
func (w watchControls) read(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "", "r":
			w.dash.Refresh()
		case "u":
			w.updateNow()
		case "q":
			w.quit()
			return
		default:
			fmt.Fprintln(w.out, watchHelp)
		}
	}
}

func (w watchControls) updateNow() {
	if w.tracker == nil {
		fmt.Fprintln(w.out, "location sharing is off; restart watch with --track")
		return
	}
	w.tracker.UpdateNow()
}

// onSignal calls fn for every sig until ctx is done.
func onSignal(ctx context.Context, sig os.Signal, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	defer signal.Stop(ch)
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var (
		refresh time.Duration
		track   bool
		tf      trackFlags
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live directory, refreshed on every location broadcast",
		Long: "Show the live directory, refreshed on every location broadcast.\n\n" +
			"While it runs, type u and Enter to share your location now (with --track),\n" +
			"press Enter to refresh the directory and type q and Enter to quit.\n" +
			"SIGUSR1 and SIGUSR2 trigger the same update and refresh.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := authedClient(opts)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			ctx, quit := context.WithCancel(ctx)
			defer quit()

			var (
				tr     *agent.Tracker
				status func() agent.TrackerStatus
			)
			if track {
				status = func() agent.TrackerStatus { return tr.Status() }
			}
			dash := agent.NewDashboard(c, cmd.OutOrStdout(), refresh, status)
			if track {
				tr, err = tf.tracker(c, func(r agent.Report) {
					if r.Err == nil && r.Warning == "" {
						dash.Refresh()
					}
				})
				if err != nil {
					return err
				}
				go func() { _ = tr.Run(ctx) }()
			}

			controls := watchControls{out: cmd.OutOrStdout(), dash: dash, tracker: tr, quit: quit}
			fmt.Fprintln(cmd.OutOrStdout(), watchHelp)
			go controls.read(cmd.InOrStdin())
			go onSignal(ctx, syscall.SIGUSR1, controls.updateNow)
			go onSignal(ctx, syscall.SIGUSR2, dash.Refresh)

			updates, err := c.Subscribe(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("realtime updates unavailable; falling back to periodic refresh")
			}
			if err := dash.Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 30*time.Second, "directory refresh interval")
	cmd.Flags().BoolVar(&track, "track", false, "also share your own position")
	tf.register(cmd)
	return cmd
}

func newUsersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "Print the directory once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := authedClient(opts)
			if err != nil {
				return err
			}
			dash := agent.NewDashboard(c, cmd.OutOrStdout(), 0, nil)
			if err := dash.Load(cmd.Context()); err != nil {
				return err
			}
			dash.Render(cmd.OutOrStdout())
			return nil
		},
	}
}
