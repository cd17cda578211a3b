package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/shotlog/internal/client"
	"github.com/PratikDhanave/shotlog/internal/logging"
)

var (
	watchMaxPoints int
	watchDayOffset time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live shot feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		pushURL, err := client.PushURL(baseURL)
		if err != nil {
			return fmt.Errorf("parsing --url: %w", err)
		}

		cfg := client.DefaultConfig()
		cfg.MaxPoints = watchMaxPoints
		cfg.DayOffset = watchDayOffset

		httpClient := &http.Client{Timeout: 10 * time.Second}
		r := client.New(cfg,
			&client.HTTPFetcher{BaseURL: baseURL, Client: httpClient},
			&client.WSDialer{URL: pushURL},
		)
		r.OnEvent = func(ev client.Event) {
			e := logging.Debug()
			if ev.Kind == client.EventReconnectScheduled || ev.Kind == client.EventFetchFailed {
				e = logging.Warn()
			}
			e.Str("event", string(ev.Kind)).Str("state", ev.State.String()).Dur("delay", ev.Delay).AnErr("cause", ev.Err).Msg("reconciler")
		}

		var last string
		r.OnChange = func(s client.Snapshot) {
			line := render(s)
			if line != last {
				last = line
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchMaxPoints, "max-points", 200, "points kept in view")
	watchCmd.Flags().DurationVar(&watchDayOffset, "day-offset", 7*time.Hour, "offset from UTC for day keys")
}

type watchLine struct {
	State   string   `json:"state"`
	Points  int      `json:"points"`
	LastID  string   `json:"last_id,omitempty"`
	LastX   float64  `json:"last_x,omitempty"`
	LastSec float64  `json:"last_s,omitempty"`
	DayKey  string   `json:"day,omitempty"`
	Brew    *float64 `json:"brew_counter,omitempty"`
	AvgSec  *float64 `json:"avg_s,omitempty"`
}

func render(s client.Snapshot) string {
	l := watchLine{State: s.State.String(), Points: len(s.Points), Brew: s.Stats.BrewCounter}
	if n := len(s.Points); n > 0 {
		p := s.Points[n-1]
		l.LastID, l.LastX, l.LastSec, l.DayKey = p.ID, p.X, p.Y, p.DayKey
	}
	if s.Stats.AverageVisible() {
		avg := *s.Stats.AvgMs / 1000
		l.AvgSec = &avg
	}

	if jsonOutput {
		b, _ := json.Marshal(l)
		return string(b)
	}
	out := fmt.Sprintf("%-12s %3d pts", l.State, l.Points)
	if l.LastID != "" {
		out += fmt.Sprintf("  #%g %.2fs (%s)", l.LastX, l.LastSec, l.DayKey)
	}
	if l.Brew != nil {
		out += fmt.Sprintf("  brews=%g", *l.Brew)
	}
	if l.AvgSec != nil {
		out += fmt.Sprintf(" avg=%.2fs", *l.AvgSec)
	}
	return out
}
