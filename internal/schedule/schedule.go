package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Push frequency tiers. Each tier has fixed anchor times (UTC) and a
// per-push article cap.
const (
	FrequencyDaily  = "daily"
	FrequencyTwice  = "twice"
	FrequencyThrice = "thrice"
)

const DefaultWindowTolerance = 30 * time.Minute

// ErrUnknownFrequency marks a subscription whose frequency tier is not
// one of the known values. Such subscriptions are skipped and surfaced
// as configuration errors, never silently defaulted.
var ErrUnknownFrequency = errors.New("unknown push frequency")

var (
	dailyAnchors  = []anchor{{8, 0}}
	twiceAnchors  = []anchor{{8, 0}, {20, 0}}
	thriceAnchors = []anchor{{8, 0}, {13, 0}, {20, 0}}

	articleLimits = map[string]int{
		FrequencyDaily:  10,
		FrequencyTwice:  5,
		FrequencyThrice: 3,
	}
)

type anchor struct {
	hour   int
	minute int
}

// Window is one concrete push opportunity: an anchor on a specific day.
type Window struct {
	// Token identifies the window for idempotency checks, formatted
	// as YYYY-MM-DD-HH:MM so the same anchor on different days never
	// collides.
	Token  string
	Anchor time.Time
}

// Scheduler decides whether a moment in time falls inside a push window
// for a given frequency tier. It is pure and safe for concurrent use.
type Scheduler struct {
	tolerance time.Duration
}

func NewScheduler(tolerance time.Duration) *Scheduler {
	if tolerance <= 0 {
		tolerance = DefaultWindowTolerance
	}
	return &Scheduler{tolerance: tolerance}
}

func (s *Scheduler) Tolerance() time.Duration {
	return s.tolerance
}

// CurrentWindow returns the window containing now, if any. A moment is
// inside a window when it is within the tolerance of an anchor, ends
// inclusive.
func (s *Scheduler) CurrentWindow(frequency string, now time.Time) (Window, bool, error) {
	anchors, err := anchorsFor(frequency)
	if err != nil {
		return Window{}, false, err
	}

	// An early-morning run can fall inside the previous day's last
	// window, so check yesterday's anchors too.
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		for _, a := range anchors {
			anchorTime := time.Date(day.Year(), day.Month(), day.Day(), a.hour, a.minute, 0, 0, now.Location())
			diff := now.Sub(anchorTime)
			if diff < 0 {
				diff = -diff
			}
			if diff <= s.tolerance {
				return Window{Token: windowToken(anchorTime), Anchor: anchorTime}, true, nil
			}
		}
	}
	return Window{}, false, nil
}

// NextWindow returns the first window whose anchor is at or after now.
// Used by the preview API to tell users when their next push lands.
func (s *Scheduler) NextWindow(frequency string, now time.Time) (Window, error) {
	anchors, err := anchorsFor(frequency)
	if err != nil {
		return Window{}, err
	}

	for dayOffset := 0; dayOffset <= 1; dayOffset++ {
		day := now.AddDate(0, 0, dayOffset)
		for _, a := range anchors {
			anchorTime := time.Date(day.Year(), day.Month(), day.Day(), a.hour, a.minute, 0, 0, now.Location())
			if !anchorTime.Before(now) {
				return Window{Token: windowToken(anchorTime), Anchor: anchorTime}, nil
			}
		}
	}
	// Unreachable: tomorrow's first anchor is always after now.
	return Window{}, fmt.Errorf("no upcoming window for frequency %q", frequency)
}

// MaxArticles returns the per-push article cap for a frequency tier.
func MaxArticles(frequency string) (int, error) {
	limit, ok := articleLimits[frequency]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}
	return limit, nil
}

// Anchors lists a tier's anchor times as HH:MM strings, for the
// operational API.
func Anchors(frequency string) ([]string, error) {
	anchors, err := anchorsFor(frequency)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, fmt.Sprintf("%02d:%02d", a.hour, a.minute))
	}
	return out, nil
}

func anchorsFor(frequency string) ([]anchor, error) {
	switch frequency {
	case FrequencyDaily:
		return dailyAnchors, nil
	case FrequencyTwice:
		return twiceAnchors, nil
	case FrequencyThrice:
		return thriceAnchors, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}
}

func windowToken(anchorTime time.Time) string {
	return anchorTime.Format("2006-01-02-15:04")
}
