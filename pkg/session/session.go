// Package session maps wall-clock time onto named attendance windows.
//
// Windows are half-open [start, end) intervals of civil time in a fixed
// zone. Any instant outside every window is Closed.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Closed is the name reported outside every window.
const Closed = "CLOSED"

// DateLayout is the civil date format used for attendance events.
const DateLayout = "2006-01-02"

// ErrInvalidWindow is returned for malformed or overlapping windows.
var ErrInvalidWindow = errors.New("invalid session window")

// Clock is a time of day in minutes since midnight, 0..1440.
type Clock int

// ParseClock parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) != 2 || len(m) != 2 {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || mm < 0 || mm > 59 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("%w: %q is not a time of day", ErrInvalidWindow, s)
	}
	return Clock(hh*60 + mm), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is a named daily interval.
type Window struct {
	Name  string
	Start Clock
	End   Clock
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s (%s)", w.Start, w.End, w.Name)
}

// DefaultWindows returns AM 09:00-13:00 and PM 14:00-16:00.
func DefaultWindows() []Window {
	return []Window{
		{Name: "AM", Start: 9 * 60, End: 13 * 60},
		{Name: "PM", Start: 14 * 60, End: 16 * 60},
	}
}

// Resolver resolves instants against a window layout.
type Resolver struct {
	windows  []Window
	location *time.Location
}

// NewResolver validates windows and returns a resolver for loc.
func NewResolver(windows []Window, loc *time.Location) (*Resolver, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no windows configured", ErrInvalidWindow)
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := append([]Window(nil), windows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	seen := make(map[string]bool, len(sorted))
	for i, w := range sorted {
		switch {
		case w.Name == "" || strings.EqualFold(w.Name, Closed):
			return nil, fmt.Errorf("%w: name %q is reserved or empty", ErrInvalidWindow, w.Name)
		case seen[w.Name]:
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidWindow, w.Name)
		case w.Start < 0 || w.End > 24*60 || w.Start >= w.End:
			return nil, fmt.Errorf("%w: %s must start before it ends", ErrInvalidWindow, w)
		case i > 0 && w.Start < sorted[i-1].End:
			return nil, fmt.Errorf("%w: %s overlaps %s", ErrInvalidWindow, w, sorted[i-1])
		}
		seen[w.Name] = true
	}
	return &Resolver{windows: sorted, location: loc}, nil
}

// NewFromConfig builds a resolver from the sessions config section.
func NewFromConfig(c config.SessionsConfig) (*Resolver, error) {
	windows := make([]Window, 0, len(c.Windows))
	for _, wc := range c.Windows {
		start, err := ParseClock(wc.Start)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", wc.Name, err)
		}
		end, err := ParseClock(wc.End)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", wc.Name, err)
		}
		windows = append(windows, Window{Name: wc.Name, Start: start, End: end})
	}
	loc, err := LoadLocation(c.Timezone, c.UTCOffset)
	if err != nil {
		return nil, err
	}
	return NewResolver(windows, loc)
}

// LoadLocation loads the named zone. When the zone database is missing it
// falls back to a fixed zone at offset ("+05:30" style).
func LoadLocation(name, offset string) (*time.Location, error) {
	if name != "" {
		loc, err := time.LoadLocation(name)
		if err == nil {
			return loc, nil
		}
		if offset == "" {
			return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
		}
		logging.Warnf("Timezone %s unavailable (%v), using fixed offset %s", name, err, offset)
	}
	if offset == "" {
		return time.UTC, nil
	}
	secs, err := parseOffset(offset)
	if err != nil {
		return nil, err
	}
	return time.FixedZone("UTC"+offset, secs), nil
}

func parseOffset(s string) (int, error) {
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	c, err := ParseClock(s[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	secs := int(c) * 60
	if s[0] == '-' {
		secs = -secs
	}
	return secs, nil
}

// Location returns the civil zone.
func (r *Resolver) Location() *time.Location {
	return r.location
}

// Windows returns the windows ordered by start.
func (r *Resolver) Windows() []Window {
	return append([]Window(nil), r.windows...)
}

// Current is the window an instant falls in. Start and End are UTC instants
// of the window on the civil day of the instant; both are zero when closed.
type Current struct {
	Name  string
	Open  bool
	Start time.Time
	End   time.Time
	Date  string
	Local time.Time
}

// Resolve returns the window containing now.
func (r *Resolver) Resolve(now time.Time) Current {
	local := now.In(r.location)
	cur := Current{Name: Closed, Date: local.Format(DateLayout), Local: local}

	minute := Clock(local.Hour()*60 + local.Minute())
	for _, w := range r.windows {
		if minute >= w.Start && minute < w.End {
			cur.Name = w.Name
			cur.Open = true
			cur.Start = r.at(local, w.Start)
			cur.End = r.at(local, w.End)
			break
		}
	}
	return cur
}

// at returns the UTC instant of clock c on the civil day of local.
func (r *Resolver) at(local time.Time, c Clock) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), int(c)/60, int(c)%60, 0, 0, r.location).UTC()
}

// ClosedMessage explains that attendance is closed, listing the windows and
// the current civil time.
func (r *Resolver) ClosedMessage(now time.Time) string {
	local := now.In(r.location)
	return fmt.Sprintf("Attendance closed. Open slots: %s. Current time: %s %s",
		r.describeWindows(), local.Format("15:04"), local.Format("MST"))
}

func (r *Resolver) describeWindows() string {
	parts := make([]string, len(r.windows))
	for i, w := range r.windows {
		parts[i] = w.String()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

// Info is the current session as exposed to clients.
type Info struct {
	Session string `json:"session"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
	Date    string `json:"date"`
	Now     string `json:"now"`
	Zone    string `json:"zone"`
	Msg     string `json:"msg,omitempty"`
}

// Info describes the session at now.
func (r *Resolver) Info(now time.Time) Info {
	cur := r.Resolve(now)
	info := Info{
		Session: cur.Name,
		Date:    cur.Date,
		Now:     cur.Local.Format("15:04"),
		Zone:    cur.Local.Format("MST"),
	}
	if !cur.Open {
		info.Msg = "Attendance slots are " + r.describeWindows() + " only"
		return info
	}
	for _, w := range r.windows {
		if w.Name == cur.Name {
			info.Start, info.End = w.Start.String(), w.End.String()
		}
	}
	return info
}
