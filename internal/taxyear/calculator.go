// Package taxyear computes fiscal year reporting windows.
package taxyear

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/freelance-manager/freelance-api/internal/shared"
)

// Rule fixes the month/day the fiscal year starts on and the month/day of the
// following year it ends on.
type Rule struct {
	StartMonth time.Month
	StartDay   int
	EndMonth   time.Month
	EndDay     int
}

// DefaultRule is the 6 April to 5 April fiscal year.
var DefaultRule = Rule{StartMonth: time.April, StartDay: 6, EndMonth: time.April, EndDay: 5}

// Validate ensures the rule describes real calendar days.
func (r Rule) Validate() error {
	if r.StartMonth < time.January || r.StartMonth > time.December {
		return fmt.Errorf("taxyear: invalid start month %d", r.StartMonth)
	}
	if r.EndMonth < time.January || r.EndMonth > time.December {
		return fmt.Errorf("taxyear: invalid end month %d", r.EndMonth)
	}
	if r.StartDay < 1 || r.StartDay > daysIn(r.StartMonth) {
		return fmt.Errorf("taxyear: invalid start day %d", r.StartDay)
	}
	if r.EndDay < 1 || r.EndDay > daysIn(r.EndMonth) {
		return fmt.Errorf("taxyear: invalid end day %d", r.EndDay)
	}
	return nil
}

// daysIn uses a leap year so 29 February stays a valid rule day.
func daysIn(m time.Month) int {
	return time.Date(2000, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Label renders the window as "2015-2016".
func (w Window) Label() string {
	return fmt.Sprintf("%d-%d", w.Start.Year(), w.End.Year())
}

// ShiftYears moves both boundaries by n calendar years.
func (w Window) ShiftYears(n int) Window {
	return Window{Start: w.Start.AddDate(n, 0, 0), End: w.End.AddDate(n, 0, 0)}
}

// Calculator computes fiscal windows. It holds no mutable state.
type Calculator struct {
	rule Rule
	loc  *time.Location
}

// NewCalculator builds a Calculator reading wall-clock dates in loc. A nil loc
// means time.Local.
func NewCalculator(rule Rule, loc *time.Location) (*Calculator, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{rule: rule, loc: loc}, nil
}

// MustCalculator is NewCalculator for static configuration.
func MustCalculator(rule Rule, loc *time.Location) *Calculator {
	calc, err := NewCalculator(rule, loc)
	if err != nil {
		panic(err)
	}
	return calc
}

// Rule returns the configured rule.
func (c *Calculator) Rule() Rule {
	return c.rule
}

// Location returns the zone wall-clock dates are read in.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Wall returns now as a UTC instant carrying the reference wall-clock fields.
func (c *Calculator) Wall(now time.Time) time.Time {
	return Normalize(now.In(c.loc))
}

// Current returns the fiscal window containing now. The start boundary is
// inclusive so now == start belongs to the new year.
func (c *Calculator) Current(now time.Time) Window {
	wall := c.Wall(now)
	year := wall.Year()
	if !wall.Before(c.start(year)) {
		return c.Specified(year)
	}
	return c.Specified(year - 1)
}

// Previous returns Current(now) shifted back one calendar year.
func (c *Calculator) Previous(now time.Time) Window {
	return c.Current(now).ShiftYears(-1)
}

// Specified returns the fiscal window starting in year.
func (c *Calculator) Specified(year int) Window {
	return Window{Start: c.start(year), End: c.end(year + 1)}
}

func (c *Calculator) start(year int) time.Time {
	return Normalize(time.Date(year, c.rule.StartMonth, c.rule.StartDay, 0, 0, 0, 0, c.loc))
}

func (c *Calculator) end(year int) time.Time {
	return Normalize(time.Date(year, c.rule.EndMonth, c.rule.EndDay, 0, 0, 0, 0, c.loc))
}

// Normalize removes the zone offset from t so the returned UTC instant carries
// the same wall-clock fields t had in its own location.
func Normalize(t time.Time) time.Time {
	_, offset := t.Zone()
	return t.Add(time.Duration(offset) * time.Second).UTC()
}

// ParseYear validates an explicit year parameter.
func ParseYear(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, shared.Validation("tax year not specified")
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1900 || year > 9999 {
		return 0, shared.Validation("tax year %q invalid", raw)
	}
	return year, nil
}
