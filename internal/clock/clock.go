package clock

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/daily-challenge/internal/domain"
)

// Clock reports the current time
type Clock interface {
	Now() time.Time
}

// System implements Clock using the system clock
type System struct{}

// Now returns the current time
func (System) Now() time.Time {
	return time.Now()
}

// Fixed is a Clock that always returns the same instant
type Fixed time.Time

// Now returns the fixed instant
func (f Fixed) Now() time.Time {
	return time.Time(f)
}

// Calendar answers period questions in the service's timezone
type Calendar struct {
	clock Clock
	loc   *time.Location
}

// NewCalendar creates a calendar for the named IANA timezone
func NewCalendar(c Clock, timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return &Calendar{clock: c, loc: loc}, nil
}

// Now returns the current time in the service timezone
func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

// Today returns today's date as YYYY-MM-DD
func (c *Calendar) Today() string {
	return c.Now().Format(domain.DateLayout)
}

// Tomorrow returns tomorrow's date as YYYY-MM-DD
func (c *Calendar) Tomorrow() string {
	return c.Now().AddDate(0, 0, 1).Format(domain.DateLayout)
}

// ThisWeek returns the ISO year and week containing today
func (c *Calendar) ThisWeek() (year, week int) {
	return c.Now().ISOWeek()
}

// NextWeek returns the ISO year and week seven days from today
func (c *Calendar) NextWeek() (year, week int) {
	return c.Now().AddDate(0, 0, 7).ISOWeek()
}

// IsFutureDate reports whether date (YYYY-MM-DD) falls strictly after today
func (c *Calendar) IsFutureDate(date string) (bool, error) {
	d, err := time.ParseInLocation(domain.DateLayout, date, c.loc)
	if err != nil {
		return false, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	// Dates compare lexically in this layout.
	return d.Format(domain.DateLayout) > c.Today(), nil
}
