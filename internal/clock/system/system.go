// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports the current time in a fixed location. Quota days and
// scheduled times are evaluated in that location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock for loc; nil means time.Local.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c Clock) Location() *time.Location {
	return c.loc
}

// LoadLocation resolves an IANA zone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err //nolint:wrapcheck // already names the zone
	}
	return loc, nil
}
