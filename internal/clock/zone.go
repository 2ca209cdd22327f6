package clock

import (
	"fmt"
	"time"
)

// Zone converts between civil dates, wall clocks and instants in one IANA location.
type Zone struct {
	loc *time.Location
}

// Load resolves an IANA timezone name. Callers treat an error as fatal at startup.
func Load(name string) (*Zone, error) {
	if name == "" {
		return nil, fmt.Errorf("timezone is empty")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Zone{loc: loc}, nil
}

// MustLoad is Load for tests and static configuration.
func MustLoad(name string) *Zone {
	z, err := Load(name)
	if err != nil {
		panic(err)
	}
	return z
}

func (z *Zone) Location() *time.Location { return z.loc }

func (z *Zone) String() string { return z.loc.String() }

// WallClockToInstant returns the instant at hour:minute local time on date d.
// The UTC offset is the one in force on that date, so DST changes keep the local time fixed.
func (z *Zone) WallClockToInstant(d Date, hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, z.loc)
}

// At is WallClockToInstant for a WallClock value.
func (z *Zone) At(d Date, w WallClock) time.Time {
	return z.WallClockToInstant(d, w.Hour, w.Minute)
}

// WallClockOf reads the hour and minute of t in the zone, not in UTC.
func (z *Zone) WallClockOf(t time.Time) WallClock {
	local := t.In(z.loc)
	return WallClock{Hour: local.Hour(), Minute: local.Minute()}
}

// CivilDate returns the date t falls on in the zone.
func (z *Zone) CivilDate(t time.Time) Date {
	return DateOf(t.In(z.loc))
}

// StartOfDay is 00:00:00.000 local time on d.
func (z *Zone) StartOfDay(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, z.loc)
}

// EndOfDay is 23:59:59.999 local time on d.
func (z *Zone) EndOfDay(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 23, 59, 59, int(999*time.Millisecond), z.loc)
}
