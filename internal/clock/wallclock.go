package clock

import (
	"fmt"
	"time"
)

// WallClock is a time of day. Only hour and minute are meaningful.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock parses "HH:MM".
func ParseWallClock(s string) (WallClock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return WallClock{}, fmt.Errorf("invalid wall clock %q: %w", s, err)
	}
	return WallClock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (w WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

// Minutes returns minutes since midnight.
func (w WallClock) Minutes() int {
	return w.Hour*60 + w.Minute
}

func (w WallClock) Valid() bool {
	return w.Hour >= 0 && w.Hour < 24 && w.Minute >= 0 && w.Minute < 60
}

func (w WallClock) Before(o WallClock) bool {
	return w.Minutes() < o.Minutes()
}

func (w WallClock) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *WallClock) UnmarshalText(b []byte) error {
	parsed, err := ParseWallClock(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
