package clock

import "time"

// Clock abstracts the current time so lock-out checks can be tested.
type Clock interface {
	Now() time.Time
}

// System is the wall clock of the host.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }
