package ports

import "time"

// Clock abstracts wall time so windows and expirations can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now, which carries a monotonic reading for window math.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
