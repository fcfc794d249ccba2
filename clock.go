package arena

import "time"

// Clock supplies time for expiry checks so tests can steer it.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
