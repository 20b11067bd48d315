package recognize

import "time"

// DefaultDelay is the delivery delay used by OnRecognizeAsync when the
// caller passes a non-positive delay.
const DefaultDelay = 10 * time.Millisecond

// Timer is a scheduled callback. Stop is best-effort: a callback already
// started is not interrupted, which is why sessions carry their own live flag.
type Timer interface {
	Stop() bool
}

// Scheduler is the host's timer facility.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the Go runtime timer.
type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
