package recognize

import (
	"context"
	"fmt"
	"time"
)

// Wait blocks until r recognizes its pattern or ctx ends. On ctx expiry the
// session is cancelled and the error wraps ctx.Err() with the recognizer's
// description, so timeouts in test logs say what was being waited for.
func Wait(ctx context.Context, r *Recognizer) (Match, error) {
	return wait(ctx, r, func(h func(Match)) (*Session, error) {
		return r.OnRecognize(h)
	})
}

// WaitAsync is Wait with delayed delivery (see OnRecognizeAsync).
func WaitAsync(ctx context.Context, r *Recognizer, delay time.Duration) (Match, error) {
	return wait(ctx, r, func(h func(Match)) (*Session, error) {
		return r.OnRecognizeAsync(h, delay)
	})
}

func wait(ctx context.Context, r *Recognizer, open func(func(Match)) (*Session, error)) (Match, error) {
	ch := make(chan Match, 1)
	s, err := open(func(m Match) { ch <- m })
	if err != nil {
		return Match{}, err
	}

	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		s.Cancel()
		// A delivery may have won the race against the deadline.
		select {
		case m := <-ch:
			return m, nil
		default:
		}
		return Match{}, fmt.Errorf("recognize: wait %s: %w", r.Description(), ctx.Err())
	}
}
