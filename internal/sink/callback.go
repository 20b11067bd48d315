package sink

import "context"

// Callback delivers events to an in-process function, without
// serialisation.
type Callback func(ctx context.Context, e Event) error

func (c Callback) Send(ctx context.Context, e Event) error {
	if c == nil {
		return nil
	}
	return c(ctx, e)
}

func (c Callback) Close() error { return nil }
