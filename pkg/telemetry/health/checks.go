package health

import (
	"context"
	"fmt"
)

// Pinger is implemented by the primary store and the broker connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports p's Ping result.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// BacklogCheck fails when count reports more than max pending items, for
// example dead-letter files that could not be drained. A max of zero or
// less disables the threshold so only count errors are reported.
func BacklogCheck(count func() (int, error), max int) CheckFunc {
	return func(context.Context) error {
		n, err := count()
		if err != nil {
			return err
		}
		if max > 0 && n > max {
			return fmt.Errorf("%d pending, above %d", n, max)
		}
		return nil
	}
}
