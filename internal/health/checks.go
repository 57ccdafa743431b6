package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStalled is reported by [TickChecker] when the engine stopped ticking.
var ErrStalled = errors.New("health: engine stalled")

// TickChecker fails when last reports a tick older than maxAge, or no tick
// at all.
func TickChecker(last func() time.Time, maxAge time.Duration) Checker {
	return Checker{
		Name: "engine",
		Check: func(context.Context) error {
			t := last()
			if t.IsZero() {
				return fmt.Errorf("%w: no tick yet", ErrStalled)
			}
			if age := time.Since(t); age > maxAge {
				return fmt.Errorf("%w: last tick %s ago", ErrStalled, age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// BundleChecker fails while count reports fewer than want open archives.
func BundleChecker(count func() int, want int) Checker {
	return Checker{
		Name: "bundles",
		Check: func(context.Context) error {
			if n := count(); n < want {
				return fmt.Errorf("health: %d of %d bundles open", n, want)
			}
			return nil
		},
	}
}
