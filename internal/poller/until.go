package poller

import (
	"context"
	"time"
)

// Until calls check on every tick of interval until it reports done or ctx
// ends. A not-found or validation error from check is returned at once; any
// other error goes to retry and polling continues. A nil retry drops them.
func Until(ctx context.Context, interval time.Duration, check func(context.Context) (bool, error), retry func(error)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done, err := check(ctx)
		if err != nil {
			if _, final := finalError(err); final {
				return err
			}
			if retry != nil {
				retry(err)
			}
			continue
		}
		if done {
			return nil
		}
	}
}
