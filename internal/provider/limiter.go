package provider

import "context"

// limiter bounds the number of in-flight upstream calls. Calls beyond the
// bound queue on the channel rather than fail.
type limiter chan struct{}

func newLimiter(n int) limiter {
	if n <= 0 {
		n = 1
	}
	return make(limiter, n)
}

func (l limiter) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l limiter) release() {
	<-l
}
