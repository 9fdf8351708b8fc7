package p2p

import (
	"time"

	"golang.org/x/time/rate"
)

// bandwidthLimiter budgets the bytes multicast and broadcast may put on the wire, nil allows everything
type bandwidthLimiter struct {
	limiter *rate.Limiter
}

func newBandwidthLimiter(bytesPerSecond, burst int) *bandwidthLimiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	if burst < bytesPerSecond {
		burst = bytesPerSecond
	}

	return &bandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Allow take n bytes from the budget, all or nothing
func (l *bandwidthLimiter) Allow(n int) bool {
	if l == nil {
		return true
	}

	return l.limiter.AllowN(time.Now(), n)
}
