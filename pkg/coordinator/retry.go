package coordinator

import (
	"math"
	"math/rand"
	"time"

	"github.com/cuemby/devicehub/pkg/ports"
)

// backoffDelay computes attempt #n's wait per strategy (spec.md §4.H
// step 3 "retry policy"), mirroring pkg/hub's restart backoff shape.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	base := p.Base
	var d time.Duration
	switch p.Strategy {
	case BackoffLinear:
		d = base * time.Duration(attempt)
	case BackoffExponential:
		d = time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	case BackoffFibonacci:
		d = base * time.Duration(fib(attempt))
	default:
		d = base
	}
	if p.JitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(p.JitterMax) + 1))
	}
	return d
}

func fib(n int) int {
	if n <= 1 {
		return 1
	}
	a, b := 1, 1
	for i := 2; i < n; i++ {
		a, b = b, a+b
	}
	return b
}

// sleepOrCancel waits for d on clk, or returns false early if cancel
// fires first.
func sleepOrCancel(clk ports.Clock, d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-cancel:
		return false
	}
}
