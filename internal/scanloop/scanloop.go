// Package scanloop runs a function on a jittered interval. The watchguard's
// reclaim sweep uses it; the jitter keeps a fleet of robots from hammering
// the ownership dump in lockstep.
package scanloop

import (
	"context"
	"math/rand/v2"
	"time"
)

// Run executes fn at a jittered interval until ctx ends. The context is
// handed through to fn so an in-flight pass can stop with the loop.
// The interval is: minInterval + random([0, jitterRange)).
func Run(ctx context.Context, minInterval, jitterRange time.Duration, fn func(context.Context)) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		fn(ctx)
	}
}
