// Package tuner provides resource sampling and worker-count advice for the
// easscan orchestrator. It reads host CPU, memory and load, then derives a
// safe number of concurrent scan workers from that snapshot.
package tuner

import (
	"context"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Sampler reads a point-in-time snapshot of host resources.
//
// Implementations must be safe for concurrent use and must not block for
// longer than the context allows. A failure is reported as an error that
// wraps types.ErrSampling; callers treat it as an overloaded host.
type Sampler interface {
	Sample(ctx context.Context) (types.ResourceSnapshot, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context) (types.ResourceSnapshot, error)

// Sample calls f(ctx).
func (f SamplerFunc) Sample(ctx context.Context) (types.ResourceSnapshot, error) {
	return f(ctx)
}

// Static returns a Sampler that always reports snap, stamped with the
// time of each call.
func Static(snap types.ResourceSnapshot) Sampler {
	return SamplerFunc(func(context.Context) (types.ResourceSnapshot, error) {
		s := snap
		s.TakenAt = now()
		return s, nil
	})
}
