package asr

import (
	"context"

	asrDomain "brokle/internal/core/domain/asr"
)

// staticHealthChecker is the default asr.HealthChecker: it always reports
// healthy. A real deployment wires a collaborator that polls provider
// status endpoints; the scheduler only depends on the HealthChecker
// interface, so swapping this for a live implementation needs no change
// here (§4.D health dimension, §9 "process-wide registry" note applied
// symmetrically to health).
type staticHealthChecker struct{}

// NewStaticHealthChecker returns a HealthChecker that always reports healthy.
func NewStaticHealthChecker() asrDomain.HealthChecker {
	return staticHealthChecker{}
}

func (staticHealthChecker) Check(ctx context.Context, provider, variant string) (asrDomain.HealthStatus, error) {
	return asrDomain.HealthStatusHealthy, nil
}
