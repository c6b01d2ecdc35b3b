package mintd

import "mintbot/observability"

// Metrics exposes Prometheus collectors for mintd instrumentation.
type Metrics = observability.MintdMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Mintd() }
