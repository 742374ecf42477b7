package insight

import (
	"hash/fnv"
	"math"
)

// SampleConfig holds the two independent sampling knobs.
type SampleConfig struct {
	Rate       float64 // [0,1]; >=1 accepts all, <=0 rejects all
	ErrorsOnly bool
}

// Sampling rejection reasons, surfaced in the INSIGHT_SAMPLED_OUT message.
const (
	SampleReasonErrorsOnly = "errors-only sampling enabled and trace is healthy"
	SampleReasonDisabled   = "sampling disabled"
	SampleReasonRate       = "trace not selected by sample rate"
)

// SampleDecision decides whether a trace is eligible for backend generation.
// The decision is deterministic: the same trace key always hashes to the same
// point in [0,1), so repeated calls agree.
func SampleDecision(tenantID, traceID string, isError bool, cfg SampleConfig) (bool, string) {
	if cfg.ErrorsOnly && !isError {
		return false, SampleReasonErrorsOnly
	}
	if cfg.Rate >= 1 {
		return true, ""
	}
	if cfg.Rate <= 0 {
		return false, SampleReasonDisabled
	}
	if sampleHash(tenantID+":"+traceID) < cfg.Rate {
		return true, ""
	}
	return false, SampleReasonRate
}

// sampleHash maps a trace key to [0,1) with FNV-1a.
func sampleHash(key string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return float64(h.Sum64()) / math.Ldexp(1, 64)
}
