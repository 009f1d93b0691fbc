// Package score computes the 0-1 equivalence score between a resource's
// normalized spec and a candidate catalog offering, and ranks candidates.
package score

import (
	"math"

	"costadvisor/internal/normalize"
)

// Dimension weights. They sum to 1.0.
const (
	WeightCores       = 0.40
	WeightMemory      = 0.30
	WeightStorage     = 0.15
	WeightCPUBaseline = 0.10
	WeightStorageType = 0.05
)

// DefaultThreshold is the acceptance threshold below which candidates are
// discarded before ranking.
const DefaultThreshold = 0.80

// Memory scoring: full credit within this relative band, then linear decay
// down to zero at the cutoff deviation.
const (
	memoryFullBand      = 0.10
	memoryZeroDeviation = 0.50
)

// Storage-capacity scoring: full credit at or above the target capacity,
// partial credit down to this fraction of it, zero below.
const storagePartialFloor = 0.80

// Score rates how well candidate can substitute for target.
//
// Core count is an exact match or nothing: recommending fewer cores is a
// behavior-changing substitution the engine must never make silently. Memory
// is scored leniently because over/under-provisioning there is reversible.
// Unknown dimensions earn no credit, so missing data cannot manufacture
// equivalence.
func Score(candidate, target normalize.NormalizedSpec) float64 {
	s := coreScore(candidate, target)*WeightCores +
		memoryScore(candidate, target)*WeightMemory +
		storageScore(candidate, target)*WeightStorage +
		baselineScore(candidate, target)*WeightCPUBaseline +
		storageTypeScore(candidate, target)*WeightStorageType
	return clamp(s)
}

func coreScore(candidate, target normalize.NormalizedSpec) float64 {
	if candidate.Cores == nil || target.Cores == nil {
		return 0
	}
	if *candidate.Cores == *target.Cores {
		return 1
	}
	return 0
}

func memoryScore(candidate, target normalize.NormalizedSpec) float64 {
	if candidate.MemoryGB == nil || target.MemoryGB == nil {
		return 0
	}
	want, have := *target.MemoryGB, *candidate.MemoryGB
	if want == 0 {
		if have == 0 {
			return 1
		}
		return 0
	}

	deviation := math.Abs(have-want) / want
	if deviation <= memoryFullBand {
		return 1
	}
	if deviation >= memoryZeroDeviation {
		return 0
	}
	return 1 - (deviation-memoryFullBand)/(memoryZeroDeviation-memoryFullBand)
}

func storageScore(candidate, target normalize.NormalizedSpec) float64 {
	if target.StorageGB == 0 {
		// No storage requirement to satisfy.
		return 1
	}
	ratio := candidate.StorageGB / target.StorageGB
	if ratio >= 1 {
		return 1
	}
	if ratio < storagePartialFloor {
		return 0
	}
	return (ratio - storagePartialFloor) / (1 - storagePartialFloor)
}

func baselineScore(candidate, target normalize.NormalizedSpec) float64 {
	if candidate.Baseline == target.Baseline {
		return 1
	}
	return 0
}

func storageTypeScore(candidate, target normalize.NormalizedSpec) float64 {
	if candidate.Storage == target.Storage {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
