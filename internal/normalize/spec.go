// Package normalize converts heterogeneous provider resource descriptions and
// price-catalog rows into one comparable schema. All raw-blob handling lives
// here; rules and scoring only ever see a NormalizedSpec.
package normalize

import "github.com/shopspring/decimal"

// StorageCategory is the normalized storage-type vocabulary.
type StorageCategory string

const (
	StorageHDD        StorageCategory = "hdd"
	StorageSSDNetwork StorageCategory = "ssd-network"
	StorageSSDLocal   StorageCategory = "ssd-local"
	StorageNVMe       StorageCategory = "nvme"
	StorageUnknown    StorageCategory = ""
)

// FamilyClass is the coarse instance-family classification.
type FamilyClass string

const (
	FamilyGeneral FamilyClass = "general"
	FamilyCompute FamilyClass = "compute"
	FamilyMemory  FamilyClass = "memory"
	FamilyGPU     FamilyClass = "gpu"
)

// CPUBaseline distinguishes sustained from burstable CPU offerings.
type CPUBaseline string

const (
	BaselineStandard  CPUBaseline = "standard"
	BaselineBurstable CPUBaseline = "burstable"
)

// NormalizedSpec is the common comparable representation of a compute or
// storage offering. Absent fields stay nil/empty, never zero: zero cores and
// unknown cores must not compare equal.
type NormalizedSpec struct {
	Provider string
	Region   string
	SKU      string

	Cores    *int
	MemoryGB *float64

	Storage   StorageCategory
	StorageGB float64

	Family      FamilyClass
	Baseline    CPUBaseline
	NetworkGbps *float64

	GPUCount    int
	GPUMemoryGB *float64

	MonthlyPrice decimal.Decimal
	Currency     string
}

// Comparable reports whether the spec carries enough signal to be matched
// against catalog rows. Resource types whose provider API exposes no usable
// size signal are skipped by substitution rules rather than guessed at.
func (s NormalizedSpec) Comparable() bool {
	return s.Cores != nil && s.MemoryGB != nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
