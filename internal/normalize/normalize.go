package normalize

import (
	"strconv"
	"strings"

	"costadvisor/pkg/catalog"
	"costadvisor/pkg/inventory"
	"costadvisor/pkg/units"
)

// storageVocabulary maps provider-specific storage type names into the
// normalized category set. Unlisted values fall through to a substring match.
var storageVocabulary = map[string]StorageCategory{
	"hdd":          StorageHDD,
	"network-hdd":  StorageHDD,
	"standard":     StorageHDD,
	"sc1":          StorageHDD,
	"st1":          StorageHDD,
	"pd-standard":  StorageHDD,
	"ssd":          StorageSSDNetwork,
	"network-ssd":  StorageSSDNetwork,
	"gp2":          StorageSSDNetwork,
	"gp3":          StorageSSDNetwork,
	"pd-ssd":       StorageSSDNetwork,
	"premium-lrs":  StorageSSDNetwork,
	"local-ssd":    StorageSSDLocal,
	"instance-ssd": StorageSSDLocal,
	"ephemeral":    StorageSSDLocal,
	"nvme":         StorageNVMe,
	"local-nvme":   StorageNVMe,
	"io1":          StorageNVMe,
	"io2":          StorageNVMe,
}

// StorageType maps a raw provider storage vocabulary value into the
// normalized category set. Unknown vocabularies stay unknown.
func StorageType(raw string) StorageCategory {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StorageUnknown
	}
	if cat, ok := storageVocabulary[key]; ok {
		return cat
	}
	switch {
	case strings.Contains(key, "nvme"):
		return StorageNVMe
	case strings.Contains(key, "local"):
		return StorageSSDLocal
	case strings.Contains(key, "ssd"):
		return StorageSSDNetwork
	case strings.Contains(key, "hdd"), strings.Contains(key, "magnetic"):
		return StorageHDD
	}
	return StorageUnknown
}

// FromResource builds the comparable spec for an inventory resource. Decode
// failures leave the affected fields unknown; this function never errors.
func FromResource(res inventory.Resource) NormalizedSpec {
	spec := NormalizedSpec{
		Provider:     res.Provider,
		Region:       res.Region,
		MonthlyPrice: res.MonthlyCost,
		Currency:     res.Currency,
	}

	cfg := res.Config
	if v, ok := intField(cfg, "cores"); ok && v >= 0 {
		spec.Cores = intPtr(v)
	}
	if v, ok := floatField(cfg, "memory_gb"); ok && v >= 0 {
		spec.MemoryGB = floatPtr(v)
	} else if v, ok := floatField(cfg, "memory_mb"); ok && v >= 0 {
		spec.MemoryGB = floatPtr(units.MiBToGiB(v))
	}

	spec.Storage, spec.StorageGB = storageFromConfig(cfg)
	spec.Family = familyClass(strField(cfg, "family"))
	spec.Baseline = cpuBaseline(strField(cfg, "cpu_baseline"))
	if v, ok := floatField(cfg, "network_gbps"); ok {
		spec.NetworkGbps = floatPtr(v)
	}

	if gpu := decodeBlob(cfg["gpu"]); gpu != nil {
		if count, ok := intField(gpu, "count"); ok {
			spec.GPUCount = count
		}
		if mem, ok := floatField(gpu, "memory_gb"); ok {
			spec.GPUMemoryGB = floatPtr(mem)
		}
	}
	return spec
}

// FromPriceRow builds the comparable spec for a priced catalog row.
func FromPriceRow(row catalog.PriceRow) NormalizedSpec {
	spec := NormalizedSpec{
		Provider:     row.Provider,
		Region:       row.Region,
		SKU:          row.SKU,
		MonthlyPrice: row.MonthlyPrice,
		Currency:     row.Currency,
	}
	if row.Cores >= 0 {
		spec.Cores = intPtr(row.Cores)
	}
	if row.MemoryGB >= 0 {
		spec.MemoryGB = floatPtr(row.MemoryGB)
	}

	spec.Storage, spec.StorageGB = decodeStorageDescriptor(row.Storage)

	attrs := row.Attributes
	spec.Family = familyClass(attrs["family"])
	spec.Baseline = cpuBaseline(attrs["cpu_baseline"])
	if v, err := strconv.ParseFloat(attrs["network_gbps"], 64); err == nil {
		spec.NetworkGbps = floatPtr(v)
	}
	if v, err := strconv.Atoi(attrs["gpu_count"]); err == nil {
		spec.GPUCount = v
	}
	if v, err := strconv.ParseFloat(attrs["gpu_memory_gb"], 64); err == nil {
		spec.GPUMemoryGB = floatPtr(v)
	}
	return spec
}

// storageFromConfig reads either a single "storage" section or a multi-disk
// "disks" list. Multiple disks sum into one included-capacity figure; the
// category comes from the first categorized disk.
func storageFromConfig(cfg map[string]interface{}) (StorageCategory, float64) {
	if cfg == nil {
		return StorageUnknown, 0
	}
	if disks := decodeBlobList(cfg["disks"]); len(disks) > 0 {
		return sumDisks(disks)
	}
	return decodeStorageDescriptor(cfg["storage"])
}

// decodeStorageDescriptor handles the storage blob in any of its observed
// shapes: a single object, a list of disks, or serialized text of either.
func decodeStorageDescriptor(v interface{}) (StorageCategory, float64) {
	if disks := decodeBlobList(v); len(disks) > 0 {
		return sumDisks(disks)
	}
	if m := decodeBlob(v); m != nil {
		return sumDisks([]map[string]interface{}{m})
	}
	return StorageUnknown, 0
}

func sumDisks(disks []map[string]interface{}) (StorageCategory, float64) {
	category := StorageUnknown
	var total float64
	for _, disk := range disks {
		if size, ok := floatField(disk, "size_gb"); ok && size > 0 {
			total += size
		} else if size, ok := floatField(disk, "size_tb"); ok && size > 0 {
			total += units.TBToGB(size)
		}
		if category == StorageUnknown {
			category = StorageType(strField(disk, "type"))
		}
	}
	return category, total
}

func familyClass(raw string) FamilyClass {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "general", "general_purpose", "balanced":
		return FamilyGeneral
	case "compute", "compute_optimized":
		return FamilyCompute
	case "memory", "memory_optimized":
		return FamilyMemory
	case "gpu", "accelerated":
		return FamilyGPU
	}
	return ""
}

func cpuBaseline(raw string) CPUBaseline {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "standard", "sustained":
		return BaselineStandard
	case "burstable", "shared":
		return BaselineBurstable
	}
	return ""
}
