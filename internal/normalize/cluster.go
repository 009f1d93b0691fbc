package normalize

import "costadvisor/pkg/inventory"

// WorkerSpec describes one group of identically-specified cluster workers.
type WorkerSpec struct {
	Count       int
	Cores       int
	MemoryGB    float64
	StorageGB   float64
	StorageType StorageCategory
}

// ClusterLayout is the structural decomposition of a managed cluster: control
// plane, worker groups, attached volumes, and load-balancer components. The
// aggregate price rule compares each category against the target provider
// instead of matching the cluster as one opaque unit.
type ClusterLayout struct {
	ControlPlaneTier string
	Workers          []WorkerSpec
	VolumeGB         float64
	LoadBalancers    int
}

// WorkerCount returns the total number of workers across all groups.
func (l ClusterLayout) WorkerCount() int {
	n := 0
	for _, w := range l.Workers {
		n += w.Count
	}
	return n
}

// ClusterFromResource decodes the cluster section of a resource's config.
// Returns false when the resource carries no structurally-usable cluster
// description; the aggregate rule skips such resources.
func ClusterFromResource(res inventory.Resource) (ClusterLayout, bool) {
	section := decodeBlob(res.Config["cluster"])
	if section == nil {
		return ClusterLayout{}, false
	}

	layout := ClusterLayout{
		ControlPlaneTier: strField(section, "control_plane_tier"),
	}

	for _, pool := range decodeBlobList(section["workers"]) {
		w := WorkerSpec{Count: 1}
		if count, ok := intField(pool, "count"); ok && count > 0 {
			w.Count = count
		}
		cores, okCores := intField(pool, "cores")
		memory, okMem := floatField(pool, "memory_gb")
		if !okCores || !okMem {
			// A pool without a usable size signal poisons the whole
			// aggregate comparison; bail out rather than guess.
			return ClusterLayout{}, false
		}
		w.Cores = cores
		w.MemoryGB = memory
		if size, ok := floatField(pool, "storage_gb"); ok {
			w.StorageGB = size
		}
		w.StorageType = StorageType(strField(pool, "storage_type"))
		layout.Workers = append(layout.Workers, w)
	}
	if len(layout.Workers) == 0 {
		return ClusterLayout{}, false
	}

	for _, vol := range decodeBlobList(section["volumes"]) {
		if size, ok := floatField(vol, "size_gb"); ok {
			layout.VolumeGB += size
		}
	}
	if n, ok := intField(section, "load_balancers"); ok {
		layout.LoadBalancers = n
	}
	return layout, true
}
