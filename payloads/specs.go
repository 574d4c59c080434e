package payloads

import "github.com/google/uuid"

// SpecRequest asks the node for its machine specifications.
type SpecRequest struct {
	// RequestID uniquely identifies the request, echoed in the response.
	RequestID uuid.UUID `json:"request_id"`
}

// SpecResponse returns the machine specifications to the requester.
type SpecResponse struct {
	RequestID uuid.UUID `json:"request_id"`
	Specs     Specs     `json:"specs"`
}

// GPUAdapter describes one GPU visible to the node.
type GPUAdapter struct {
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
	Device string `json:"device"`
}

// Specs is the machine info document reported to RPC peers.
type Specs struct {
	// TotalMem is the total memory in bytes.
	TotalMem uint64 `json:"total_mem"`
	// FreeMem is the free memory in bytes.
	FreeMem uint64 `json:"free_mem"`
	// NumCPUs is the number of physical CPU cores, when known.
	NumCPUs *int `json:"num_cpus"`
	// CPUUsage is the global CPU usage percentage.
	CPUUsage float64 `json:"cpu_usage"`
	OS       string  `json:"os"`
	Arch     string  `json:"arch"`
	Family   string  `json:"family"`
	// GPUs lists the available GPU adapters.
	GPUs []GPUAdapter `json:"gpus"`
	// PublicIP is the node's public address, when lookup succeeds.
	PublicIP string `json:"lookup,omitempty"`
}
