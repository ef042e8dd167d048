/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package placement

import (
	"time"
)

// HostStatus is the registration state of a compute host.
type HostStatus string

const (
	// HostActive accepts new placements.
	HostActive HostStatus = "active"
	// HostDraining honors existing workloads but refuses new placements.
	HostDraining HostStatus = "draining"
	// HostOffline is unreachable; workloads on it are marked error by the orchestrator.
	HostOffline HostStatus = "offline"
)

// Accelerator is one accelerator pool on a host.
type Accelerator struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
	Used  int    `json:"used"`
}

// Host is a live capacity snapshot of one compute host. Created at registration,
// refreshed from heartbeats.
type Host struct {
	Id            string            `json:"id"`
	Hostname      string            `json:"hostname"`
	TotalCPU      float64           `json:"totalCpu"`
	TotalMemoryMB int               `json:"totalMemoryMb"`
	TotalDiskGB   int               `json:"totalDiskGb"`
	UsedCPU       float64           `json:"usedCpu"`
	UsedMemoryMB  int               `json:"usedMemoryMb"`
	UsedDiskGB    int               `json:"usedDiskGb"`
	Workspaces    int               `json:"workspaces"`
	Accelerators  []Accelerator     `json:"accelerators,omitempty"`
	Arch          string            `json:"arch"`
	Region        string            `json:"region"`
	Status        HostStatus        `json:"status"`
	Labels        map[string]string `json:"labels,omitempty"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
}

// FreeAccelerators returns the number of free accelerators of the given kind.
func (h *Host) FreeAccelerators(kind string) int {
	for _, acc := range h.Accelerators {
		if acc.Kind == kind {
			return acc.Count - acc.Used
		}
	}
	return 0
}

// Strategy selects how candidate hosts are ranked.
type Strategy string

const (
	// StrategyBinPack prefers the most-loaded host that still fits.
	StrategyBinPack Strategy = "bin-pack"
	// StrategySpread prefers the least-loaded host.
	StrategySpread Strategy = "spread"
	// StrategyAffinity pins to a given host if feasible, else falls back to the default.
	StrategyAffinity Strategy = "affinity"
	// StrategyRegion filters to a preferred region first, then applies the default.
	StrategyRegion Strategy = "region-locality"
)

// Request is one placement request.
type Request struct {
	CPUCores      float64           `json:"cpuCores"`
	MemoryMB      int               `json:"memoryMb"`
	DiskGB        int               `json:"diskGb"`
	GPURequired   bool              `json:"gpuRequired"`
	GPUKind       string            `json:"gpuKind,omitempty"`
	GPUCount      int               `json:"gpuCount,omitempty"`
	Arch          string            `json:"arch"`
	Labels        map[string]string `json:"labels,omitempty"`
	Strategy      Strategy          `json:"strategy,omitempty"`
	AffinityHost  string            `json:"affinityHost,omitempty"`
	PreferRegion  string            `json:"preferRegion,omitempty"`
}

// Decision is the immutable result of a placement request.
type Decision struct {
	Success  bool    `json:"success"`
	HostId   string  `json:"hostId,omitempty"`
	Hostname string  `json:"hostname,omitempty"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}
