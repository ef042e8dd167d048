/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package placement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHosts() []*Host {
	return []*Host{
		{
			Id: "h1", Hostname: "alpha", Arch: ArchX86, Region: "us-east", Status: HostActive,
			TotalCPU: 16, TotalMemoryMB: 65536, TotalDiskGB: 500,
			UsedCPU: 8, UsedMemoryMB: 32768, UsedDiskGB: 100,
		},
		{
			Id: "h2", Hostname: "bravo", Arch: ArchX86, Region: "us-east", Status: HostActive,
			TotalCPU: 16, TotalMemoryMB: 65536, TotalDiskGB: 500,
			UsedCPU: 2, UsedMemoryMB: 8192, UsedDiskGB: 50,
		},
		{
			Id: "h3", Hostname: "charlie", Arch: ArchArm, Region: "eu-west", Status: HostActive,
			TotalCPU: 32, TotalMemoryMB: 131072, TotalDiskGB: 1000,
			UsedCPU: 1, UsedMemoryMB: 4096, UsedDiskGB: 10,
		},
	}
}

const ArchX86 = "x86_64"
const ArchArm = "arm64"

func TestBinPackPrefersLoadedHost(t *testing.T) {
	engine := NewEngine(StrategyBinPack, 0)
	decision := engine.Place(testHosts(), &Request{CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchX86})
	assert.True(t, decision.Success)
	assert.Equal(t, "h1", decision.HostId)
}

func TestSpreadPrefersEmptyHost(t *testing.T) {
	engine := NewEngine(StrategySpread, 0)
	decision := engine.Place(testHosts(), &Request{CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchX86})
	assert.True(t, decision.Success)
	assert.Equal(t, "h2", decision.HostId)
}

func TestUtilizationCapRejectsOverfullHost(t *testing.T) {
	hosts := []*Host{
		{
			Id: "h1", Hostname: "alpha", Arch: ArchX86, Status: HostActive,
			TotalCPU: 4, TotalMemoryMB: 8192, TotalDiskGB: 100,
			UsedCPU: 3.5, UsedMemoryMB: 1024, UsedDiskGB: 10,
		},
	}
	engine := NewEngine(StrategyBinPack, 0)
	// 3.5 + 0.5 = 4.0 / 4 => 100% CPU, past the 95% cap
	decision := engine.Place(hosts, &Request{CPUCores: 0.5, MemoryMB: 512, DiskGB: 5, Arch: ArchX86})
	assert.False(t, decision.Success)
	assert.Contains(t, decision.Reason, "utilization")
}

func TestInsufficientGPUNamesFailedAxis(t *testing.T) {
	hosts := []*Host{
		{
			Id: "H1", Hostname: "gpu-small", Arch: ArchX86, Status: HostActive,
			TotalCPU: 32, TotalMemoryMB: 131072, TotalDiskGB: 1000,
			Accelerators: []Accelerator{{Kind: "t4_16gb", Count: 1}},
		},
		{
			Id: "H2", Hostname: "cpu-only", Arch: ArchX86, Status: HostActive,
			TotalCPU: 32, TotalMemoryMB: 131072, TotalDiskGB: 1000,
		},
		{
			Id: "H3", Hostname: "gpu-big", Arch: ArchX86, Status: HostDraining,
			TotalCPU: 64, TotalMemoryMB: 262144, TotalDiskGB: 2000,
			Accelerators: []Accelerator{{Kind: "a100_40gb", Count: 2}},
		},
	}
	engine := NewEngine(StrategyBinPack, 0)
	decision := engine.Place(hosts, &Request{
		CPUCores: 4, MemoryMB: 16384, DiskGB: 50, Arch: ArchX86,
		GPURequired: true, GPUKind: "a100_40gb", GPUCount: 1,
	})
	assert.False(t, decision.Success)
	// H3 carries the A100s but is draining, so the active hosts fail on the GPU axis.
	assert.Contains(t, decision.Reason, "a100_40gb")
}

func TestAffinityPinsWhenFeasible(t *testing.T) {
	engine := NewEngine(StrategyBinPack, 0)
	decision := engine.Place(testHosts(), &Request{
		CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchX86,
		Strategy: StrategyAffinity, AffinityHost: "h2",
	})
	assert.True(t, decision.Success)
	assert.Equal(t, "h2", decision.HostId)
}

func TestAffinityFallsBackWhenInfeasible(t *testing.T) {
	engine := NewEngine(StrategyBinPack, 0)
	decision := engine.Place(testHosts(), &Request{
		CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchX86,
		Strategy: StrategyAffinity, AffinityHost: "h3", // arm host, arch mismatch
	})
	assert.True(t, decision.Success)
	assert.Equal(t, "h1", decision.HostId)
}

func TestRegionLocalityFiltersFirst(t *testing.T) {
	engine := NewEngine(StrategySpread, 0)
	decision := engine.Place(testHosts(), &Request{
		CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchArm,
		Strategy: StrategyRegion, PreferRegion: "eu-west",
	})
	assert.True(t, decision.Success)
	assert.Equal(t, "h3", decision.HostId)
}

func TestHeartbeatStaleHostExcluded(t *testing.T) {
	hosts := testHosts()
	hosts[0].LastHeartbeat = time.Now().Add(-10 * time.Minute)
	hosts[1].LastHeartbeat = time.Now()
	engine := NewEngine(StrategyBinPack, 30*time.Second)
	decision := engine.Place(hosts[:2], &Request{CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchX86})
	assert.True(t, decision.Success)
	assert.Equal(t, "h2", decision.HostId)
}

func TestDeterministicTieBreak(t *testing.T) {
	hosts := []*Host{
		{Id: "b", Hostname: "same", Arch: ArchX86, Status: HostActive, TotalCPU: 8, TotalMemoryMB: 16384, TotalDiskGB: 100},
		{Id: "a", Hostname: "same", Arch: ArchX86, Status: HostActive, TotalCPU: 8, TotalMemoryMB: 16384, TotalDiskGB: 100},
	}
	engine := NewEngine(StrategySpread, 0)
	req := &Request{CPUCores: 1, MemoryMB: 1024, DiskGB: 10, Arch: ArchX86}
	for i := 0; i < 5; i++ {
		decision := engine.Place(hosts, req)
		assert.True(t, decision.Success)
		assert.Equal(t, "a", decision.HostId)
	}
}

func TestFilterSoundness(t *testing.T) {
	// every successful decision must name a host that passes all filters
	engine := NewEngine(StrategyBinPack, 0)
	requests := []*Request{
		{CPUCores: 2, MemoryMB: 4096, DiskGB: 20, Arch: ArchX86},
		{CPUCores: 8, MemoryMB: 32768, DiskGB: 200, Arch: ArchArm},
		{CPUCores: 1, MemoryMB: 1024, DiskGB: 5, Arch: ArchX86, Labels: map[string]string{"pool": "gold"}},
	}
	for _, req := range requests {
		hosts := testHosts()
		decision := engine.Place(hosts, req)
		if !decision.Success {
			continue
		}
		for _, host := range hosts {
			if host.Id == decision.HostId {
				assert.Empty(t, engine.filter(host, req))
			}
		}
	}
}
