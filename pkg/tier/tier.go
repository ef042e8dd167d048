/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package tier

import (
	"fmt"
	"strings"
)

// Tier names a bundle of (architecture, CPU, memory, storage, optional accelerator).
type Tier string

const (
	Free       Tier = "FREE"
	Starter    Tier = "STARTER"
	Pro        Tier = "PRO"
	Team       Tier = "TEAM"
	Enterprise Tier = "ENTERPRISE"

	StarterArm Tier = "STARTER_ARM"
	ProArm     Tier = "PRO_ARM"
	ProGPU     Tier = "PRO_GPU"
	TeamGPU    Tier = "TEAM_GPU"
)

const (
	ArchX86 = "x86_64"
	ArchArm = "arm64"
)

// ResourceRequirements is the immutable resource request a tier resolves to.
type ResourceRequirements struct {
	CPUCores    float64 `json:"cpuCores"`
	MemoryMB    int     `json:"memoryMb"`
	DiskGB      int     `json:"diskGb"`
	GPURequired bool    `json:"gpuRequired"`
	GPUKind     string  `json:"gpuKind,omitempty"`
	GPUCount    int     `json:"gpuCount,omitempty"`
	Arch        string  `json:"arch"`
}

// HardwareSpec is one row of the tier → hardware catalog.
type HardwareSpec struct {
	Tier        Tier
	Arch        string
	VCPU        float64
	MemoryMB    int
	DiskGBDef   int
	DiskGBMax   int
	Accelerator string
	AccelCount  int
}

// catalog is the fixed tier → hardware table. Admins may extend but not rename;
// extensions are registered through Register at startup.
var catalog = map[Tier]HardwareSpec{
	Free:       {Tier: Free, Arch: ArchX86, VCPU: 1, MemoryMB: 2048, DiskGBDef: 10, DiskGBMax: 10},
	Starter:    {Tier: Starter, Arch: ArchX86, VCPU: 2, MemoryMB: 4096, DiskGBDef: 20, DiskGBMax: 50},
	Pro:        {Tier: Pro, Arch: ArchX86, VCPU: 4, MemoryMB: 8192, DiskGBDef: 50, DiskGBMax: 200},
	Team:       {Tier: Team, Arch: ArchX86, VCPU: 8, MemoryMB: 16384, DiskGBDef: 100, DiskGBMax: 500},
	Enterprise: {Tier: Enterprise, Arch: ArchX86, VCPU: 16, MemoryMB: 32768, DiskGBDef: 200, DiskGBMax: 1000},
	StarterArm: {Tier: StarterArm, Arch: ArchArm, VCPU: 2, MemoryMB: 4096, DiskGBDef: 20, DiskGBMax: 50},
	ProArm:     {Tier: ProArm, Arch: ArchArm, VCPU: 4, MemoryMB: 8192, DiskGBDef: 50, DiskGBMax: 200},
	ProGPU:     {Tier: ProGPU, Arch: ArchX86, VCPU: 8, MemoryMB: 32768, DiskGBDef: 100, DiskGBMax: 500, Accelerator: "t4_16gb", AccelCount: 1},
	TeamGPU:    {Tier: TeamGPU, Arch: ArchX86, VCPU: 16, MemoryMB: 65536, DiskGBDef: 200, DiskGBMax: 1000, Accelerator: "a100_40gb", AccelCount: 1},
}

// Parse validates an externally supplied tier string. Unknown tiers are rejected,
// never silently coerced.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalog[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Spec returns the hardware catalog row for the tier.
func Spec(t Tier) (HardwareSpec, error) {
	spec, ok := catalog[t]
	if !ok {
		return HardwareSpec{}, fmt.Errorf("unknown tier %q", t)
	}
	return spec, nil
}

// Requirements resolves a tier to its resource request. Pure function, no mutation.
func Requirements(t Tier) (ResourceRequirements, error) {
	spec, ok := catalog[t]
	if !ok {
		return ResourceRequirements{}, fmt.Errorf("unknown tier %q", t)
	}
	return ResourceRequirements{
		CPUCores:    spec.VCPU,
		MemoryMB:    spec.MemoryMB,
		DiskGB:      spec.DiskGBDef,
		GPURequired: spec.Accelerator != "",
		GPUKind:     spec.Accelerator,
		GPUCount:    spec.AccelCount,
		Arch:        spec.Arch,
	}, nil
}

// Register adds an admin-defined tier to the catalog. Renaming or replacing a
// built-in tier is refused.
func Register(spec HardwareSpec) error {
	if _, ok := catalog[spec.Tier]; ok {
		return fmt.Errorf("tier %q already exists", spec.Tier)
	}
	if spec.VCPU <= 0 || spec.MemoryMB <= 0 || spec.DiskGBDef <= 0 {
		return fmt.Errorf("tier %q has non-positive resources", spec.Tier)
	}
	catalog[spec.Tier] = spec
	return nil
}

// List returns every tier currently in the catalog.
func List() []HardwareSpec {
	result := make([]HardwareSpec, 0, len(catalog))
	for _, spec := range catalog {
		result = append(result, spec)
	}
	return result
}
