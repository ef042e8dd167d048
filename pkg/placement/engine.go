/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package placement

import (
	"fmt"
	"sort"
	"time"

	"k8s.io/klog/v2"
)

// maxAxisUtilization caps projected utilization on every axis. A host projected
// past this on CPU, memory or disk is rejected even when it nominally fits.
const maxAxisUtilization = 0.95

// Engine ranks hosts by fit for a resource request. It is stateless; callers
// pass a live host snapshot on every call so decisions never act on stale
// capacity accounting.
type Engine struct {
	defaultStrategy   Strategy
	heartbeatInterval time.Duration
}

// NewEngine creates a placement engine with the fleet-wide default strategy.
func NewEngine(defaultStrategy Strategy, heartbeatInterval time.Duration) *Engine {
	if defaultStrategy == "" {
		defaultStrategy = StrategyBinPack
	}
	return &Engine{defaultStrategy: defaultStrategy, heartbeatInterval: heartbeatInterval}
}

// Place returns a ranked placement for the request against the host snapshot.
// The filter pipeline runs in a fixed order before scoring; the reason of a
// failed decision names the first axis on which every host was rejected.
func (e *Engine) Place(hosts []*Host, req *Request) Decision {
	strategy := req.Strategy
	if strategy == "" {
		strategy = e.defaultStrategy
	}

	switch strategy {
	case StrategyAffinity:
		if req.AffinityHost != "" {
			for _, host := range hosts {
				if host.Id != req.AffinityHost {
					continue
				}
				if reason := e.filter(host, req); reason == "" {
					score := scoreHost(host, req, e.defaultStrategy)
					return Decision{Success: true, HostId: host.Id, Hostname: host.Hostname, Score: score,
						Reason: fmt.Sprintf("affinity host %s feasible", host.Id)}
				}
			}
			klog.V(4).Infof("affinity host %s not feasible, falling back to %s", req.AffinityHost, e.defaultStrategy)
		}
		return e.rank(hosts, req, e.defaultStrategy)
	case StrategyRegion:
		if req.PreferRegion != "" {
			var regional []*Host
			for _, host := range hosts {
				if host.Region == req.PreferRegion {
					regional = append(regional, host)
				}
			}
			if decision := e.rank(regional, req, e.defaultStrategy); decision.Success {
				return decision
			}
			klog.V(4).Infof("no feasible host in preferred region %s, widening", req.PreferRegion)
		}
		return e.rank(hosts, req, e.defaultStrategy)
	case StrategySpread, StrategyBinPack:
		return e.rank(hosts, req, strategy)
	default:
		return Decision{Success: false, Reason: fmt.Sprintf("unknown placement strategy %q", strategy)}
	}
}

type candidate struct {
	host  *Host
	score float64
}

// rank filters and scores hosts under the given strategy, deterministic across
// coordinator restarts: ties break by (hostname, host_id).
func (e *Engine) rank(hosts []*Host, req *Request, strategy Strategy) Decision {
	var candidates []candidate
	firstFailure := ""
	for _, host := range hosts {
		reason := e.filter(host, req)
		if reason != "" {
			if firstFailure == "" {
				firstFailure = reason
			}
			continue
		}
		candidates = append(candidates, candidate{host: host, score: scoreHost(host, req, strategy)})
	}
	if len(candidates) == 0 {
		if firstFailure == "" {
			firstFailure = "no hosts registered"
		}
		return Decision{Success: false, Reason: firstFailure}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].host.Hostname != candidates[j].host.Hostname {
			return candidates[i].host.Hostname < candidates[j].host.Hostname
		}
		return candidates[i].host.Id < candidates[j].host.Id
	})
	best := candidates[0]
	return Decision{
		Success:  true,
		HostId:   best.host.Id,
		Hostname: best.host.Hostname,
		Score:    best.score,
		Reason:   fmt.Sprintf("strategy %s selected %s (score %.3f)", strategy, best.host.Hostname, best.score),
	}
}

// filter applies the admission pipeline in order and returns "" when the host
// passes, or a human-readable reason naming the failed axis.
func (e *Engine) filter(host *Host, req *Request) string {
	if host.Status != HostActive {
		return fmt.Sprintf("host %s is %s", host.Hostname, host.Status)
	}
	if e.heartbeatInterval > 0 && !host.LastHeartbeat.IsZero() &&
		time.Since(host.LastHeartbeat) > 3*e.heartbeatInterval {
		return fmt.Sprintf("host %s missed heartbeats for %s", host.Hostname, time.Since(host.LastHeartbeat).Round(time.Second))
	}
	if req.Arch != "" && host.Arch != req.Arch {
		return fmt.Sprintf("no host with architecture %s", req.Arch)
	}
	if req.GPURequired {
		count := req.GPUCount
		if count <= 0 {
			count = 1
		}
		if host.FreeAccelerators(req.GPUKind) < count {
			return fmt.Sprintf("no host with >= %d GPUs of kind %s", count, req.GPUKind)
		}
	}
	if host.TotalCPU-host.UsedCPU < req.CPUCores {
		return fmt.Sprintf("no host with >= %.1f free CPU cores", req.CPUCores)
	}
	if host.TotalMemoryMB-host.UsedMemoryMB < req.MemoryMB {
		return fmt.Sprintf("no host with >= %d MB free memory", req.MemoryMB)
	}
	if host.TotalDiskGB-host.UsedDiskGB < req.DiskGB {
		return fmt.Sprintf("no host with >= %d GB free disk", req.DiskGB)
	}
	for key, want := range req.Labels {
		if host.Labels[key] != want {
			return fmt.Sprintf("no host with label %s=%s", key, want)
		}
	}
	if maxUtilizationAfter(host, req) > maxAxisUtilization {
		return fmt.Sprintf("host %s would exceed %.0f%% utilization", host.Hostname, maxAxisUtilization*100)
	}
	return ""
}

// maxUtilizationAfter projects the utilization of the most loaded axis were the
// request placed on the host.
func maxUtilizationAfter(host *Host, req *Request) float64 {
	cpu := (host.UsedCPU + req.CPUCores) / host.TotalCPU
	mem := (float64(host.UsedMemoryMB) + float64(req.MemoryMB)) / float64(host.TotalMemoryMB)
	disk := (float64(host.UsedDiskGB) + float64(req.DiskGB)) / float64(host.TotalDiskGB)
	max := cpu
	if mem > max {
		max = mem
	}
	if disk > max {
		max = disk
	}
	return max
}

// scoreHost computes the strategy score; higher is better.
// bin-pack rewards loaded hosts to keep the fleet small, spread rewards empty
// hosts to maximize fault isolation.
func scoreHost(host *Host, req *Request, strategy Strategy) float64 {
	util := maxUtilizationAfter(host, req)
	if strategy == StrategySpread {
		return 1 - util
	}
	return util
}
