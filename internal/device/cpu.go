//go:build !cuda

package device

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Setup validates the configured lane ids against the local CPU. An empty
// list selects a single lane.
func Setup(ids []int) (*Info, error) {
	if len(ids) == 0 {
		ids = []int{0}
	}
	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if len(ids) > cores {
		return nil, fmt.Errorf("device: %d lanes configured, host has %d logical cores", len(ids), cores)
	}
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id < 0 || id >= cores {
			return nil, fmt.Errorf("device: lane %d out of range, host has %d logical cores", id, cores)
		}
		if seen[id] {
			return nil, fmt.Errorf("device: lane %d listed twice", id)
		}
		seen[id] = true
	}

	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "sse4"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.FMA3, "fma3"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	return &Info{Kind: "cpu", Lanes: len(ids), Brand: cpuid.CPU.BrandName, Features: feats}, nil
}
