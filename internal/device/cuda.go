//go:build cuda

package device

import (
	"fmt"

	"gorgonia.org/cu"
)

// Setup validates the configured device ids against the CUDA devices
// present. The count must match exactly.
func Setup(ids []int) (*Info, error) {
	if len(ids) == 0 {
		ids = []int{0}
	}
	n, err := cu.NumDevices()
	if err != nil {
		return nil, fmt.Errorf("device: probe cuda: %w", err)
	}
	if len(ids) != n {
		return nil, fmt.Errorf("device: %d devices configured but %d present, the gpu numbers do not match", len(ids), n)
	}
	for _, id := range ids {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("device: gpu %d out of range, %d present", id, n)
		}
	}
	name, err := cu.Device(ids[0]).Name()
	if err != nil {
		return nil, fmt.Errorf("device: query gpu %d: %w", ids[0], err)
	}
	return &Info{Kind: "cuda", Lanes: len(ids), Brand: name}, nil
}
