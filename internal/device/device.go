// Package device validates the configured compute lanes against the
// hardware present and reports what the run will execute on. The CUDA
// path lives behind the cuda build tag; default builds run on CPU lanes.
package device

import (
	"fmt"
	"strings"
)

// Info describes the selected compute substrate. Lanes is the batch
// multiplier: the effective batch size is per-device batch times Lanes.
type Info struct {
	Kind     string
	Lanes    int
	Brand    string
	Features []string
}

func (i *Info) String() string {
	s := fmt.Sprintf("%s x%d", i.Kind, i.Lanes)
	if i.Brand != "" {
		s += " (" + i.Brand
		if len(i.Features) > 0 {
			s += ", " + strings.Join(i.Features, " ")
		}
		s += ")"
	}
	return s
}
