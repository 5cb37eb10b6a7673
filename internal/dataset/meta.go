package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClassMeta describes the label space of a file-backed dataset: class
// names, optional per-class loss weights, and an optional raw-id to
// train-id mapping applied when labels are decoded.
type ClassMeta struct {
	Names   []string
	Weights []float64
	Mapping map[int32]int32
}

type classMetaFile struct {
	Classes []struct {
		Name   string  `yaml:"name"`
		Weight float64 `yaml:"weight"`
	} `yaml:"classes"`
	Mapping map[int32]int32 `yaml:"mapping"`
}

// LoadClassMeta reads a classes.yaml file. Weights are optional; when no
// class carries one the Weights slice stays nil.
func LoadClassMeta(path string) (*ClassMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read class meta: %w", err)
	}
	var file classMetaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("dataset: parse class meta %s: %w", path, err)
	}
	if len(file.Classes) == 0 {
		return nil, fmt.Errorf("dataset: class meta %s lists no classes", path)
	}
	meta := &ClassMeta{Mapping: file.Mapping}
	anyWeight := false
	weights := make([]float64, len(file.Classes))
	for i, c := range file.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("dataset: class %d in %s has no name", i, path)
		}
		meta.Names = append(meta.Names, c.Name)
		weights[i] = c.Weight
		if c.Weight != 0 {
			anyWeight = true
		}
	}
	if anyWeight {
		for i, w := range weights {
			if w == 0 {
				weights[i] = 1
			}
		}
		meta.Weights = weights
	}
	return meta, nil
}
