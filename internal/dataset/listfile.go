package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// listEntry is one line of a .lst file: an image path and, for labeled
// splits, a label path. Both are relative to the dataset root.
type listEntry struct {
	image string
	label string
}

// listFile reads PNG samples named by a list file. Decoded samples go
// through an LRU cache keyed by image path.
type listFile struct {
	name    string
	root    string
	cfg     Config
	entries []listEntry
	meta    *ClassMeta
	cache   *lru.Cache[string, *Sample]
}

func openListFile(cfg Config, rel string) (*listFile, error) {
	path := filepath.Join(cfg.Root, rel)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open list: %w", err)
	}
	defer f.Close()

	entries, err := parseList(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: parse list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("dataset: list %s names no samples", path)
	}

	d := &listFile{name: rel, root: cfg.Root, cfg: cfg, entries: entries}
	if cfg.ClassesFile != "" {
		meta, err := LoadClassMeta(filepath.Join(cfg.Root, cfg.ClassesFile))
		if err != nil {
			return nil, err
		}
		if len(meta.Names) != cfg.NumClasses {
			return nil, fmt.Errorf("dataset: class meta names %d classes, config says %d", len(meta.Names), cfg.NumClasses)
		}
		d.meta = meta
	}
	d.cache, err = lru.New[string, *Sample](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("dataset: sample cache: %w", err)
	}
	return d, nil
}

func parseList(f *os.File) ([]listEntry, error) {
	var entries []listEntry
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch len(fields) {
		case 1:
			entries = append(entries, listEntry{image: fields[0]})
		case 2:
			entries = append(entries, listEntry{image: fields[0], label: fields[1]})
		default:
			return nil, fmt.Errorf("line %d has %d fields", line, len(fields))
		}
	}
	return entries, sc.Err()
}

func (d *listFile) Name() string { return d.name }
func (d *listFile) Len() int     { return len(d.entries) }

// ClassWeights exposes the loss weights from the class meta file, nil
// when none were configured.
func (d *listFile) ClassWeights() []float64 {
	if d.meta == nil {
		return nil
	}
	return d.meta.Weights
}

func (d *listFile) Sample(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(d.entries) {
		return nil, fmt.Errorf("dataset: index %d out of %d", idx, len(d.entries))
	}
	e := d.entries[idx]
	if s, ok := d.cache.Get(e.image); ok {
		return s.Clone(), nil
	}

	img, err := LoadImage(filepath.Join(d.root, e.image), d.cfg.Mean, d.cfg.Std)
	if err != nil {
		return nil, err
	}
	s := &Sample{Name: strings.TrimSuffix(filepath.Base(e.image), filepath.Ext(e.image)), Image: img}
	if e.label != "" {
		var mapping map[int32]int32
		if d.meta != nil {
			mapping = d.meta.Mapping
		}
		lbl, err := LoadLabel(filepath.Join(d.root, e.label), mapping, d.cfg.IgnoreLabel)
		if err != nil {
			return nil, err
		}
		if !tensor.SameShape(lbl.Shape, []int{img.Shape[1], img.Shape[2]}) {
			return nil, fmt.Errorf("dataset: %s label %v does not match image %dx%d", e.image, lbl.Shape, img.Shape[1], img.Shape[2])
		}
		s.Label = lbl
		s.Boundary = BoundaryFromLabel(lbl, d.cfg.IgnoreLabel, 1)
	}
	d.cache.Add(e.image, s)
	return s.Clone(), nil
}
