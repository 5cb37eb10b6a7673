// Command segdac trains a semantic segmentation model on a labeled source
// domain while adapting it to an unlabeled target domain. One invocation
// drives a full run: config, data, training loop, validation, checkpoints,
// and the metrics pipeline.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/config"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// Set at release time through -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfgPath := flag.String("cfg", "configs/synthshift_small.yaml", "experiment config file")
	seed := flag.Int64("seed", run.DefaultSeed, "random seed (<=0 seeds from the clock)")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *showVersion {
		printVersion("segdac", "domain-adaptive segmentation trainer")
		return
	}

	// Trailing args override config keys: train.lr=0.01 dataset.num-classes=19
	cfg, err := config.Load(*cfgPath, flag.Args())
	if err != nil {
		fatalf("load config: %v", err)
	}
	cfg.Seed = *seed

	if err := runTraining(cfg); err != nil {
		fatalf("%v", err)
	}
}

func printVersion(name, what string) {
	fmt.Printf("%s %s (%s)\n", name, version, what)
	fmt.Printf("  commit %s, built %s, %s\n", commit, date, runtime.Version())
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "segdac: "+format+"\n", args...)
	os.Exit(1)
}
