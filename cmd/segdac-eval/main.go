// Command segdac-eval scores a saved checkpoint against the validation
// split and prints per-class IoU. It shares the experiment config with
// segdac, so a checkpoint is always evaluated under the settings that
// produced it.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/config"
)

// Set at release time through -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfgPath := flag.String("cfg", "configs/synthshift_small.yaml", "experiment config file")
	ckptPath := flag.String("checkpoint", "", "checkpoint to score (default: the run's best checkpoint)")
	seed := flag.Int64("seed", 0, "random seed for synthetic data (<=0 takes the checkpoint's seed)")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *showVersion {
		printVersion("segdac-eval", "checkpoint evaluation")
		return
	}

	// Trailing args override config keys: test.image-height=512
	cfg, err := config.Load(*cfgPath, flag.Args())
	if err != nil {
		fatalf("load config: %v", err)
	}
	cfg.Seed = *seed

	if err := runEval(cfg, *ckptPath); err != nil {
		fatalf("%v", err)
	}
}

func printVersion(name, what string) {
	fmt.Printf("%s %s (%s)\n", name, version, what)
	fmt.Printf("  commit %s, built %s, %s\n", commit, date, runtime.Version())
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "segdac-eval: "+format+"\n", args...)
	os.Exit(1)
}
