// Command segdac-tui is the live dashboard for a training run. It connects
// to the stats socket that segdac publishes and renders losses, learning
// rate, and mIoU without touching the metrics database.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/statsrpc"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tui"
)

// Set at release time through -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default is $HOME/.config/segdac/config.yml)")
	socketPath := flag.String("socket", "", "override socket path to connect to a training run")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *showVersion {
		printVersion("segdac-tui", "training dashboard")
		return
	}

	cfg, err := loadTUIConfig(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	if err := runDashboard(cfg); err != nil {
		fatalf("%v", err)
	}
}

func runDashboard(cfg tuiConfig) error {
	sc, err := statsrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to training run at %s: %w\nIs a run active? Start one with: segdac -cfg <config>", cfg.SocketPath, err)
	}
	defer sc.Close()

	dashboard := tui.NewDashboard(sc, cfg.UpdateInterval, cfg.History)
	program := tea.NewProgram(tui.NewApp(dashboard), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "TTY") || strings.Contains(msg, "/dev/tty") {
			return fmt.Errorf("the dashboard needs a real terminal")
		}
		return err
	}
	return nil
}

func printVersion(name, what string) {
	fmt.Printf("%s %s (%s)\n", name, version, what)
	fmt.Printf("  commit %s, built %s, %s\n", commit, date, runtime.Version())
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "segdac-tui: "+format+"\n", args...)
	os.Exit(1)
}
