package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/api"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/ckpt"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/config"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/device"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/journal"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/mstore"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/statsrpc"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/telemetry"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/trainer"
)

// runTraining owns the full lifecycle of one training run: seeding, device
// checks, the metrics pipeline, the stats socket, and the training loop.
func runTraining(cfg *config.Config) error {
	closeLog := configureRuntimeLogger(cfg)
	defer closeLog()

	if cfg.Seed <= 0 {
		if cfg.Runtime.Deterministic {
			// A clock seed would defeat the deterministic contract.
			cfg.Seed = run.DefaultSeed
		} else {
			cfg.Seed = time.Now().UnixNano()
		}
	}
	log.Printf("seeding with %d", cfg.Seed)

	if cfg.Runtime.Parallelism > 0 {
		runtime.GOMAXPROCS(cfg.Runtime.Parallelism)
	}

	dev, err := device.Setup(cfg.Devices)
	if err != nil {
		return fmt.Errorf("failed to set up devices: %w", err)
	}
	if cfg.Runtime.Cuda && dev.Kind != "cuda" {
		return fmt.Errorf("runtime.cuda is set but this build has no cuda support (rebuild with -tags cuda)")
	}

	if err := os.MkdirAll(cfg.RunDir(), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	configYAML, err := cfg.EffectiveYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(cfg.RunDir(), "config.yaml"), configYAML, 0644); err != nil {
		return fmt.Errorf("failed to write resolved config: %w", err)
	}

	meta := run.Run{
		ID:         uuid.NewString(),
		Name:       cfg.RunName,
		ConfigYAML: string(configYAML),
		Seed:       cfg.Seed,
		StartedAt:  time.Now().UTC(),
		Status:     run.StatusRunning,
	}

	store, err := mstore.NewStore(cfg.Metrics.DBPath, cfg.API.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics store: %w", err)
	}
	defer store.Close()

	if err := store.InsertRun(&meta); err != nil {
		return fmt.Errorf("failed to register run: %w", err)
	}

	// Scalars left over from a crashed run land in the store before any
	// new ones are produced.
	var scalarJournal *journal.Journal
	if cfg.Metrics.JournalEnabled {
		scalarJournal, err = journal.Open(cfg.Metrics.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open metrics journal: %w", err)
		}
		defer scalarJournal.Close()
		if err := replayJournal(scalarJournal, store, cfg.Metrics.BatchSize); err != nil {
			return fmt.Errorf("failed to replay metrics journal: %w", err)
		}
	}

	scalarBuffer := mstore.NewBuffer(store, mstore.BufferConfig{
		BatchSize:     cfg.Metrics.BatchSize,
		FlushInterval: cfg.Metrics.FlushInterval,
		Journal:       scalarJournal,
	})
	defer scalarBuffer.Stop()

	if cfg.API.Enabled {
		apiSrv := api.NewServer(cfg.API.Addr, store)
		if err := apiSrv.Start(); err != nil {
			return fmt.Errorf("failed to start the HTTP API: %w", err)
		}
		defer apiSrv.Stop()
	}

	var exporter *telemetry.Exporter
	if cfg.Telemetry.Enabled {
		exporter, err = telemetry.New(telemetry.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Interval:    cfg.Telemetry.Interval,
			ServiceName: cfg.Telemetry.ServiceName,
			RunID:       meta.ID,
			RunName:     meta.Name,
		})
		if err != nil {
			return fmt.Errorf("failed to start telemetry exporter: %w", err)
		}
		defer exporter.Stop()
	}

	collab, err := buildCollaborators(cfg)
	if err != nil {
		return err
	}

	ckptManager, err := ckpt.NewManager(ckpt.Config{
		Dir:             cfg.CheckpointDir(),
		KeepEpochs:      cfg.Checkpoint.KeepEpochs,
		ArchiveInterval: cfg.Checkpoint.ArchiveInterval,
		S3: ckpt.S3Config{
			BucketURL:    cfg.Checkpoint.S3BucketURL,
			Endpoint:     cfg.Checkpoint.S3Endpoint,
			Region:       cfg.Checkpoint.S3Region,
			AccessKey:    cfg.Checkpoint.S3AccessKey,
			SecretKey:    cfg.Checkpoint.S3SecretKey,
			SessionToken: cfg.Checkpoint.S3SessionToken,
			UseSSL:       cfg.Checkpoint.S3UseSSL,
		},
	})
	if err != nil {
		return err
	}

	tr, err := trainer.New(trainer.Options{
		Config:    cfg,
		Model:     collab.model,
		Optimizer: collab.optimizer,
		Schedule:  collab.schedule,
		Pairs:     collab.pairs,
		Val:       collab.val,
		Run:       meta,
		Scalars:   scalarBuffer,
		Epochs:    &epochFanout{store: store, telemetry: exporter},
		Ckpts:     ckptManager,
	})
	if err != nil {
		return err
	}

	// The dashboard attaches here. A second trainer holding the socket is
	// not fatal for training itself.
	rpcSrv := statsrpc.NewServer(cfg.SocketPath, tr.Stats())
	if err := rpcSrv.Start(); err != nil {
		log.Printf("Warning: failed to start stats socket: %v", err)
	} else {
		defer rpcSrv.Stop()
	}

	ctx, stopSignals := watchInterrupt(context.Background(), cfg.SocketPath)
	defer stopSignals()

	printStartupBanner(cfg, dev, tr)

	runErr := tr.Run(ctx)

	status := run.StatusFinished
	if runErr != nil {
		status = run.StatusStopped
	}
	if err := store.UpdateRunStatus(meta.ID, status); err != nil {
		log.Printf("Warning: failed to record final run status: %v", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// epochFanout delivers epoch summaries to the metrics store and, when
// configured, the OTLP exporter.
type epochFanout struct {
	store     *mstore.Store
	telemetry *telemetry.Exporter
}

func (f *epochFanout) InsertEpochSummary(es *run.EpochSummary) error {
	if f.telemetry != nil {
		f.telemetry.RecordEpoch(es)
	}
	return f.store.InsertEpochSummary(es)
}

// watchInterrupt derives a context that is cancelled on the first SIGINT
// or SIGTERM. A second signal, or a shutdown that drags past 30 seconds,
// force exits the process. The returned stop function releases the signal
// handler once the run has wound down on its own.
func watchInterrupt(base context.Context, socketPath string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(base)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-interrupts:
		}
		fmt.Println("\nStopping after the current step... (press Ctrl+C again to force)")
		cancel()

		// The grace period starts at cancellation, not at boot.
		grace := time.NewTimer(30 * time.Second)
		defer grace.Stop()
		select {
		case <-interrupts:
			fmt.Println("\nExiting immediately.")
		case <-grace.C:
			fmt.Println("Graceful stop took too long, exiting.")
		}
		if socketPath != "" {
			os.Remove(socketPath)
		}
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(interrupts)
		cancel()
	}
}

// configureRuntimeLogger routes the standard logger to <log-dir>/<run>.log.
// When the directory cannot be opened the trainer keeps logging to stderr.
func configureRuntimeLogger(cfg *config.Config) func() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return func() {}
	}
	logPath := filepath.Join(cfg.LogDir, cfg.RunName+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return func() {}
	}

	log.SetOutput(f)
	return func() { _ = f.Close() }
}

// replayJournal pushes scalars that never reached the store back through
// it, advancing the watermark batch by batch. Sequences arrive in append
// order, so the last seen one is the highest.
func replayJournal(j *journal.Journal, store *mstore.Store, batch int) error {
	if j == nil {
		return nil
	}
	if batch <= 0 {
		batch = 256
	}

	var (
		pending []*run.Scalar
		highSeq uint64
		total   int
	)
	drain := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := store.InsertScalarBatch(pending); err != nil {
			return err
		}
		if err := j.Commit(highSeq); err != nil {
			return err
		}
		total += len(pending)
		pending = pending[:0]
		return nil
	}

	err := j.Replay(func(seq uint64, sc *run.Scalar) error {
		s := *sc
		pending = append(pending, &s)
		highSeq = seq
		if len(pending) >= batch {
			return drain()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := drain(); err != nil {
		return err
	}

	if total > 0 {
		log.Printf("metrics journal: replayed %d uncommitted records", total)
	}
	return nil
}

func printStartupBanner(cfg *config.Config, dev *device.Info, tr *trainer.Trainer) {
	var (
		dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
		green  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
		cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
		yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		bold   = lipgloss.NewStyle().Bold(true)
	)
	on := green.Render("●")
	off := dim.Render("●")
	rule := dim.Render("    ─────────────────────────────────")

	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	section := func(title string) {
		line("")
		line(bold.Render("    " + title))
		line("")
	}
	row := func(mark, label, value string) {
		line(fmt.Sprintf("    %s  %-15s%s", mark, label, value))
	}
	toggle := func(enabled bool, label, value string) {
		if enabled {
			row(on, label, cyan.Render(value))
		} else {
			row(off, label, dim.Render("disabled"))
		}
	}

	line("")
	line(cyan.Bold(true).Render(`
    ╔═╗╔═╗╔═╗╔╦╗╔═╗╔═╗
    ╚═╗║╣ ║ ╦ ║║╠═╣║
    ╚═╝╚═╝╚═╝═╩╝╩ ╩╚═╝`))
	line("    " + dim.Render("v"+version))
	line("")
	line(rule)

	params, flops := tr.Complexity()
	section("Run")
	row(on, "Experiment", cyan.Render(cfg.RunName))
	row(on, "Device", dim.Render(dev.String()))
	row(on, "Seed", dim.Render(fmt.Sprintf("%d", cfg.Seed)))
	row(on, "Epochs", dim.Render(fmt.Sprintf("%d (batch %d)", cfg.RealEnd(), cfg.TrainBatch())))
	row(on, "Model", dim.Render(fmt.Sprintf("%s, %.2fM params, %.2f GFLOPs",
		cfg.Model.Name, float64(params)/1e6, float64(flops)/1e9)))

	section("Gateway")
	toggle(cfg.API.Enabled, "HTTP API", cfg.API.Addr)
	row(on, "Stats Socket", cyan.Render(tildePath(cfg.SocketPath)))

	section("Storage")
	row(on, "Metrics", dim.Render(tildePath(cfg.Metrics.DBPath)))
	row(on, "Checkpoints", dim.Render(tildePath(cfg.CheckpointDir())))
	toggle(cfg.Checkpoint.S3BucketURL != "", "S3 Upload", cfg.Checkpoint.S3BucketURL)
	toggle(cfg.Telemetry.Enabled, "OTLP Export", cfg.Telemetry.Endpoint)

	section("Config")
	if cfg.ConfigPath != "" {
		row(on, "Config File", dim.Render(tildePath(cfg.ConfigPath)))
	} else {
		row(off, "Config File", dim.Render("default (no file)"))
	}

	line("")
	line(rule)
	line("")
	line("    " + dim.Render("Press ") + yellow.Render("Ctrl+C") + dim.Render(" to stop"))

	fmt.Println(b.String())
}

func tildePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || !strings.HasPrefix(path, home) {
		return path
	}
	return "~" + path[len(home):]
}
