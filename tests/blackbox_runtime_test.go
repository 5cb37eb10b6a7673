package tests

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/journal"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/mstore"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

type harnessConfig struct {
	OutputDir      string
	LogDir         string
	RunName        string
	JournalEnabled bool
	JournalPath    string
	EndEpoch       int
}

var (
	segdacBuildOnce sync.Once
	segdacBinPath   string
	segdacBuildErr  error
)

func TestBlackBox_TrainsToCompletion(t *testing.T) {
	base := t.TempDir()
	cfg := harnessConfig{
		OutputDir:      filepath.Join(base, "runs"),
		LogDir:         filepath.Join(base, "logs"),
		RunName:        "bb_run",
		JournalEnabled: true,
		EndEpoch:       2,
	}
	configPath := writeHarnessConfig(t, base, cfg)

	runSegdac(t, "-cfg", configPath, "-seed", "304")

	runDir := filepath.Join(cfg.OutputDir, cfg.RunName)
	for _, name := range []string{"checkpoint.json.zlib", "best.json.zlib", "final_state.json.zlib", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Fatalf("missing run artifact %s: %v", name, err)
		}
	}

	store := openStore(t, filepath.Join(runDir, "metrics.duckdb"))
	latest, err := store.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest.Name != cfg.RunName {
		t.Fatalf("run name=%q want=%q", latest.Name, cfg.RunName)
	}
	if latest.Status != run.StatusFinished {
		t.Fatalf("run status=%q want=%q", latest.Status, run.StatusFinished)
	}
	if latest.Seed != 304 {
		t.Fatalf("run seed=%d want=304", latest.Seed)
	}

	summaries, err := store.EpochSummaries(latest.ID, 10)
	if err != nil {
		t.Fatalf("EpochSummaries: %v", err)
	}
	if len(summaries) != cfg.EndEpoch {
		t.Fatalf("epoch summaries=%d want=%d", len(summaries), cfg.EndEpoch)
	}

	count, err := store.ScalarCount(latest.ID)
	if err != nil {
		t.Fatalf("ScalarCount: %v", err)
	}
	if count <= 0 {
		t.Fatalf("scalar count=%d, want > 0", count)
	}

	logBody := readRunLog(t, cfg)
	for _, want := range []string{"seeding with 304", "Epoch 1/2 - Source Loss:", "done"} {
		if !strings.Contains(logBody, want) {
			t.Fatalf("run log missing %q:\n%s", want, logBody)
		}
	}
}

func TestBlackBox_RecoversScalarsFromJournal(t *testing.T) {
	base := t.TempDir()
	cfg := harnessConfig{
		OutputDir:      filepath.Join(base, "runs"),
		LogDir:         filepath.Join(base, "logs"),
		RunName:        "bb_replay",
		JournalEnabled: true,
		JournalPath:    filepath.Join(base, "preseed.journal"),
		EndEpoch:       1,
	}
	const total = 18
	seedScalarJournal(t, cfg.JournalPath, "crashed-run", total, 0)
	configPath := writeHarnessConfig(t, base, cfg)

	runSegdac(t, "-cfg", configPath, "-seed", "304")

	store := openStore(t, filepath.Join(cfg.OutputDir, cfg.RunName, "metrics.duckdb"))
	count, err := store.ScalarCount("crashed-run")
	if err != nil {
		t.Fatalf("ScalarCount: %v", err)
	}
	if count != total {
		t.Fatalf("replayed scalar count=%d want=%d", count, total)
	}

	logBody := readRunLog(t, cfg)
	if !strings.Contains(logBody, fmt.Sprintf("metrics journal: replayed %d uncommitted records", total)) {
		t.Fatalf("run log missing replay line:\n%s", logBody)
	}
}

func TestBlackBox_JournalReplayHonorsWatermark(t *testing.T) {
	base := t.TempDir()
	cfg := harnessConfig{
		OutputDir:      filepath.Join(base, "runs"),
		LogDir:         filepath.Join(base, "logs"),
		RunName:        "bb_partial",
		JournalEnabled: true,
		JournalPath:    filepath.Join(base, "partial.journal"),
		EndEpoch:       1,
	}
	const total = 27
	const committed = 19
	seedScalarJournal(t, cfg.JournalPath, "crashed-run", total, committed)
	configPath := writeHarnessConfig(t, base, cfg)

	runSegdac(t, "-cfg", configPath, "-seed", "304")

	store := openStore(t, filepath.Join(cfg.OutputDir, cfg.RunName, "metrics.duckdb"))
	count, err := store.ScalarCount("crashed-run")
	if err != nil {
		t.Fatalf("ScalarCount: %v", err)
	}
	if count != total-committed {
		t.Fatalf("replayed scalar count=%d want=%d", count, total-committed)
	}
}

func TestBlackBox_DisabledJournalWritesNothing(t *testing.T) {
	base := t.TempDir()
	cfg := harnessConfig{
		OutputDir:      filepath.Join(base, "runs"),
		LogDir:         filepath.Join(base, "logs"),
		RunName:        "bb_nojournal",
		JournalEnabled: false,
		JournalPath:    filepath.Join(base, "disabled.journal"),
		EndEpoch:       1,
	}
	configPath := writeHarnessConfig(t, base, cfg)

	runSegdac(t, "-cfg", configPath, "-seed", "304")

	if _, err := os.Stat(cfg.JournalPath); !os.IsNotExist(err) {
		t.Fatalf("journal file exists with journaling off; stat err=%v", err)
	}

	// Scalars still land in the store without the journal.
	store := openStore(t, filepath.Join(cfg.OutputDir, cfg.RunName, "metrics.duckdb"))
	latest, err := store.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	count, err := store.ScalarCount(latest.ID)
	if err != nil {
		t.Fatalf("ScalarCount: %v", err)
	}
	if count <= 0 {
		t.Fatalf("scalar count=%d, want > 0", count)
	}
}

func writeHarnessConfig(t *testing.T, base string, cfg harnessConfig) string {
	t.Helper()

	socketPath := filepath.Join(base, fmt.Sprintf("segdac-%d.sock", time.Now().UnixNano()))
	body := fmt.Sprintf(`output-dir: %q
log-dir: %q
run-name: %q
workers: 2
socket-path: %q
dataset:
  num-classes: 4
  ignore-label: 255
model:
  name: lightnet
  in-channels: 3
  hidden: 3
  aux-weight: 0.4
  boundary-weight: 0.7
train:
  image-width: 16
  image-height: 16
  batch-size-per-device: 2
  lr: 0.05
  optimizer: sgd
  momentum: 0.9
  end-epoch: %d
  scheduler: false
  val-interval: 1
  val-dense-window: 1
  dacs:
    confidence: 0.05
    unsup-weight: 1
test:
  image-width: 16
  image-height: 16
  batch-size-per-device: 2
metrics:
  flush-interval: 20ms
  batch-size: 64
  journal-enabled: %t
  journal-path: %q
api:
  enabled: true
  port: %d
telemetry:
  enabled: false
`, cfg.OutputDir, cfg.LogDir, cfg.RunName, socketPath, cfg.EndEpoch, cfg.JournalEnabled, cfg.JournalPath, reservePort(t))

	configPath := filepath.Join(base, "config.yaml")
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return configPath
}

func runSegdac(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := exec.Command(segdacBinary(t), args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start segdac: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("segdac exited with error: %v\noutput:\n%s", err, out.String())
		}
	case <-time.After(3 * time.Minute):
		_ = cmd.Process.Kill()
		<-done
		t.Fatalf("segdac did not finish; output:\n%s", out.String())
	}
	return out.String()
}

func segdacBinary(t *testing.T) string {
	t.Helper()
	segdacBuildOnce.Do(func() {
		root := moduleRoot(t)
		binDir, err := os.MkdirTemp("", "segdac-blackbox-bin-*")
		if err != nil {
			segdacBuildErr = fmt.Errorf("mktemp bin dir: %w", err)
			return
		}
		segdacBinPath = filepath.Join(binDir, "segdac")

		var out bytes.Buffer
		cmd := exec.Command("go", "build", "-o", segdacBinPath, "./cmd/segdac")
		cmd.Dir = root
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			segdacBuildErr = fmt.Errorf("build segdac binary: %w\n%s", err, out.String())
			return
		}
	})
	if segdacBuildErr != nil {
		t.Fatalf("%v", segdacBuildErr)
	}
	return segdacBinPath
}

func openStore(t *testing.T, dbPath string) *mstore.Store {
	t.Helper()
	store, err := mstore.NewStore(dbPath, 5*time.Second)
	if err != nil {
		t.Fatalf("open store %s: %v", dbPath, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func readRunLog(t *testing.T, cfg harnessConfig) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.LogDir, cfg.RunName+".log"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	return string(data)
}

func seedScalarJournal(t *testing.T, path, runID string, total int, committed uint64) {
	t.Helper()
	if total <= 0 {
		t.Fatalf("seedScalarJournal needs total > 0")
	}

	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("seed journal: open: %v", err)
	}

	base := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	for i := 0; i < total; i++ {
		sc := &run.Scalar{
			RunID:      runID,
			Phase:      run.PhaseTrain,
			Name:       "loss/source",
			Step:       int64(i),
			Epoch:      i / 4,
			Value:      1.0 / float64(i+1),
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		}
		if _, err := j.Append(sc); err != nil {
			t.Fatalf("seed journal: append: %v", err)
		}
	}
	if committed > 0 {
		if err := j.Commit(committed); err != nil {
			t.Fatalf("seed journal: commit: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("seed journal: close: %v", err)
	}
}

func reservePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		if dir == filepath.Dir(dir) {
			t.Fatalf("no go.mod anywhere above %s", wd)
		}
	}
}
