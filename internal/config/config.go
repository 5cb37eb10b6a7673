// Package config loads the experiment configuration: a defaults table,
// an optional YAML file, SEGDAC_* environment variables, and trailing
// key=value override tokens, in that order of precedence.
package config

import (
	"path/filepath"
	"time"
)

const (
	defaultOutputDir      = "output"
	defaultLogDir         = "log"
	defaultWorkers        = 4
	defaultNumClasses     = 8
	defaultIgnoreLabel    = 255
	defaultAuxWeight      = 0.4
	defaultBoundaryWeight = 20.0
	defaultOhemThres      = 0.9
	defaultOhemKeep       = 131072
	defaultFocalGamma     = 2.0
	defaultImageSize      = 64
	defaultBatchSize      = 4
	defaultScaleFactor    = 16
	defaultLR             = 0.01
	defaultMomentum       = 0.9
	defaultWeightDecay    = 0.0005
	defaultEndEpoch       = 120
	defaultWarmupEpochs   = 5
	defaultMinLR          = 1e-6
	defaultValInterval    = 5
	defaultValDenseWindow = 100
	defaultConfidence     = 0.968
	defaultUnsupWeight    = 1.0
	defaultFlushInterval  = time.Second
	defaultMetricsBatch   = 256
	defaultAPIPort        = 3000
	defaultQueryTimeout   = 30 * time.Second
	defaultOTLPEndpoint   = "127.0.0.1:4317"
	defaultOTLPInterval   = 15 * time.Second
	defaultServiceName    = "segdac"
	defaultKeepEpochs     = 5
)

// Config is the resolved experiment configuration.
type Config struct {
	OutputDir  string `mapstructure:"output-dir"`
	LogDir     string `mapstructure:"log-dir"`
	Workers    int    `mapstructure:"workers"`
	Devices    []int  `mapstructure:"devices"`
	RunName    string `mapstructure:"run-name"`
	SocketPath string `mapstructure:"socket-path"`

	Runtime    Runtime    `mapstructure:"runtime"`
	Dataset    Dataset    `mapstructure:"dataset"`
	Model      Model      `mapstructure:"model"`
	Loss       Loss       `mapstructure:"loss"`
	Train      Train      `mapstructure:"train"`
	Test       Test       `mapstructure:"test"`
	Metrics    Metrics    `mapstructure:"metrics"`
	API        API        `mapstructure:"api"`
	Telemetry  Telemetry  `mapstructure:"telemetry"`
	Checkpoint Checkpoint `mapstructure:"checkpoint"`

	// Seed comes from the -seed flag, not the file.
	Seed       int64  `mapstructure:"-"`
	ConfigPath string `mapstructure:"-"`

	settings map[string]any
}

// Runtime tunes the host side of a run.
type Runtime struct {
	Deterministic bool `mapstructure:"deterministic"`
	Parallelism   int  `mapstructure:"parallelism"`
	CUDA          bool `mapstructure:"cuda"`
}

// Dataset names the source and target domains and their shared label space.
type Dataset struct {
	Root        string `mapstructure:"root"`
	NumClasses  int    `mapstructure:"num-classes"`
	IgnoreLabel int    `mapstructure:"ignore-label"`
	ClassesFile string `mapstructure:"classes-file"`
	Source      Split  `mapstructure:"source"`
	Target      Target `mapstructure:"target"`
}

// Split is a labeled training domain.
type Split struct {
	Name      string `mapstructure:"name"`
	TrainList string `mapstructure:"train-list"`
}

// Target is the adaptation domain: unlabeled train split plus a labeled
// test split for validation.
type Target struct {
	Name      string `mapstructure:"name"`
	TrainList string `mapstructure:"train-list"`
	TestList  string `mapstructure:"test-list"`
}

// Model selects and shapes the segmentation network.
type Model struct {
	Name           string  `mapstructure:"name"`
	InChannels     int     `mapstructure:"in-channels"`
	Hidden         int     `mapstructure:"hidden"`
	Pretrained     string  `mapstructure:"pretrained"`
	AuxWeight      float64 `mapstructure:"aux-weight"`
	BoundaryWeight float64 `mapstructure:"boundary-weight"`
}

// Loss selects the semantic criterion. The toggles are checked in order:
// ohem, dice, focal, plain cross-entropy.
type Loss struct {
	UseOhem      bool    `mapstructure:"use-ohem"`
	OhemThres    float64 `mapstructure:"ohem-thres"`
	OhemKeep     int     `mapstructure:"ohem-keep"`
	UseDice      bool    `mapstructure:"use-dice"`
	UseFocal     bool    `mapstructure:"use-focal"`
	FocalGamma   float64 `mapstructure:"focal-gamma"`
	ClassBalance bool    `mapstructure:"class-balance"`
}

// Train drives the training loop.
type Train struct {
	ImageWidth         int     `mapstructure:"image-width"`
	ImageHeight        int     `mapstructure:"image-height"`
	BaseSize           int     `mapstructure:"base-size"`
	BatchSizePerDevice int     `mapstructure:"batch-size-per-device"`
	Shuffle            bool    `mapstructure:"shuffle"`
	MultiScale         bool    `mapstructure:"multi-scale"`
	Flip               bool    `mapstructure:"flip"`
	ScaleFactor        int     `mapstructure:"scale-factor"`
	LR                 float64 `mapstructure:"lr"`
	Optimizer          string  `mapstructure:"optimizer"`
	Momentum           float64 `mapstructure:"momentum"`
	WeightDecay        float64 `mapstructure:"weight-decay"`
	Nesterov           bool    `mapstructure:"nesterov"`
	EndEpoch           int     `mapstructure:"end-epoch"`
	StopEpoch          int     `mapstructure:"stop-epoch"`
	Resume             bool    `mapstructure:"resume"`
	Scheduler          bool    `mapstructure:"scheduler"`
	WarmupEpochs       int     `mapstructure:"warmup-epochs"`
	MinLR              float64 `mapstructure:"min-lr"`
	ValInterval        int     `mapstructure:"val-interval"`
	ValDenseWindow     int     `mapstructure:"val-dense-window"`
	DACS               DACS    `mapstructure:"dacs"`
}

// DACS tunes the domain-adaptation step.
type DACS struct {
	Confidence  float64 `mapstructure:"confidence"`
	UnsupWeight float64 `mapstructure:"unsup-weight"`
	Blur        bool    `mapstructure:"blur"`
	ColorJitter bool    `mapstructure:"color-jitter"`
}

// Test shapes the validation pass.
type Test struct {
	ImageWidth         int `mapstructure:"image-width"`
	ImageHeight        int `mapstructure:"image-height"`
	BaseSize           int `mapstructure:"base-size"`
	BatchSizePerDevice int `mapstructure:"batch-size-per-device"`
}

// Metrics configures the scalar store and its crash journal.
type Metrics struct {
	DBPath         string        `mapstructure:"db-path"`
	FlushInterval  time.Duration `mapstructure:"flush-interval"`
	BatchSize      int           `mapstructure:"batch-size"`
	JournalEnabled bool          `mapstructure:"journal-enabled"`
	JournalPath    string        `mapstructure:"journal-path"`
}

// API configures the HTTP endpoint over the metrics store.
type API struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	Addr         string        `mapstructure:"addr"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`
}

// Telemetry configures the OTLP metrics exporter.
type Telemetry struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	Interval    time.Duration `mapstructure:"interval"`
	ServiceName string        `mapstructure:"service-name"`
}

// Checkpoint controls checkpoint placement, archiving, and upload.
type Checkpoint struct {
	Dir             string `mapstructure:"dir"`
	KeepEpochs      int    `mapstructure:"keep-epochs"`
	ArchiveInterval int    `mapstructure:"archive-interval"`

	S3BucketURL    string `mapstructure:"s3-bucket-url"`
	S3Endpoint     string `mapstructure:"s3-endpoint"`
	S3Region       string `mapstructure:"s3-region"`
	S3AccessKey    string `mapstructure:"s3-access-key"`
	S3SecretKey    string `mapstructure:"s3-secret-key"`
	S3SessionToken string `mapstructure:"s3-session-token"`
	S3UseSSL       bool   `mapstructure:"s3-use-ssl"`
}

// RunDir is where this run writes its artifacts.
func (c *Config) RunDir() string {
	return filepath.Join(c.OutputDir, c.RunName)
}

// CheckpointDir resolves the checkpoint directory, defaulting to the run dir.
func (c *Config) CheckpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	return c.RunDir()
}

// TrainBatch is the effective training batch size across all devices.
func (c *Config) TrainBatch() int {
	return c.Train.BatchSizePerDevice * len(c.Devices)
}

// TestBatch is the effective validation batch size across all devices.
func (c *Config) TestBatch() int {
	return c.Test.BatchSizePerDevice * len(c.Devices)
}

// RealEnd is the epoch the loop actually stops at: stop-epoch when set,
// end-epoch otherwise. The schedule still spans end-epoch.
func (c *Config) RealEnd() int {
	if c.Train.StopEpoch > 0 {
		return c.Train.StopEpoch
	}
	return c.Train.EndEpoch
}
