package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/statsrpc"
)

// Load resolves the configuration from defaults, the YAML file at configPath
// (missing files are tolerated), SEGDAC_* environment variables, and trailing
// key=value override tokens, highest precedence last.
func Load(configPath string, overrides []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEGDAC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var configFileNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	for _, tok := range overrides {
		key, value, ok := strings.Cut(tok, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("config: invalid override %q (want key=value)", tok)
		}
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.RunName == "" {
		cfg.RunName = runNameFrom(cfg.ConfigPath)
		v.Set("run-name", cfg.RunName)
	}
	if cfg.Metrics.DBPath == "" {
		cfg.Metrics.DBPath = filepath.Join(cfg.RunDir(), "metrics.duckdb")
		v.Set("metrics.db-path", cfg.Metrics.DBPath)
	}
	if cfg.Metrics.JournalPath == "" {
		cfg.Metrics.JournalPath = filepath.Join(cfg.RunDir(), "journal")
		v.Set("metrics.journal-path", cfg.Metrics.JournalPath)
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.API.Port))
		v.Set("api.addr", cfg.API.Addr)
	}
	cfg.settings = v.AllSettings()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output-dir", defaultOutputDir)
	v.SetDefault("log-dir", defaultLogDir)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("devices", []int{0})
	v.SetDefault("run-name", "")
	v.SetDefault("socket-path", statsrpc.DefaultSocketPath())

	v.SetDefault("runtime.deterministic", false)
	v.SetDefault("runtime.parallelism", 0)
	v.SetDefault("runtime.cuda", false)

	v.SetDefault("dataset.root", "data")
	v.SetDefault("dataset.num-classes", defaultNumClasses)
	v.SetDefault("dataset.ignore-label", defaultIgnoreLabel)
	v.SetDefault("dataset.classes-file", "")
	v.SetDefault("dataset.source.name", "synthshift/source")
	v.SetDefault("dataset.source.train-list", "")
	v.SetDefault("dataset.target.name", "synthshift/target")
	v.SetDefault("dataset.target.train-list", "")
	v.SetDefault("dataset.target.test-list", "")

	v.SetDefault("model.name", "lightnet")
	v.SetDefault("model.in-channels", 3)
	v.SetDefault("model.hidden", 0)
	v.SetDefault("model.pretrained", "")
	v.SetDefault("model.aux-weight", defaultAuxWeight)
	v.SetDefault("model.boundary-weight", defaultBoundaryWeight)

	v.SetDefault("loss.use-ohem", true)
	v.SetDefault("loss.ohem-thres", defaultOhemThres)
	v.SetDefault("loss.ohem-keep", defaultOhemKeep)
	v.SetDefault("loss.use-dice", false)
	v.SetDefault("loss.use-focal", false)
	v.SetDefault("loss.focal-gamma", defaultFocalGamma)
	v.SetDefault("loss.class-balance", true)

	v.SetDefault("train.image-width", defaultImageSize)
	v.SetDefault("train.image-height", defaultImageSize)
	v.SetDefault("train.base-size", defaultImageSize)
	v.SetDefault("train.batch-size-per-device", defaultBatchSize)
	v.SetDefault("train.shuffle", true)
	v.SetDefault("train.multi-scale", true)
	v.SetDefault("train.flip", true)
	v.SetDefault("train.scale-factor", defaultScaleFactor)
	v.SetDefault("train.lr", defaultLR)
	v.SetDefault("train.optimizer", "sgd")
	v.SetDefault("train.momentum", defaultMomentum)
	v.SetDefault("train.weight-decay", defaultWeightDecay)
	v.SetDefault("train.nesterov", false)
	v.SetDefault("train.end-epoch", defaultEndEpoch)
	v.SetDefault("train.stop-epoch", 0)
	v.SetDefault("train.resume", false)
	v.SetDefault("train.scheduler", true)
	v.SetDefault("train.warmup-epochs", defaultWarmupEpochs)
	v.SetDefault("train.min-lr", defaultMinLR)
	v.SetDefault("train.val-interval", defaultValInterval)
	v.SetDefault("train.val-dense-window", defaultValDenseWindow)
	v.SetDefault("train.dacs.confidence", defaultConfidence)
	v.SetDefault("train.dacs.unsup-weight", defaultUnsupWeight)
	v.SetDefault("train.dacs.blur", true)
	v.SetDefault("train.dacs.color-jitter", true)

	v.SetDefault("test.image-width", defaultImageSize)
	v.SetDefault("test.image-height", defaultImageSize)
	v.SetDefault("test.base-size", defaultImageSize)
	v.SetDefault("test.batch-size-per-device", defaultBatchSize)

	v.SetDefault("metrics.db-path", "")
	v.SetDefault("metrics.flush-interval", defaultFlushInterval)
	v.SetDefault("metrics.batch-size", defaultMetricsBatch)
	v.SetDefault("metrics.journal-enabled", true)
	v.SetDefault("metrics.journal-path", "")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("api.addr", "")
	v.SetDefault("api.query-timeout", defaultQueryTimeout)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", defaultOTLPEndpoint)
	v.SetDefault("telemetry.interval", defaultOTLPInterval)
	v.SetDefault("telemetry.service-name", defaultServiceName)

	v.SetDefault("checkpoint.dir", "")
	v.SetDefault("checkpoint.keep-epochs", defaultKeepEpochs)
	v.SetDefault("checkpoint.archive-interval", 0)
	v.SetDefault("checkpoint.s3-bucket-url", "")
	v.SetDefault("checkpoint.s3-endpoint", "")
	v.SetDefault("checkpoint.s3-region", "")
	v.SetDefault("checkpoint.s3-access-key", "")
	v.SetDefault("checkpoint.s3-secret-key", "")
	v.SetDefault("checkpoint.s3-session-token", "")
	v.SetDefault("checkpoint.s3-use-ssl", true)
}

func runNameFrom(configPath string) string {
	if configPath == "" {
		return "run"
	}
	base := filepath.Base(configPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." {
		return "run"
	}
	return base
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: invalid workers: %d", c.Workers)
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("config: devices must name at least one lane")
	}
	if c.Dataset.NumClasses < 2 {
		return fmt.Errorf("config: invalid dataset.num-classes: %d", c.Dataset.NumClasses)
	}
	if c.Dataset.IgnoreLabel >= 0 && c.Dataset.IgnoreLabel < c.Dataset.NumClasses {
		return fmt.Errorf("config: dataset.ignore-label %d collides with class ids", c.Dataset.IgnoreLabel)
	}
	if c.Model.InChannels < 1 {
		return fmt.Errorf("config: invalid model.in-channels: %d", c.Model.InChannels)
	}
	if c.Model.AuxWeight < 0 || c.Model.BoundaryWeight < 0 {
		return fmt.Errorf("config: model loss weights must not be negative")
	}
	if c.Loss.UseOhem && (c.Loss.OhemThres <= 0 || c.Loss.OhemThres >= 1) {
		return fmt.Errorf("config: invalid loss.ohem-thres: %g", c.Loss.OhemThres)
	}
	if c.Train.ImageWidth < 4 || c.Train.ImageHeight < 4 {
		return fmt.Errorf("config: train image size %dx%d too small", c.Train.ImageWidth, c.Train.ImageHeight)
	}
	if c.Test.ImageWidth < 4 || c.Test.ImageHeight < 4 {
		return fmt.Errorf("config: test image size %dx%d too small", c.Test.ImageWidth, c.Test.ImageHeight)
	}
	if c.Train.BatchSizePerDevice < 1 || c.Test.BatchSizePerDevice < 1 {
		return fmt.Errorf("config: batch-size-per-device must be positive")
	}
	if c.Train.LR <= 0 {
		return fmt.Errorf("config: invalid train.lr: %g", c.Train.LR)
	}
	if c.Train.MinLR < 0 || c.Train.MinLR > c.Train.LR {
		return fmt.Errorf("config: train.min-lr %g out of range", c.Train.MinLR)
	}
	if c.Train.EndEpoch < 1 {
		return fmt.Errorf("config: invalid train.end-epoch: %d", c.Train.EndEpoch)
	}
	if c.Train.StopEpoch < 0 || c.Train.StopEpoch > c.Train.EndEpoch {
		return fmt.Errorf("config: train.stop-epoch %d out of range (end-epoch %d)", c.Train.StopEpoch, c.Train.EndEpoch)
	}
	if c.Train.Scheduler {
		if c.Train.WarmupEpochs < 0 {
			return fmt.Errorf("config: invalid train.warmup-epochs: %d", c.Train.WarmupEpochs)
		}
		if c.Train.EndEpoch <= c.Train.WarmupEpochs {
			return fmt.Errorf("config: train.end-epoch %d must exceed warmup-epochs %d", c.Train.EndEpoch, c.Train.WarmupEpochs)
		}
	}
	if c.Train.ValInterval < 1 {
		return fmt.Errorf("config: invalid train.val-interval: %d", c.Train.ValInterval)
	}
	if c.Train.ValDenseWindow < 0 {
		return fmt.Errorf("config: invalid train.val-dense-window: %d", c.Train.ValDenseWindow)
	}
	if c.Train.ScaleFactor < 0 {
		return fmt.Errorf("config: invalid train.scale-factor: %d", c.Train.ScaleFactor)
	}
	if c.Train.DACS.Confidence <= 0 || c.Train.DACS.Confidence > 1 {
		return fmt.Errorf("config: invalid train.dacs.confidence: %g", c.Train.DACS.Confidence)
	}
	if c.Train.DACS.UnsupWeight < 0 {
		return fmt.Errorf("config: invalid train.dacs.unsup-weight: %g", c.Train.DACS.UnsupWeight)
	}
	if c.Metrics.BatchSize < 1 {
		return fmt.Errorf("config: invalid metrics.batch-size: %d", c.Metrics.BatchSize)
	}
	if c.Metrics.FlushInterval <= 0 {
		return fmt.Errorf("config: invalid metrics.flush-interval: %s", c.Metrics.FlushInterval)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("config: invalid api.port: %d", c.API.Port)
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		return fmt.Errorf("config: invalid telemetry.interval: %s", c.Telemetry.Interval)
	}
	if c.Checkpoint.KeepEpochs < 0 {
		return fmt.Errorf("config: invalid checkpoint.keep-epochs: %d", c.Checkpoint.KeepEpochs)
	}
	if c.Checkpoint.ArchiveInterval < 0 {
		return fmt.Errorf("config: invalid checkpoint.archive-interval: %d", c.Checkpoint.ArchiveInterval)
	}
	return nil
}

// EffectiveYAML renders the fully resolved configuration, overrides and
// derived values included, for the run-directory dump and the metrics store.
func (c *Config) EffectiveYAML() ([]byte, error) {
	out, err := yaml.Marshal(c.settings)
	if err != nil {
		return nil, fmt.Errorf("config: marshal effective config: %w", err)
	}
	return out, nil
}
