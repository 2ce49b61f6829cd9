package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes TOML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Fields whose zero value is meaningful are seeded before decoding so
	// an explicit "false" or "0" in the file is kept.
	cfg := seededConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

func seededConfig() Config {
	return Config{
		Data: DataConfig{
			Seed:      DefaultSeed,
			HFlipProb: DefaultHFlipProb,
		},
		Training: TrainingConfig{
			WeightDecay:    DefaultWeightDecay,
			UseAMP:         true,
			LabelSmoothing: DefaultLabelSmoothing,
		},
		EarlyStopping: EarlyStoppingConfig{
			MinDelta: DefaultMinDelta,
		},
		Serve: ServeConfig{
			WatchBest: true,
		},
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Data.ImageSize == 0 {
		cfg.Data.ImageSize = DefaultImageSize
	}
	if cfg.Data.BatchSize == 0 {
		cfg.Data.BatchSize = DefaultBatchSize
	}
	if cfg.Data.NumWorkers == 0 {
		cfg.Data.NumWorkers = DefaultNumWorkers
	}
	if len(cfg.Data.NormMean) == 0 {
		cfg.Data.NormMean = append([]float64(nil), DefaultNormMean[:]...)
	}
	if len(cfg.Data.NormStd) == 0 {
		cfg.Data.NormStd = append([]float64(nil), DefaultNormStd[:]...)
	}

	if cfg.Model.Arch == "" {
		cfg.Model.Arch = DefaultArch
	}
	if cfg.Model.HiddenDim == 0 {
		cfg.Model.HiddenDim = DefaultHiddenDim
	}
	if cfg.Model.EmbeddingDim == 0 {
		cfg.Model.EmbeddingDim = DefaultEmbeddingDim
	}

	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = DefaultEpochs
	}
	if cfg.Training.FreezeEpochs == 0 {
		cfg.Training.FreezeEpochs = DefaultFreezeEpochs
	}
	if cfg.Training.LRFrozen == 0 {
		cfg.Training.LRFrozen = DefaultLRFrozen
	}
	if cfg.Training.LRFull == 0 {
		cfg.Training.LRFull = DefaultLRFull
	}
	if cfg.Training.HeadPctStart == 0 {
		cfg.Training.HeadPctStart = DefaultHeadPctStart
	}
	if cfg.Training.FullPctStart == 0 {
		cfg.Training.FullPctStart = DefaultFullPctStart
	}

	if cfg.EarlyStopping.Patience == 0 {
		cfg.EarlyStopping.Patience = DefaultPatience
	}

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = BackendFilesystem
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = DefaultCheckpointDir
	}
	if cfg.Checkpoint.BestName == "" {
		cfg.Checkpoint.BestName = DefaultBestName
	}
	if cfg.Checkpoint.LastName == "" {
		cfg.Checkpoint.LastName = DefaultLastName
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = DefaultOutputDir
	}

	if cfg.Serve.ListenAddr == "" {
		cfg.Serve.ListenAddr = DefaultServeAddr
	}
	if cfg.Serve.HistorySize == 0 {
		cfg.Serve.HistorySize = DefaultHistorySize
	}
	if cfg.Serve.RateLimitPerMinute == 0 {
		cfg.Serve.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.Serve.MaxUploadBytes == 0 {
		cfg.Serve.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if cfg.Publish.Branch == "" {
		cfg.Publish.Branch = DefaultPublishBranch
	}
	if cfg.Publish.Endpoint == "" {
		cfg.Publish.Endpoint = DefaultPublishEndpoint
	}
}
