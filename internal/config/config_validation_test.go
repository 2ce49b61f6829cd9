package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := seededConfig()
	cfg.Data.Dir = "./data"
	applyDefaults(&cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing data dir", mutate: func(c *Config) { c.Data.Dir = "" }, wantErr: "data.dir is required"},
		{name: "image size too large", mutate: func(c *Config) { c.Data.ImageSize = 1024 }, wantErr: "data.image_size"},
		{name: "negative batch size", mutate: func(c *Config) { c.Data.BatchSize = -1 }, wantErr: "data.batch_size"},
		{name: "too many workers", mutate: func(c *Config) { c.Data.NumWorkers = 1000 }, wantErr: "data.num_workers"},
		{name: "short norm mean", mutate: func(c *Config) { c.Data.NormMean = []float64{0.5} }, wantErr: "data.norm_mean"},
		{name: "zero norm std", mutate: func(c *Config) { c.Data.NormStd = []float64{0.2, 0, 0.2} }, wantErr: "data.norm_std[1]"},
		{name: "flip probability above one", mutate: func(c *Config) { c.Data.HFlipProb = 1.5 }, wantErr: "data.hflip_prob"},
		{name: "unknown arch", mutate: func(c *Config) { c.Model.Arch = "resnet50" }, wantErr: "model.arch"},
		{name: "single epoch", mutate: func(c *Config) { c.Training.Epochs = 1 }, wantErr: "training.epochs"},
		{name: "freeze equals epochs", mutate: func(c *Config) { c.Training.FreezeEpochs = 100 }, wantErr: "training.freeze_epochs"},
		{name: "negative freeze", mutate: func(c *Config) { c.Training.FreezeEpochs = -1 }, wantErr: "training.freeze_epochs"},
		{name: "negative lr", mutate: func(c *Config) { c.Training.LRFull = -1 }, wantErr: "training.lr_full"},
		{name: "negative weight decay", mutate: func(c *Config) { c.Training.WeightDecay = -0.1 }, wantErr: "training.weight_decay"},
		{name: "smoothing of one", mutate: func(c *Config) { c.Training.LabelSmoothing = 1 }, wantErr: "training.label_smoothing"},
		{name: "pct start of one", mutate: func(c *Config) { c.Training.HeadPctStart = 1 }, wantErr: "training.head_pct_start"},
		{name: "negative patience", mutate: func(c *Config) { c.EarlyStopping.Patience = -2 }, wantErr: "early_stopping.patience"},
		{name: "negative min delta", mutate: func(c *Config) { c.EarlyStopping.MinDelta = -1e-3 }, wantErr: "early_stopping.min_delta"},
		{name: "unknown backend", mutate: func(c *Config) { c.Checkpoint.Backend = "gcs" }, wantErr: "checkpoint.backend"},
		{name: "s3 without bucket", mutate: func(c *Config) {
			c.Checkpoint.Backend = BackendS3
			c.Checkpoint.S3.Region = "us-east-1"
		}, wantErr: "checkpoint.s3.bucket"},
		{name: "s3 without region", mutate: func(c *Config) {
			c.Checkpoint.Backend = BackendS3
			c.Checkpoint.S3.Bucket = "models"
		}, wantErr: "checkpoint.s3.region"},
		{name: "valid s3", mutate: func(c *Config) {
			c.Checkpoint.Backend = BackendS3
			c.Checkpoint.S3.Bucket = "models"
			c.Checkpoint.S3.Region = "us-east-1"
		}},
		{name: "same slot names", mutate: func(c *Config) { c.Checkpoint.LastName = c.Checkpoint.BestName }, wantErr: "must differ"},
		{name: "slot name with directory", mutate: func(c *Config) { c.Checkpoint.BestName = "sub/best.ckpt" }, wantErr: "plain file name"},
		{name: "zero history size", mutate: func(c *Config) { c.Serve.HistorySize = 0 }, wantErr: "serve.history_size"},
		{name: "zero rate limit", mutate: func(c *Config) { c.Serve.RateLimitPerMinute = 0 }, wantErr: "serve.rate_limit_per_minute"},
		{name: "valid repo id", mutate: func(c *Config) { c.Publish.RepoID = "lamim/skin-b1" }},
		{name: "repo id without owner", mutate: func(c *Config) { c.Publish.RepoID = "skin-b1" }, wantErr: "publish.repo_id"},
		{name: "repo id with extra segment", mutate: func(c *Config) { c.Publish.RepoID = "a/b/c" }, wantErr: "publish.repo_id"},
		{name: "empty branch", mutate: func(c *Config) { c.Publish.Branch = "" }, wantErr: "publish.branch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestTotalFinetuneEpochs(t *testing.T) {
	tc := TrainingConfig{Epochs: 100, FreezeEpochs: 10}
	if got := tc.TotalFinetuneEpochs(); got != 90 {
		t.Errorf("TotalFinetuneEpochs() = %d, want 90", got)
	}
}
