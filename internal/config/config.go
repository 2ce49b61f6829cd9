package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// Config represents the complete application configuration
type Config struct {
	Data          DataConfig          `toml:"data"`
	Model         ModelConfig         `toml:"model"`
	Training      TrainingConfig      `toml:"training"`
	EarlyStopping EarlyStoppingConfig `toml:"early_stopping"`
	Checkpoint    CheckpointConfig    `toml:"checkpoint"`
	Output        OutputConfig        `toml:"output"`
	Serve         ServeConfig         `toml:"serve"`
	Metrics       MetricsConfig       `toml:"metrics"`
	Publish       PublishConfig       `toml:"publish"`
}

// DataConfig holds dataset location and preprocessing settings
type DataConfig struct {
	Dir        string    `toml:"dir"`         // Root with train/<class>/ and val/<class>/
	ImageSize  int       `toml:"image_size"`  // Images are resized to image_size x image_size
	BatchSize  int       `toml:"batch_size"`  // Training and evaluation batch size
	NumWorkers int       `toml:"num_workers"` // Parallel image decoders at load time
	Seed       int64     `toml:"seed"`        // Seeds init, shuffling and augmentation
	NormMean   []float64 `toml:"norm_mean"`   // Per-channel RGB mean
	NormStd    []float64 `toml:"norm_std"`    // Per-channel RGB standard deviation
	HFlipProb  float64   `toml:"hflip_prob"`  // Probability of a random horizontal flip (0 disables)
}

// ModelConfig describes the classifier architecture
type ModelConfig struct {
	Arch         string `toml:"arch"`
	HiddenDim    int    `toml:"hidden_dim"`
	EmbeddingDim int    `toml:"embedding_dim"`
}

// TrainingConfig holds the two-phase schedule
type TrainingConfig struct {
	Epochs         int     `toml:"epochs"`          // Total epoch budget across both phases
	FreezeEpochs   int     `toml:"freeze_epochs"`   // Epochs trained in the head phase
	LRFrozen       float64 `toml:"lr_frozen"`       // Peak learning rate in the head phase
	LRFull         float64 `toml:"lr_full"`         // Peak learning rate in the finetune phase
	WeightDecay    float64 `toml:"weight_decay"`    // Decoupled weight decay for AdamW
	UseAMP         bool    `toml:"use_amp"`         // Enable dynamic loss scaling
	LabelSmoothing float64 `toml:"label_smoothing"` // Cross-entropy label smoothing
	HeadPctStart   float64 `toml:"head_pct_start"`  // Warm-up fraction of the head schedule
	FullPctStart   float64 `toml:"full_pct_start"`  // Warm-up fraction of the finetune schedule
}

// EarlyStoppingConfig controls the validation-loss monitor
type EarlyStoppingConfig struct {
	Patience int     `toml:"patience"`
	MinDelta float64 `toml:"min_delta"`
}

// Checkpoint backends
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

// CheckpointConfig selects where LAST and BEST live
type CheckpointConfig struct {
	Backend              string   `toml:"backend"`                 // filesystem or s3
	Dir                  string   `toml:"dir"`                     // Filesystem directory
	BestName             string   `toml:"best_name"`               // Object name of the BEST slot
	LastName             string   `toml:"last_name"`               // Object name of the LAST slot
	RemoveLastOnComplete bool     `toml:"remove_last_on_complete"` // Delete LAST after a run finishes cleanly
	S3                   S3Config `toml:"s3"`
}

// S3Config holds object storage settings for the s3 backend
type S3Config struct {
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	Region         string `toml:"region"`
	EndpointURL    string `toml:"endpoint_url"`     // Optional: S3-compatible endpoint (e.g. MinIO)
	ForcePathStyle bool   `toml:"force_path_style"` // Required by most S3-compatible endpoints
}

// OutputConfig controls per-run output directories
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// ServeConfig controls the inference server
type ServeConfig struct {
	ListenAddr         string `toml:"listen_addr"`
	HistorySize        int    `toml:"history_size"`          // Predictions kept for /api/v1/history
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"` // Predict requests per minute per client
	WatchBest          bool   `toml:"watch_best"`            // Reload the model when BEST is rewritten
	MaxUploadBytes     int64  `toml:"max_upload_bytes"`
}

// MetricsConfig controls the prometheus endpoint during training
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"` // Empty disables the endpoint
}

// PublishConfig controls uploading BEST to a Hugging Face model repository
type PublishConfig struct {
	RepoID       string `toml:"repo_id"`       // username/model-name
	Branch       string `toml:"branch"`        // Target revision
	Private      bool   `toml:"private"`       // Visibility when the repository is created
	Endpoint     string `toml:"endpoint"`      // Hub base URL
	CardTemplate string `toml:"card_template"` // Optional text/template file for README.md
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	HuggingFaceToken   string
}

// HasStaticAWSCredentials reports whether explicit S3 keys were provided
func (s *Secrets) HasStaticAWSCredentials() bool {
	return s.AWSAccessKeyID != "" && s.AWSSecretAccessKey != ""
}

// Architectures the reference classifier implements
var SupportedArchs = []string{"mlp_b1"}

const (
	// MaxImageSize bounds the resized image side
	MaxImageSize = 512
	// MaxNumWorkers is the maximum allowed decode workers
	MaxNumWorkers = 256
	// MaxEpochs is the maximum allowed epoch budget
	MaxEpochs = 100000
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.ImageSize < 1 || c.Data.ImageSize > MaxImageSize {
		return fmt.Errorf("data.image_size must be between 1 and %d (got %d)", MaxImageSize, c.Data.ImageSize)
	}
	if c.Data.BatchSize < 1 {
		return fmt.Errorf("data.batch_size must be at least 1")
	}
	if c.Data.NumWorkers < 1 || c.Data.NumWorkers > MaxNumWorkers {
		return fmt.Errorf("data.num_workers must be between 1 and %d (got %d)", MaxNumWorkers, c.Data.NumWorkers)
	}
	if len(c.Data.NormMean) != 3 {
		return fmt.Errorf("data.norm_mean must have 3 values (got %d)", len(c.Data.NormMean))
	}
	if len(c.Data.NormStd) != 3 {
		return fmt.Errorf("data.norm_std must have 3 values (got %d)", len(c.Data.NormStd))
	}
	for i, s := range c.Data.NormStd {
		if s <= 0 {
			return fmt.Errorf("data.norm_std[%d] must be positive (got %g)", i, s)
		}
	}
	if c.Data.HFlipProb < 0 || c.Data.HFlipProb > 1 {
		return fmt.Errorf("data.hflip_prob must be between 0 and 1 (got %g)", c.Data.HFlipProb)
	}

	if !slices.Contains(SupportedArchs, c.Model.Arch) {
		return fmt.Errorf("model.arch must be one of %v (got %q)", SupportedArchs, c.Model.Arch)
	}
	if c.Model.HiddenDim < 1 {
		return fmt.Errorf("model.hidden_dim must be at least 1")
	}
	if c.Model.EmbeddingDim < 1 {
		return fmt.Errorf("model.embedding_dim must be at least 1")
	}

	if err := c.Training.validate(); err != nil {
		return err
	}

	if c.EarlyStopping.Patience < 1 {
		return fmt.Errorf("early_stopping.patience must be at least 1 (got %d)", c.EarlyStopping.Patience)
	}
	if c.EarlyStopping.MinDelta < 0 {
		return fmt.Errorf("early_stopping.min_delta must be non-negative (got %g)", c.EarlyStopping.MinDelta)
	}

	if err := c.Checkpoint.validate(); err != nil {
		return err
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}

	if c.Serve.HistorySize < 1 {
		return fmt.Errorf("serve.history_size must be at least 1")
	}
	if c.Serve.RateLimitPerMinute < 1 {
		return fmt.Errorf("serve.rate_limit_per_minute must be at least 1")
	}
	if c.Serve.MaxUploadBytes < 1 {
		return fmt.Errorf("serve.max_upload_bytes must be at least 1")
	}

	if c.Publish.RepoID != "" {
		owner, name, ok := strings.Cut(c.Publish.RepoID, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("publish.repo_id must have the form 'username/model-name' (got %q)", c.Publish.RepoID)
		}
	}
	if c.Publish.Branch == "" {
		return fmt.Errorf("publish.branch is required")
	}

	return nil
}

func (t TrainingConfig) validate() error {
	if t.Epochs < 2 || t.Epochs > MaxEpochs {
		return fmt.Errorf("training.epochs must be between 2 and %d (got %d)", MaxEpochs, t.Epochs)
	}
	if t.FreezeEpochs < 1 || t.FreezeEpochs >= t.Epochs {
		return fmt.Errorf("training.freeze_epochs must be at least 1 and less than training.epochs (got %d, epochs %d)",
			t.FreezeEpochs, t.Epochs)
	}
	if t.LRFrozen <= 0 {
		return fmt.Errorf("training.lr_frozen must be positive")
	}
	if t.LRFull <= 0 {
		return fmt.Errorf("training.lr_full must be positive")
	}
	if t.WeightDecay < 0 {
		return fmt.Errorf("training.weight_decay must be non-negative")
	}
	if t.LabelSmoothing < 0 || t.LabelSmoothing >= 1 {
		return fmt.Errorf("training.label_smoothing must be in [0, 1) (got %g)", t.LabelSmoothing)
	}
	if t.HeadPctStart <= 0 || t.HeadPctStart >= 1 {
		return fmt.Errorf("training.head_pct_start must be in (0, 1) (got %g)", t.HeadPctStart)
	}
	if t.FullPctStart <= 0 || t.FullPctStart >= 1 {
		return fmt.Errorf("training.full_pct_start must be in (0, 1) (got %g)", t.FullPctStart)
	}
	return nil
}

func (c CheckpointConfig) validate() error {
	switch c.Backend {
	case BackendFilesystem:
		if c.Dir == "" {
			return fmt.Errorf("checkpoint.dir is required for the filesystem backend")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("checkpoint.s3.bucket is required for the s3 backend")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("checkpoint.s3.region is required for the s3 backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be %q or %q (got %q)", BackendFilesystem, BackendS3, c.Backend)
	}

	for key, name := range map[string]string{"best_name": c.BestName, "last_name": c.LastName} {
		if name == "" {
			return fmt.Errorf("checkpoint.%s is required", key)
		}
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("checkpoint.%s must be a plain file name (got %q)", key, name)
		}
	}
	if c.BestName == c.LastName {
		return fmt.Errorf("checkpoint.best_name and checkpoint.last_name must differ (both %q)", c.BestName)
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSSessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		HuggingFaceToken:   os.Getenv("HUGGING_FACE_TOKEN"),
	}
	if (secrets.AWSAccessKeyID == "") != (secrets.AWSSecretAccessKey == "") {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	return secrets, nil
}

// TotalFinetuneEpochs is the epoch budget of the finetune phase after a head phase
func (t TrainingConfig) TotalFinetuneEpochs() int {
	return t.Epochs - t.FreezeEpochs
}
