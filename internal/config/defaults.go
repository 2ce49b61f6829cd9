package config

// Dataset statistics of the skin-lesion training set
var (
	DefaultNormMean = [3]float64{0.8189992308616638, 0.7863569855690002, 0.8062614798545837}
	DefaultNormStd  = [3]float64{0.20818482339382172, 0.20231850445270538, 0.20419003069400787}
)

const (
	DefaultImageSize  = 16
	DefaultBatchSize  = 32
	DefaultNumWorkers = 4
	DefaultSeed       = 42
	DefaultHFlipProb  = 0.5

	DefaultArch         = "mlp_b1"
	DefaultHiddenDim    = 512
	DefaultEmbeddingDim = 256

	DefaultEpochs         = 100
	DefaultFreezeEpochs   = 10
	DefaultLRFrozen       = 1e-3
	DefaultLRFull         = 1e-4
	DefaultWeightDecay    = 1e-4
	DefaultLabelSmoothing = 0.1
	DefaultHeadPctStart   = 0.3
	DefaultFullPctStart   = 0.1

	DefaultPatience = 8
	DefaultMinDelta = 1e-4

	DefaultCheckpointDir = "./checkpoints/skin2"
	DefaultBestName      = "best_skin.ckpt"
	DefaultLastName      = "last_skin.ckpt"

	DefaultOutputDir = "output"

	DefaultServeAddr          = ":8000"
	DefaultHistorySize        = 100
	DefaultRateLimitPerMinute = 600
	DefaultMaxUploadBytes     = 10 << 20

	DefaultPublishBranch   = "main"
	DefaultPublishEndpoint = "https://huggingface.co"
)

// GetDefaultConfigTemplate returns a commented starter configuration
func GetDefaultConfigTemplate() string {
	return `# dermaforge configuration

[data]
dir = "./data/skin"
image_size = 16
batch_size = 32
num_workers = 4
seed = 42
hflip_prob = 0.5

[model]
arch = "mlp_b1"
hidden_dim = 512
embedding_dim = 256

[training]
epochs = 100
freeze_epochs = 10
lr_frozen = 1e-3
lr_full = 1e-4
weight_decay = 1e-4
use_amp = true
label_smoothing = 0.1

[early_stopping]
patience = 8
min_delta = 1e-4

[checkpoint]
backend = "filesystem"
dir = "./checkpoints/skin2"
best_name = "best_skin.ckpt"
last_name = "last_skin.ckpt"
remove_last_on_complete = false

# [checkpoint.s3]
# bucket = "my-bucket"
# prefix = "skin2"
# region = "us-east-1"

[output]
dir = "output"

[serve]
listen_addr = ":8000"
history_size = 100
rate_limit_per_minute = 600
watch_best = true

[metrics]
# listen_addr = ":9090"

# Upload BEST with "dermaforge publish" (needs HUGGING_FACE_TOKEN)
[publish]
# repo_id = "username/skin-lesion-classifier"
branch = "main"
private = false
`
}
