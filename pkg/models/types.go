package models

import "time"

// StartupMode describes how a training session obtained its initial state
type StartupMode string

const (
	// StartupFresh starts from the model's default initialization in the head phase
	StartupFresh StartupMode = "fresh"
	// StartupResume continues from the LAST slot
	StartupResume StartupMode = "resume"
	// StartupWarm loads weights from BEST and fine-tunes from epoch 1
	StartupWarm StartupMode = "warm-start"
)

// EpochRecord is one line of the epoch history log
type EpochRecord struct {
	Epoch         int           `json:"epoch"`
	Phase         TrainingPhase `json:"phase"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_acc"`
	ValLoss       float64       `json:"val_loss"`
	ValAccuracy   float64       `json:"val_acc"`
	Precision     float64       `json:"precision"`
	Recall        float64       `json:"recall"`
	F1            float64       `json:"f1"`
	LearningRate  float64       `json:"lr"`
	Improved      bool          `json:"improved"`
	DurationMS    int64         `json:"duration_ms"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// RunStats summarizes a finished or interrupted training session
type RunStats struct {
	RunID           string
	Mode            StartupMode
	StartEpoch      int
	LastEpoch       int
	FinalPhase      TrainingPhase
	BestLoss        float64
	EarlyStopped    bool
	EpochsCompleted int
	StartTime       time.Time
	TotalDuration   time.Duration
}

// Prediction is the result of classifying one image
type Prediction struct {
	ID            string             `json:"id"`
	Filename      string             `json:"filename"`
	Label         string             `json:"label"`
	ClassIndex    int                `json:"class_index"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	CreatedAt     time.Time          `json:"created_at"`
}
