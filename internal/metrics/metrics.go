package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamim/dermaforge/pkg/models"
)

var (
	// Training metrics
	epochsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaforge_epochs_completed_total",
			Help: "Total number of completed training epochs by phase",
		},
		[]string{"phase"},
	)

	currentEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dermaforge_current_epoch",
			Help: "Epoch number of the most recently completed epoch",
		},
	)

	epochLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dermaforge_epoch_loss",
			Help: "Loss of the most recently completed epoch",
		},
		[]string{"split"}, // "train" or "val"
	)

	valMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dermaforge_val_metric",
			Help: "Validation metrics of the most recently completed epoch",
		},
		[]string{"metric"}, // "accuracy", "precision", "recall", "f1"
	)

	bestValLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dermaforge_best_val_loss",
			Help: "Best validation loss seen by the early-stopping monitor",
		},
	)

	learningRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dermaforge_learning_rate",
			Help: "Learning rate at the end of the most recent epoch",
		},
	)

	epochDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dermaforge_epoch_duration_seconds",
			Help:    "Wall time of one train+eval epoch by phase",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		},
		[]string{"phase"},
	)

	checkpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaforge_checkpoint_writes_total",
			Help: "Checkpoint writes by slot and outcome",
		},
		[]string{"slot", "status"},
	)

	checkpointWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dermaforge_checkpoint_write_duration_seconds",
			Help:    "Checkpoint write duration by slot",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"slot"},
	)

	// Serving metrics
	predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaforge_predictions_total",
			Help: "Prediction requests by outcome",
		},
		[]string{"status"}, // "success", "invalid", "error", "rate_limited"
	)

	predictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dermaforge_prediction_duration_seconds",
			Help:    "Decode, preprocess and forward time of one prediction",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
	)

	modelReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermaforge_model_reloads_total",
			Help: "Reloads of the serving model from the BEST slot",
		},
		[]string{"status"},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordEpoch records the outcome of a completed epoch
func (c *Collector) RecordEpoch(rec models.EpochRecord, duration time.Duration) {
	phase := string(rec.Phase)
	epochsCompleted.WithLabelValues(phase).Inc()
	currentEpoch.Set(float64(rec.Epoch))
	epochLoss.WithLabelValues("train").Set(rec.TrainLoss)
	epochLoss.WithLabelValues("val").Set(rec.ValLoss)
	valMetric.WithLabelValues("accuracy").Set(rec.ValAccuracy)
	valMetric.WithLabelValues("precision").Set(rec.Precision)
	valMetric.WithLabelValues("recall").Set(rec.Recall)
	valMetric.WithLabelValues("f1").Set(rec.F1)
	learningRate.Set(rec.LearningRate)
	epochDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetBestLoss records the monitor's best validation loss
func (c *Collector) SetBestLoss(loss float64) {
	bestValLoss.Set(loss)
}

// RecordCheckpointWrite records one write to a checkpoint slot
func (c *Collector) RecordCheckpointWrite(slot models.Slot, duration time.Duration, success bool) {
	checkpointWrites.WithLabelValues(string(slot), status(success)).Inc()
	if success {
		checkpointWriteDuration.WithLabelValues(string(slot)).Observe(duration.Seconds())
	}
}

// RecordPrediction records one prediction request. Durations are only
// observed for requests that reached the model.
func (c *Collector) RecordPrediction(outcome string, duration time.Duration) {
	predictions.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		predictionDuration.Observe(duration.Seconds())
	}
}

// RecordModelReload records a BEST reload attempt by the server
func (c *Collector) RecordModelReload(success bool) {
	modelReloads.WithLabelValues(status(success)).Inc()
}

// Handler exposes the default registry in the prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	c.logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
