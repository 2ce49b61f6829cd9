package serve

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lamim/dermaforge/internal/dataset"
	"github.com/lamim/dermaforge/pkg/models"
)

// HistoryResponse is the body of GET /api/v1/history
type HistoryResponse struct {
	Count int                 `json:"count"`
	Items []models.Prediction `json:"items"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status    string    `json:"status"`
	Epoch     int       `json:"epoch,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Classes   []string  `json:"classes,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	ImageSize int       `json:"image_size,omitempty"`
}

func (a *App) handlePredict() echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		if !a.limiter.Allow(c.RealIP()) {
			a.metrics.RecordPrediction("rate_limited", 0)
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}

		p := a.predictor.Load()
		if p == nil {
			a.metrics.RecordPrediction("error", 0)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "model not loaded")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			a.metrics.RecordPrediction("invalid", 0)
			return echo.NewHTTPError(http.StatusBadRequest, `multipart field "file" is required`)
		}
		if fh.Size > a.cfg.MaxUploadBytes {
			a.metrics.RecordPrediction("invalid", 0)
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
		}

		f, err := fh.Open()
		if err != nil {
			a.metrics.RecordPrediction("error", 0)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to read upload").SetInternal(err)
		}
		defer f.Close()

		img, err := dataset.Decode(f)
		if err != nil {
			a.metrics.RecordPrediction("invalid", 0)
			return echo.NewHTTPError(http.StatusBadRequest, "file is not a supported image").SetInternal(err)
		}

		pred, err := p.Predict(img)
		if err != nil {
			a.metrics.RecordPrediction("error", 0)
			return echo.NewHTTPError(http.StatusInternalServerError, "prediction failed").SetInternal(err)
		}
		pred.ID = uuid.NewString()
		pred.Filename = filepath.Base(fh.Filename)
		pred.CreatedAt = time.Now().UTC()

		a.history.Add(pred)
		a.metrics.RecordPrediction("success", time.Since(start))
		a.logger.Debug("Prediction served",
			"id", pred.ID,
			"label", pred.Label,
			"confidence", pred.Confidence,
			"model_epoch", p.Epoch())

		return c.JSON(http.StatusOK, pred)
	}
}

func (a *App) handleHistory() echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
			}
			limit = n
		}
		items := a.history.List(limit)
		return c.JSON(http.StatusOK, HistoryResponse{Count: len(items), Items: items})
	}
}

func (a *App) handleHealth() echo.HandlerFunc {
	return func(c echo.Context) error {
		p := a.predictor.Load()
		if p == nil {
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		}
		return c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Epoch:     p.Epoch(),
			RunID:     p.RunID(),
			Classes:   p.Classes(),
			LoadedAt:  p.LoadedAt(),
			ImageSize: p.ImageSize(),
		})
	}
}
