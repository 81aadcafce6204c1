package monitoring

import (
	"log/slog"
	"os"
	"time"
)

// Logger provides structured logging with dashboard-specific helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON structured logger.
func NewLogger() *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{Logger: slog.New(handler)}
}

// RequestLogger logs HTTP request details.
func (l *Logger) RequestLogger(method, path, ip string, statusCode int, duration time.Duration) {
	l.Info("http request",
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// PredictionLogger logs one model prediction.
func (l *Logger) PredictionLogger(role string, predictedScore float64, atRisk bool, reasons int) {
	l.Info("prediction",
		"role", role,
		"predicted_score", predictedScore,
		"at_risk", atRisk,
		"reason_count", reasons,
	)
}

// FitLogger logs one model fit with its evaluation stats.
func (l *Logger) FitLogger(rows int, r2, rmse float64, duration time.Duration) {
	l.Info("model fit",
		"rows", rows,
		"r2", r2,
		"rmse", rmse,
		"duration_ms", duration.Milliseconds(),
	)
}

// AlertLogger logs one alert dispatch outcome.
func (l *Logger) AlertLogger(recipient string, success bool, err error) {
	if success {
		l.Info("alert dispatched", "recipient", recipient)
		return
	}
	l.Warn("alert dispatch failed", "recipient", recipient, "error", err)
}
