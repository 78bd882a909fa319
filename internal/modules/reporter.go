// internal/modules/reporter.go
package modules

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kaustavdm/watchme/internal/types"
)

const SubjectMetrics = "metrics.report"

// CycleRecorder persists finished cycles.
type CycleRecorder interface {
	SaveCycle(ctx context.Context, summary types.CycleSummary) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type Reporter struct {
	nc           *nats.Conn
	store        CycleRecorder
	logger       *zap.Logger
	metrics      map[string]TaskMetrics
	metricsMutex sync.RWMutex
	interval     time.Duration
	retention    int
}

type TaskMetrics struct {
	TotalTasks      int       `json:"total_tasks"`
	CompletedTasks  int       `json:"completed_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
	SkippedTasks    int       `json:"skipped_tasks"`
	FilesWritten    int       `json:"files_written"`
	AverageDuration float64   `json:"average_duration"`
	LastUpdated     time.Time `json:"last_updated"`
	TotalDuration   float64   `json:"-"` // Used for average calculation
}

// NewReporter builds a reporter. nc and store may be nil.
func NewReporter(nc *nats.Conn, store CycleRecorder, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		nc:        nc,
		store:     store,
		logger:    logger.Named("reporter"),
		metrics:   make(map[string]TaskMetrics),
		interval:  time.Minute,
		retention: 30,
	}
}

// SetRetention sets how many days of metrics and cycle history are kept.
func (r *Reporter) SetRetention(days int) {
	r.metricsMutex.Lock()
	defer r.metricsMutex.Unlock()
	if days > 0 {
		r.retention = days
	}
}

func (r *Reporter) Start(ctx context.Context) error {
	if r.nc != nil {
		// Subscribe to task status updates for metrics
		_, err := r.nc.Subscribe(SubjectTaskStatus, func(msg *nats.Msg) {
			var result types.TaskResult
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				r.logger.Error("failed to decode task result", zap.Error(err))
				return
			}
			r.Observe(result)
		})
		if err != nil {
			return err
		}

		go r.publishMetrics(ctx)
	}

	go r.cleanupMetrics(ctx)

	return nil
}

// Observe folds one task result into the daily metrics.
func (r *Reporter) Observe(result types.TaskResult) {
	r.metricsMutex.Lock()
	defer r.metricsMutex.Unlock()

	// Get current date as key for daily metrics
	dateKey := result.Timestamp.Format("2006-01-02")

	metrics, exists := r.metrics[dateKey]
	if !exists {
		metrics = TaskMetrics{
			LastUpdated: result.Timestamp,
		}
	}

	metrics.TotalTasks++
	metrics.LastUpdated = result.Timestamp
	metrics.TotalDuration += result.Duration
	metrics.AverageDuration = metrics.TotalDuration / float64(metrics.TotalTasks)
	metrics.FilesWritten += len(result.Files)

	switch result.Status {
	case types.TaskStatusCompleted:
		metrics.CompletedTasks++
	case types.TaskStatusFailed:
		metrics.FailedTasks++
	case types.TaskStatusSkipped:
		metrics.SkippedTasks++
	}

	r.metrics[dateKey] = metrics
}

// RecordCycle stores a finished cycle in the history store.
func (r *Reporter) RecordCycle(summary types.CycleSummary) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.store.SaveCycle(ctx, summary); err != nil {
		r.logger.Error("failed to record cycle", zap.String("cycle", summary.ID), zap.Error(err))
	}
}

func (r *Reporter) publishMetrics(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publish()
		}
	}
}

func (r *Reporter) publish() {
	if r.nc == nil {
		return
	}
	reportData, err := json.Marshal(r.GetMetrics())
	if err != nil {
		r.logger.Error("failed to encode metrics", zap.Error(err))
		return
	}
	if err := r.nc.Publish(SubjectMetrics, reportData); err != nil {
		r.logger.Error("failed to publish metrics", zap.Error(err))
	}
}

func (r *Reporter) cleanupMetrics(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(time.Now())
		}
	}
}

// prune keeps only the last retention days of metrics and history.
func (r *Reporter) prune(now time.Time) {
	r.metricsMutex.Lock()
	cutoffDate := now.AddDate(0, 0, -r.retention)
	for date := range r.metrics {
		if parsedDate, err := time.Parse("2006-01-02", date); err == nil {
			if parsedDate.Before(cutoffDate) {
				delete(r.metrics, date)
			}
		}
	}
	r.metricsMutex.Unlock()

	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := r.store.Prune(ctx, cutoffDate); err != nil {
		r.logger.Error("failed to prune cycle history", zap.Error(err))
	}
}

func (r *Reporter) GetMetrics() map[string]TaskMetrics {
	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()

	// Create a copy of metrics to return
	metrics := make(map[string]TaskMetrics)
	for date, metric := range r.metrics {
		metrics[date] = metric
	}

	return metrics
}

func (r *Reporter) Stop() error {
	// Publish final metrics before stopping
	r.publish()
	return nil
}
