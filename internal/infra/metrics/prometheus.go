package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_jobs_processed_total",
		Help: "Total number of detection jobs processed, by status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ppe_job_processing_duration_seconds",
		Help:    "Duration of the detection pipeline, by stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppe_frames_processed_total",
		Help: "Total number of frames run through inference across all jobs",
	})

	FramesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppe_frames_failed_total",
		Help: "Total number of frames whose inference failed and were skipped",
	})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_detections_total",
		Help: "Total number of detections, by class label",
	}, []string{"class"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ppe_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
