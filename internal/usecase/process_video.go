package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/safevision/ppe-detection-service/internal/domain/entity"
	"github.com/safevision/ppe-detection-service/internal/domain/port"
	"github.com/safevision/ppe-detection-service/internal/infra/metrics"
	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

// DetectVideoUseCase consumes one detection request: download the uploaded
// video, run the detection pipeline over it, upload the annotated MP4, and
// report job state all the way through.
type DetectVideoUseCase struct {
	repo       port.JobRepository
	storage    port.VideoStorage
	source     pipeline.FrameSource
	detector   pipeline.Detector
	writer     pipeline.WriterOpener
	transcoder pipeline.Transcoder
	publisher  port.StatusPublisher
	frameLogs  port.FrameLogPublisher
	dlq        port.DLQPublisher
	notifier   port.FailureNotifier
	logger     *zap.Logger
	cfg        DetectVideoConfig
}

type DetectVideoConfig struct {
	TempDir          string
	MaxRetries       int
	InferenceWorkers int
	FallbackFPS      float64
}

func NewDetectVideoUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	source pipeline.FrameSource,
	detector pipeline.Detector,
	writer pipeline.WriterOpener,
	transcoder pipeline.Transcoder,
	publisher port.StatusPublisher,
	frameLogs port.FrameLogPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg DetectVideoConfig,
) *DetectVideoUseCase {
	return &DetectVideoUseCase{
		repo:       repo,
		storage:    storage,
		source:     source,
		detector:   detector,
		writer:     writer,
		transcoder: transcoder,
		publisher:  publisher,
		frameLogs:  frameLogs,
		dlq:        dlq,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

func (uc *DetectVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "DetectVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.DetectionRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runDetection(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *DetectVideoUseCase) runDetection(
	ctx context.Context,
	job *entity.Job,
	msg entity.DetectionRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download video from MinIO
	dlStart := time.Now()
	dlCtx, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input"+filepath.Ext(msg.VideoKey))
	if err := uc.storage.DownloadVideo(dlCtx, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Run the detection pipeline
	detStart := time.Now()
	detCtx, spanDet := tracer.Start(ctx, "detect_and_encode")
	outputPath := filepath.Join(workDir, "annotated.mp4")

	run, err := pipeline.New(pipeline.Options{
		Source:      uc.source,
		Detector:    uc.detector,
		Writer:      uc.writer,
		Transcoder:  uc.transcoder,
		Logger:      log,
		Sink:        uc.frameLogSink(detCtx, job, log),
		Workers:     uc.cfg.InferenceWorkers,
		FallbackFPS: uc.cfg.FallbackFPS,
	})
	if err != nil {
		spanDet.End()
		return fmt.Errorf("build pipeline: %w", err)
	}

	result, err := run.Run(detCtx, videoPath, outputPath)
	if err != nil {
		spanDet.End()
		summary := run.Summary()
		log.Error("detection pipeline failed",
			zap.String("kind", string(pipeline.KindOf(err))),
			zap.Int("frames_processed", summary.FramesProcessed),
			zap.Error(err),
		)
		if pipeline.KindOf(err) == pipeline.KindUnreadableVideo {
			// Retrying will not make a corrupt upload decodable.
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, err.Error())
		}
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "pipeline: "+err.Error(), log)
	}
	spanDet.End()
	metrics.JobProcessingDuration.WithLabelValues("detect").Observe(time.Since(detStart).Seconds())

	// Upload annotated MP4 to MinIO
	upStart := time.Now()
	upCtx, spanUp := tracer.Start(ctx, "upload_result")
	resultKey := fmt.Sprintf("%s/annotated_%s.mp4", msg.UserID, job.ID.String())
	resultFile, err := os.Open(result.Artifact.Path)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_result: "+err.Error(), log)
	}
	resultStat, _ := resultFile.Stat()
	if err := uc.storage.UploadResult(upCtx, resultKey, resultFile, resultStat.Size()); err != nil {
		resultFile.Close()
		spanUp.End()
		log.Error("result upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_result: "+err.Error(), log)
	}
	resultFile.Close()
	spanUp.End()
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	// Mark completed
	summary := result.Summary
	job.MarkCompleted(resultKey, summary.FramesProcessed, summary.FramesFailed,
		summary.CumulativeCounts, result.Artifact.Duration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)
	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()

	log.Info("job completed successfully",
		zap.Int("frames_processed", summary.FramesProcessed),
		zap.Int("frames_failed", summary.FramesFailed),
		zap.Float64("duration_secs", result.Artifact.Duration),
		zap.String("result_key", resultKey),
	)

	return nil
}

// frameLogSink forwards each frame record to the live log queue and the
// frame-level metrics. Records arrive in ascending frame order and are
// published in that order.
func (uc *DetectVideoUseCase) frameLogSink(ctx context.Context, job *entity.Job, log *zap.Logger) pipeline.LogSink {
	return func(rec pipeline.FrameLog) {
		if rec.Warning != "" {
			metrics.FramesFailedTotal.Inc()
		} else {
			metrics.FramesProcessedTotal.Inc()
			for class, n := range rec.ClassCounts {
				metrics.DetectionsTotal.WithLabelValues(class).Add(float64(n))
			}
		}

		data, err := json.Marshal(entity.FrameLogMessage{
			JobID:       job.ID,
			FrameIndex:  rec.FrameIndex,
			ClassCounts: rec.ClassCounts,
			Warning:     rec.Warning,
		})
		if err != nil {
			return
		}
		if err := uc.frameLogs.PublishFrameLog(ctx, data); err != nil {
			log.Warn("failed to publish frame log", zap.Int("frame", rec.FrameIndex), zap.Error(err))
		}
	}
}

func (uc *DetectVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.DetectionRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *DetectVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.DetectionRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *DetectVideoUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.DetectionStatusMessage{
		JobID:            job.ID,
		UserID:           job.UserID,
		Status:           job.Status,
		VideoKey:         job.VideoKey,
		ResultKey:        job.ResultKey,
		FrameCount:       job.FrameCount,
		FramesFailed:     job.FramesFailed,
		CumulativeCounts: job.CumulativeCounts,
		Duration:         job.VideoDuration,
		ErrorMessage:     job.ErrorMessage,
		Attempt:          job.Attempt,
		MaxAttempts:      job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
