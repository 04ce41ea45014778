package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/safevision/ppe-detection-service/internal/infra/config"
	"github.com/safevision/ppe-detection-service/internal/infra/email"
	"github.com/safevision/ppe-detection-service/internal/infra/ffmpeg"
	"github.com/safevision/ppe-detection-service/internal/infra/metrics"
	miniostorage "github.com/safevision/ppe-detection-service/internal/infra/minio"
	"github.com/safevision/ppe-detection-service/internal/infra/postgres"
	"github.com/safevision/ppe-detection-service/internal/infra/rabbitmq"
	"github.com/safevision/ppe-detection-service/internal/infra/tracing"
	"github.com/safevision/ppe-detection-service/internal/infra/video"
	"github.com/safevision/ppe-detection-service/internal/infra/yolo"
	"github.com/safevision/ppe-detection-service/internal/usecase"
	"github.com/safevision/ppe-detection-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting ppe-detection-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     cfg.MinIOEndpoint,
		AccessKey:    cfg.MinIOAccessKey,
		SecretKey:    cfg.MinIOSecretKey,
		UseSSL:       cfg.MinIOUseSSL,
		UploadBucket: cfg.MinIOUploadBucket,
		ResultBucket: cfg.MinIOResultBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// Detection model. The service is useless without it, so a missing or
	// corrupt model file is fatal at startup rather than per job.
	engine, err := yolo.NewEngine(yolo.Config{
		ModelPath:           cfg.ModelPath,
		ClassNames:          cfg.ModelClassNames,
		ConfidenceThreshold: float32(cfg.ConfidenceThreshold),
		IoUThreshold:        float32(cfg.IoUThreshold),
		InputSize:           cfg.ModelInputSize,
	}, log)
	fatalOnErr(err, "load detection model")
	defer engine.Close()

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	frameLogPub := rabbitmq.NewFrameLogPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	source := video.NewSource()
	writerOpener := video.NewWriterOpener()
	transcoder := ffmpeg.NewTranscoder(time.Duration(cfg.TranscodeTimeoutSec)*time.Second, log)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewDetectVideoUseCase(
		repo, storage,
		source, engine, writerOpener, transcoder,
		statusPub, frameLogPub, dlqPub, notifier,
		log,
		usecase.DetectVideoConfig{
			TempDir:          cfg.TempDir,
			MaxRetries:       cfg.MaxRetries,
			InferenceWorkers: cfg.InferenceWorkers,
			FallbackFPS:      cfg.FallbackFPS,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Queue:         cfg.RabbitMQDetectionQueue,
		Exchange:      cfg.RabbitMQExchange,
		DLQ:           cfg.RabbitMQDLQ,
		StatusQueue:   cfg.RabbitMQStatusQueue,
		FrameLogQueue: cfg.RabbitMQFrameLogQueue,
		Prefetch:      cfg.RabbitMQPrefetch,
		WorkerCount:   cfg.WorkerCount,
		BaseDelayMs:   cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("ppe-detection-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("ppe-detection-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
