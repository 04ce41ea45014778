package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safevision/ppe-detection-service/internal/domain/entity"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	counts, err := marshalCounts(job.CumulativeCounts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO detection_jobs (
			id, user_id, video_key, result_key, status, frame_count,
			frames_failed, cumulative_counts, file_size, video_duration,
			attempt, max_attempts, error_message, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err = r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.ResultKey, string(job.Status),
		job.FrameCount, job.FramesFailed, counts, job.FileSize, job.VideoDuration,
		job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	counts, err := marshalCounts(job.CumulativeCounts)
	if err != nil {
		return err
	}

	query := `
		UPDATE detection_jobs SET
			status=$2, result_key=$3, frame_count=$4, frames_failed=$5,
			cumulative_counts=$6, video_duration=$7, attempt=$8,
			error_message=$9, updated_at=$10, completed_at=$11
		WHERE id=$1`

	_, err = r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.ResultKey, job.FrameCount, job.FramesFailed,
		counts, job.VideoDuration, job.Attempt,
		job.ErrorMessage, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, user_id, video_key, result_key, status, frame_count,
			frames_failed, cumulative_counts, file_size, video_duration,
			attempt, max_attempts, error_message, created_at, updated_at, completed_at
		FROM detection_jobs WHERE id=$1`

	job := &entity.Job{}
	var status string
	var counts []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.ResultKey, &status,
		&job.FrameCount, &job.FramesFailed, &counts, &job.FileSize, &job.VideoDuration,
		&job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &job.CumulativeCounts); err != nil {
			return nil, fmt.Errorf("decode cumulative counts: %w", err)
		}
	}
	return job, nil
}

func marshalCounts(counts map[string]int) ([]byte, error) {
	if counts == nil {
		counts = map[string]int{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return nil, fmt.Errorf("encode cumulative counts: %w", err)
	}
	return b, nil
}
