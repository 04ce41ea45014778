package entity

import "github.com/google/uuid"

// DetectionRequestMessage is the inbound message from the ppe.detection queue.
type DetectionRequestMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	FileSize  int64     `json:"file_size"`
	UserEmail string    `json:"user_email"`
}

// DetectionStatusMessage is the outbound message published to the ppe.status queue.
type DetectionStatusMessage struct {
	JobID            uuid.UUID      `json:"job_id"`
	UserID           string         `json:"user_id"`
	Status           JobStatus      `json:"status"`
	VideoKey         string         `json:"video_key"`
	ResultKey        string         `json:"result_key,omitempty"`
	FrameCount       int            `json:"frame_count,omitempty"`
	FramesFailed     int            `json:"frames_failed,omitempty"`
	CumulativeCounts map[string]int `json:"cumulative_counts,omitempty"`
	Duration         float64        `json:"duration_seconds,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Attempt          int            `json:"attempt"`
	MaxAttempts      int            `json:"max_attempts"`
}

// FrameLogMessage is one record of the live log stream, published to the
// ppe.frames queue in strictly ascending frame order. The UI log view
// renders these directly.
type FrameLogMessage struct {
	JobID       uuid.UUID      `json:"job_id"`
	FrameIndex  int            `json:"frame_index"`
	ClassCounts map[string]int `json:"class_counts"`
	Warning     string         `json:"warning,omitempty"`
}
